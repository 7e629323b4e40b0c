package execution

import (
	"context"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/shaiso/sailor/internal/domain"
)

// eventBuffer — размер буфера канала событий.
const eventBuffer = 64

// Exec — выполнение функции компонента для одного сообщения.
//
// Жизненный цикл:
//
//	IDLE → RUNNING → TERMINAL
//
// Exec реализует Emitter. События передаются через канал, который
// закрывается после финального End. Читатель обязан вычитать канал
// до закрытия, иначе функция компонента заблокируется на Emit*.
type Exec struct {
	logger *slog.Logger

	mu    sync.Mutex
	state domain.ExecState

	// sendMu упорядочивает отправки и закрытие events. State не ждёт его,
	// даже когда emitter заблокирован на полном буфере.
	sendMu sync.Mutex
	closed bool
	events chan Event
}

var _ Emitter = (*Exec)(nil)

// New создаёт Exec в состоянии IDLE.
func New(logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		logger: logger,
		state:  domain.ExecStateIdle,
		events: make(chan Event, eventBuffer),
	}
}

// State возвращает текущее состояние.
func (e *Exec) State() domain.ExecState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Process запускает fn и возвращает канал событий.
//
// Если fn не реализует Processor, последовательность — [error, end],
// функция не вызывается. Повторный вызов Process возвращает тот же канал
// и ничего не запускает.
func (e *Exec) Process(ctx context.Context, fn any, msg *domain.Message, cfg, snapshot map[string]any) <-chan Event {
	if !e.transition(domain.ExecStateRunning) {
		e.logger.Warn("exec already started, process call ignored")
		return e.events
	}

	go e.run(ctx, fn, msg, cfg, snapshot)
	return e.events
}

func (e *Exec) run(ctx context.Context, fn any, msg *domain.Message, cfg, snapshot map[string]any) {
	defer e.finish()

	p, ok := fn.(Processor)
	if !ok || p == nil {
		e.EmitError(ErrProcessNotFound)
		return
	}

	result, err := e.invoke(ctx, p, msg, cfg, snapshot)
	if err != nil {
		e.EmitError(err)
		return
	}
	if !isEmpty(result) {
		e.EmitData(result)
	}
}

// invoke вызывает Process, превращая panic в ошибку со stack trace.
func (e *Exec) invoke(ctx context.Context, p Processor, msg *domain.Message, cfg, snapshot map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return p.Process(ctx, e, msg, cfg, snapshot)
}

// finish выпускает финальный End и закрывает канал.
func (e *Exec) finish() {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.events <- Event{Kind: KindEnd, Final: true}

	// TERMINAL виден до закрытия канала.
	e.mu.Lock()
	e.state = domain.ExecStateTerminal
	e.mu.Unlock()

	e.closed = true
	close(e.events)
}

func (e *Exec) transition(next domain.ExecState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.CanTransitionTo(next) {
		return false
	}
	e.state = next
	return true
}

// emit передаёт событие. После финального End события отбрасываются.
func (e *Exec) emit(kind Kind, payload any) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.closed {
		e.logger.Warn("event emitted after end, dropped", "kind", kind)
		return
	}
	e.events <- Event{Kind: kind, Payload: payload}
}

func (e *Exec) EmitData(data any) { e.emit(KindData, data) }
func (e *Exec) EmitError(err any) { e.emit(KindError, err) }
func (e *Exec) EmitRebound(reason any) { e.emit(KindRebound, reason) }
func (e *Exec) EmitSnapshot(snapshot any) { e.emit(KindSnapshot, snapshot) }
func (e *Exec) EmitUpdateSnapshot(delta any) { e.emit(KindUpdateSnapshot, delta) }
func (e *Exec) EmitUpdateKeys(keys any) { e.emit(KindUpdateKeys, keys) }
func (e *Exec) EmitHTTPReply(reply any) { e.emit(KindHTTPReply, reply) }
func (e *Exec) EmitEnd() { e.emit(KindEnd, nil) }

// isEmpty сообщает, что результат не нужно превращать в data.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
