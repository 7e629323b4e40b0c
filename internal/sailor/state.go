package sailor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/mq"
)

// StepState — конфигурация и snapshot шага в памяти.
//
// Snapshot — единственное состояние, которое переживает сообщение.
// Читатели получают глубокие копии.
type StepState struct {
	mu          sync.RWMutex
	config      map[string]any
	snapshot    map[string]any
	passthrough bool
}

// NewStepState создаёт StepState из данных API. data может быть nil.
func NewStepState(data *domain.StepData) *StepState {
	if data == nil {
		data = &domain.StepData{}
	}
	return &StepState{
		config:      domain.DeepCopy(data.Config),
		snapshot:    domain.DeepCopy(data.Snapshot),
		passthrough: data.IsPassthrough,
	}
}

// Config возвращает копию конфигурации.
func (s *StepState) Config() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.DeepCopy(s.config)
}

// Snapshot возвращает копию snapshot.
func (s *StepState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.DeepCopy(s.snapshot)
}

// IsPassthrough сообщает, нужно ли добавлять passthrough в data.
func (s *StepState) IsPassthrough() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passthrough
}

// ReplaceSnapshot заменяет snapshot целиком.
func (s *StepState) ReplaceSnapshot(snapshot map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = domain.DeepCopy(snapshot)
}

// MergeSnapshot сливает delta с snapshot по ключам верхнего уровня.
// Вложенные значения delta заменяют существующие целиком.
func (s *StepState) MergeSnapshot(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil {
		s.snapshot = make(map[string]any, len(delta))
	}
	for k, v := range domain.DeepCopy(delta) {
		s.snapshot[k] = v
	}
}

// messageState — execution context одного сообщения.
type messageState struct {
	delivery *mq.Delivery
	headers  amqp.Table
	logger   *slog.Logger
	span     trace.Span
	started  time.Time

	// errors — число событий error. Решает ack/reject при end.
	errors atomic.Int32

	// ended — end уже обработан.
	ended atomic.Bool

	// publishes — публикации, выпущенные функцией.
	publishes errgroup.Group
}

func newMessageState(d *mq.Delivery, headers amqp.Table, logger *slog.Logger, span trace.Span) *messageState {
	return &messageState{
		delivery: d,
		headers:  headers,
		logger:   logger,
		span:     span,
		started:  time.Now(),
	}
}

// outHeaders возвращает копию исходящих заголовков для одной публикации.
func (m *messageState) outHeaders() amqp.Table {
	out := make(amqp.Table, len(m.headers)+2)
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}
