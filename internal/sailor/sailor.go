package sailor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/sailor/internal/apiclient"
	"github.com/shaiso/sailor/internal/component"
	"github.com/shaiso/sailor/internal/config"
	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
	"github.com/shaiso/sailor/internal/mq"
	"github.com/shaiso/sailor/internal/repo"
	"github.com/shaiso/sailor/internal/telemetry"
)

// Default configuration values.
const defaultTimeout = 20 * time.Minute

// ControlPlane — методы control-plane API, которые использует sailor.
type ControlPlane interface {
	FetchStepData(ctx context.Context, flowID, stepID string) (*domain.StepData, error)
	UpdateAccountKeys(ctx context.Context, accountID string, keys any) error
}

// StartupStore хранит результат startup hook между запуском и остановкой flow.
type StartupStore interface {
	CreateStartupData(ctx context.Context, flowID string, data any) error
	GetStartupData(ctx context.Context, flowID string) (any, error)
	DeleteStartupData(ctx context.Context, flowID string) error
}

var (
	_ ControlPlane = (*apiclient.Client)(nil)
	_ StartupStore = (*apiclient.Client)(nil)
	_ StartupStore = (*repo.StartupStateRepo)(nil)
)

// Sailor обрабатывает сообщения одного шага flow.
type Sailor struct {
	settings config.Settings
	conn     *mq.Connection
	api      ControlPlane
	startup  StartupStore
	loader   *component.Loader
	logger   *slog.Logger

	step *StepState

	// inFlight — сообщения, для которых ещё не обработан end.
	inFlight atomic.Int64

	// wg — обработчики и фоновые дочитывания событий.
	wg sync.WaitGroup
}

// Config — конфигурация Sailor.
type Config struct {
	Settings config.Settings

	// MQ
	Conn *mq.Connection

	// Control-plane API
	API ControlPlane

	// Startup (опционально; если nil — API, если он реализует StartupStore)
	Startup StartupStore

	// Component
	Loader *component.Loader

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Sailor.
func New(cfg Config) *Sailor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settings := cfg.Settings
	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}

	startup := cfg.Startup
	if startup == nil {
		if store, ok := cfg.API.(StartupStore); ok {
			startup = store
		}
	}

	loader := cfg.Loader
	if loader == nil {
		loader = component.NewLoader(nil, nil)
	}

	return &Sailor{
		settings: settings,
		conn:     cfg.Conn,
		api:      cfg.API,
		startup:  startup,
		loader:   loader,
		logger:   telemetry.WithStep(logger, settings.FlowID, settings.StepID, settings.Function),
		step:     NewStepState(nil),
	}
}

// Prepare получает конфигурацию и snapshot шага.
func (s *Sailor) Prepare(ctx context.Context) error {
	data, err := s.api.FetchStepData(ctx, s.settings.FlowID, s.settings.StepID)
	if err != nil {
		return fmt.Errorf("fetch step data: %w", err)
	}
	s.step = NewStepState(data)

	s.logger.Info("step data loaded", "is_passthrough", data.IsPassthrough)
	return nil
}

// Startup вызывает startup hook и сохраняет его результат.
// Выполняется только при ELASTICIO_STARTUP_REQUIRED.
func (s *Sailor) Startup(ctx context.Context) error {
	if !s.settings.StartupRequired {
		s.logger.Debug("startup not required, skipping")
		return nil
	}

	fn, err := s.loadFunction()
	if err != nil {
		return err
	}

	store := s.startup
	if store == nil {
		return fmt.Errorf("%w: startup required but no startup store configured", ErrHook)
	}

	// Данные прошлого запуска flow больше не актуальны.
	if err := store.DeleteStartupData(ctx, s.settings.FlowID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete stale startup data: %w", err)
	}

	var data any
	if hook, ok := fn.(execution.StartupHook); ok {
		data, err = hook.Startup(ctx, s.step.Config())
		if err != nil {
			return fmt.Errorf("%w: startup: %v", ErrHook, err)
		}
	}
	if data == nil {
		data = map[string]any{}
	}

	if err := store.CreateStartupData(ctx, s.settings.FlowID, data); err != nil {
		return fmt.Errorf("store startup data: %w", err)
	}

	s.logger.Info("startup hook completed")
	return nil
}

// Init вызывает init hook функции, если он есть.
func (s *Sailor) Init(ctx context.Context) error {
	fn, err := s.loadFunction()
	if err != nil {
		return err
	}

	hook, ok := fn.(execution.Initializer)
	if !ok {
		return nil
	}
	if err := hook.Init(ctx, s.step.Config()); err != nil {
		return fmt.Errorf("%w: init: %v", ErrHook, err)
	}

	s.logger.Info("init hook completed")
	return nil
}

// Run потребляет очередь шага до отмены ctx.
func (s *Sailor) Run(ctx context.Context) error {
	s.logger.Info("starting sailor",
		"queue", s.settings.ListenMessagesOn,
		"prefetch", s.settings.Prefetch,
		"timeout", s.settings.Timeout,
	)

	err := s.conn.ListenQueue(ctx, s.settings.ListenMessagesOn, s.ProcessMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("listen queue: %w", err)
	}
	return nil
}

// Shutdown останавливает потребление, ждёт сообщений в обработке
// (не дольше ctx) и закрывает соединение.
func (s *Sailor) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping sailor...", "in_flight", s.InFlight())

	if err := s.conn.StopConsuming(); err != nil {
		s.logger.Warn("failed to cancel consumer", "error", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for in-flight messages: %w", ctx.Err())
		s.logger.Warn("shutdown deadline exceeded", "in_flight", s.InFlight())
	}

	if err := s.conn.Disconnect(); err != nil {
		return errors.Join(waitErr, err)
	}

	s.logger.Info("sailor stopped")
	return waitErr
}

// RunShutdownHook вызывает shutdown hook с сохранённым результатом startup
// и удаляет этот результат. Используется при остановке flow.
func (s *Sailor) RunShutdownHook(ctx context.Context) error {
	fn, err := s.loadFunction()
	if err != nil {
		return err
	}

	var data any
	if s.startup != nil {
		data, err = s.startup.GetStartupData(ctx, s.settings.FlowID)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("get startup data: %w", err)
		}
	}

	if hook, ok := fn.(execution.ShutdownHook); ok {
		if err := hook.Shutdown(ctx, s.step.Config(), data); err != nil {
			return fmt.Errorf("%w: shutdown: %v", ErrHook, err)
		}
		s.logger.Info("shutdown hook completed")
	}

	if s.startup != nil {
		if err := s.startup.DeleteStartupData(ctx, s.settings.FlowID); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete startup data: %w", err)
		}
	}
	return nil
}

// Wait ждёт завершения всех обработчиков и фоновых публикаций.
func (s *Sailor) Wait() {
	s.wg.Wait()
}

// InFlight возвращает число сообщений, для которых не обработан end.
func (s *Sailor) InFlight() int64 {
	return s.inFlight.Load()
}

// Step возвращает состояние шага.
func (s *Sailor) Step() *StepState {
	return s.step
}

func (s *Sailor) loadFunction() (any, error) {
	fn, err := s.loader.Load(s.settings.Function)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	return fn, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apiclient.ErrNotFound) || errors.Is(err, repo.ErrNotFound)
}
