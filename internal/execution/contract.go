package execution

import (
	"context"

	"github.com/shaiso/sailor/internal/domain"
)

// Processor — функция компонента.
//
// Process вызывается один раз на сообщение. Непустой результат становится
// событием data, ошибка — событием error. Функция может выпускать события
// через e в любой момент, в том числе из своих горутин после возврата.
type Processor interface {
	Process(ctx context.Context, e Emitter, msg *domain.Message, cfg, snapshot map[string]any) (any, error)
}

// ProcessFunc позволяет использовать обычную функцию как Processor.
type ProcessFunc func(ctx context.Context, e Emitter, msg *domain.Message, cfg, snapshot map[string]any) (any, error)

// Process вызывает f.
func (f ProcessFunc) Process(ctx context.Context, e Emitter, msg *domain.Message, cfg, snapshot map[string]any) (any, error) {
	return f(ctx, e, msg, cfg, snapshot)
}

// Необязательные hooks функции компонента.

// Initializer вызывается один раз перед началом потребления очереди.
type Initializer interface {
	Init(ctx context.Context, cfg map[string]any) error
}

// StartupHook вызывается при старте flow. Результат сохраняется
// и передаётся в ShutdownHook при остановке flow.
type StartupHook interface {
	Startup(ctx context.Context, cfg map[string]any) (any, error)
}

// ShutdownHook вызывается при остановке flow.
type ShutdownHook interface {
	Shutdown(ctx context.Context, cfg map[string]any, startupData any) error
}

// MetaModelProvider возвращает динамическую схему входа/выхода.
type MetaModelProvider interface {
	GetMetaModel(ctx context.Context, cfg map[string]any) (any, error)
}

// ModelSelector возвращает значения для динамических select-полей.
type ModelSelector interface {
	SelectModel(ctx context.Context, method string, cfg map[string]any) (any, error)
}

// CredentialVerifier проверяет учётные данные.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, cfg map[string]any) (bool, error)
}
