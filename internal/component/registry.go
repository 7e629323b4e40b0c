package component

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр реализаций функций компонента.
//
// Реализация — любое значение; sailor ожидает execution.Processor
// и необязательные hooks. Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]any
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		impls: make(map[string]any),
	}
}

// Register регистрирует реализацию под именем name.
// Если имя уже занято, реализация будет перезаписана.
func (r *Registry) Register(name string, impl any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[name] = impl
}

// Get возвращает реализацию по имени.
// Возвращает ErrFunctionNotFound, если имя не зарегистрировано.
func (r *Registry) Get(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, exists := r.impls[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	return impl, nil
}

// Has проверяет, зарегистрирована ли реализация.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.impls[name]
	return exists
}

// Names возвращает отсортированный список зарегистрированных имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.impls))
	for name := range r.impls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister удаляет реализацию из реестра.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.impls, name)
}
