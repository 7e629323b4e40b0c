package component

import (
	"fmt"
)

// Loader находит реализацию функции компонента.
type Loader struct {
	registry   *Registry
	descriptor *Descriptor
}

// NewLoader создаёт Loader. descriptor может быть nil:
// тогда имя функции ищется прямо в registry.
func NewLoader(registry *Registry, descriptor *Descriptor) *Loader {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Loader{registry: registry, descriptor: descriptor}
}

// Descriptor возвращает описание компонента (может быть nil).
func (l *Loader) Descriptor() *Descriptor {
	return l.descriptor
}

// Load возвращает реализацию функции name.
func (l *Loader) Load(name string) (any, error) {
	if l.descriptor == nil {
		return l.registry.Get(name)
	}

	fn, ok := l.descriptor.Function(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not declared in %s", ErrFunctionNotFound, name, DescriptorFile)
	}

	impl, err := l.registry.Get(fn.Main)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (main %s): %v", ErrLoad, name, fn.Main, err)
	}
	return impl, nil
}
