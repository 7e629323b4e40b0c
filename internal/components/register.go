package components

import "github.com/shaiso/sailor/internal/component"

// Register добавляет встроенные функции в реестр: http, delay, transform.
func Register(r *component.Registry) {
	r.Register("http", &HTTP{})
	r.Register("delay", &Delay{})
	r.Register("transform", &Transform{})
}
