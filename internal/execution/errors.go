package execution

import (
	"errors"
	"fmt"
)

// ErrProcessNotFound — функция компонента не реализует Processor.
var ErrProcessNotFound = errors.New("Process function is not found")

// panicError — panic внутри функции компонента.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("component function panicked: %v", e.value)
}

// Stack возвращает stack trace горутины в момент panic.
func (e *panicError) Stack() string {
	return e.stack
}
