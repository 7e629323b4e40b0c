package domain

import (
	"errors"
	"fmt"
)

// notAvailable — stack для ошибок без трассировки.
const notAvailable = "Not Available"

// ErrorInfo — нормализованная ошибка, которая публикуется в error exchange.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Error реализует интерфейс error.
func (e ErrorInfo) Error() string {
	return e.Message
}

// namer — ошибка с именем типа (например, "ValidationError").
type namer interface {
	Name() string
}

// stacker — ошибка с сохранённым stack trace.
type stacker interface {
	Stack() string
}

// NormalizeError приводит значение, отправленное как ошибка, к ErrorInfo.
// Значения, не являющиеся error, получают name="Error" и stack="Not Available".
func NormalizeError(v any) ErrorInfo {
	switch e := v.(type) {
	case nil:
		return ErrorInfo{Name: "Error", Message: "Unknown error", Stack: notAvailable}
	case ErrorInfo:
		return e
	case *ErrorInfo:
		return *e
	case error:
		info := ErrorInfo{Name: "Error", Message: e.Error(), Stack: notAvailable}

		var n namer
		if errors.As(e, &n) {
			info.Name = n.Name()
		}
		var s stacker
		if errors.As(e, &s) && s.Stack() != "" {
			info.Stack = s.Stack()
		}
		return info
	case string:
		return ErrorInfo{Name: "Error", Message: e, Stack: notAvailable}
	default:
		return ErrorInfo{Name: "Error", Message: fmt.Sprint(v), Stack: notAvailable}
	}
}
