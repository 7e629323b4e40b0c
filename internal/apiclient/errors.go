package apiclient

import (
	"errors"
	"fmt"
)

// Ошибки клиента.
var (
	// ErrAPI — API вернул ошибку.
	ErrAPI = errors.New("api request failed")

	// ErrNotFound — ресурс не найден (HTTP 404).
	ErrNotFound = errors.New("resource not found")
)

// StatusError — ответ API с кодом >= 400.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is позволяет проверять StatusError через errors.Is(err, ErrAPI)
// и errors.Is(err, ErrNotFound).
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrAPI:
		return true
	case ErrNotFound:
		return e.StatusCode == 404
	}
	return false
}
