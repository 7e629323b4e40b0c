package component

import "errors"

// Ошибки загрузки компонента.
var (
	// ErrFunctionNotFound — функция не объявлена в компоненте.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrLoad — функция объявлена, но реализация недоступна.
	ErrLoad = errors.New("failed to load component function")

	// ErrInvalidDescriptor — component.yaml не прошёл валидацию.
	ErrInvalidDescriptor = errors.New("invalid component descriptor")
)
