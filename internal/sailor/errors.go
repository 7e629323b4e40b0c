package sailor

import "errors"

// Ошибки sailor.
var (
	// ErrValidation — у сообщения нет обязательных заголовков
	// или оно адресовано другому flow. Сообщение отклоняется без публикации.
	ErrValidation = errors.New("message validation failed")

	// ErrLoad — функцию компонента не удалось загрузить.
	ErrLoad = errors.New("component function load failed")

	// ErrTask — функция компонента сообщила об ошибке.
	ErrTask = errors.New("task error")

	// ErrRebound — функция компонента запросила повтор.
	ErrRebound = errors.New("task rebound")

	// ErrHook — hook компонента (startup, init, shutdown) завершился ошибкой.
	ErrHook = errors.New("component hook failed")

	// ErrNoAccount — updateKeys без _account в конфигурации.
	ErrNoAccount = errors.New("no account id in step config")
)
