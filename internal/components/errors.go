package components

import "errors"

// Ошибки встроенных функций.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse error")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render error")

	// ErrInvalidConfig — невалидная конфигурация функции.
	ErrInvalidConfig = errors.New("invalid function config")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)
