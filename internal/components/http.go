package components

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/execution"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP — функция "http".
//
// Config (строки — шаблоны над входящим сообщением):
//   - method (string): HTTP-метод. Default: GET
//   - url (string): URL запроса (обязательно)
//   - headers (map[string]string): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON)
//   - timeout_sec (number): таймаут запроса. Default: 30
//
// Результат — сообщение с body {status_code, headers, body}.
// 429 и 5xx — rebound, остальные 4xx — ошибка.
type HTTP struct {
	// Client — HTTP клиент (default: http.DefaultClient).
	Client *http.Client
}

var (
	_ execution.Processor   = (*HTTP)(nil)
	_ execution.Initializer = (*HTTP)(nil)
)

// Init проверяет статическую часть конфигурации.
func (h *HTTP) Init(_ context.Context, cfg map[string]any) error {
	method := strings.ToUpper(getString(cfg, "method", http.MethodGet))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return nil
	}
	return fmt.Errorf("%w: unsupported method %q", ErrInvalidConfig, method)
}

// Process выполняет HTTP-запрос.
func (h *HTTP) Process(ctx context.Context, e execution.Emitter, msg *domain.Message, cfg, snapshot map[string]any) (any, error) {
	rendered, err := RenderConfig(cfg, NewTemplateContext(msg, snapshot))
	if err != nil {
		return nil, err
	}

	url := getString(rendered, "url", "")
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	method := strings.ToUpper(getString(rendered, "method", http.MethodGet))

	ctx, cancel := context.WithTimeout(ctx, getSeconds(rendered, "timeout_sec", defaultHTTPTimeout))
	defer cancel()

	var bodyReader io.Reader
	if body, ok := rendered["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	for key, val := range getStringMap(rendered, "headers") {
		req.Header.Set(key, val)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Временная ошибка: повтор через rebound.
		e.EmitRebound(&statusError{code: resp.StatusCode, body: truncate(string(respBody), 200)})
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(respBody), 200)}
	}

	out := domain.NewMessage(buildOutputs(resp, respBody))
	out.Attachments = msg.Attachments
	return out, nil
}

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

// statusError — ответ с кодом >= 400.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// Name — имя ошибки в error сообщении.
func (e *statusError) Name() string {
	return "HTTPError"
}

// buildOutputs формирует body из HTTP-ответа.
func buildOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Пробуем JSON, иначе строка
	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
