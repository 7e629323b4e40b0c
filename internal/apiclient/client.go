package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shaiso/sailor/internal/domain"
)

// Default configuration values.
const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 100 * time.Millisecond
	defaultTimeout       = 30 * time.Second
	maxErrorBody         = 512
)

// Config — конфигурация Client.
type Config struct {
	BaseURL  string
	Username string
	APIKey   string

	// RetryAttempts — общее число попыток запроса (default: 3).
	RetryAttempts int

	// RetryDelay — пауза между попытками (default: 100ms).
	RetryDelay time.Duration

	// HTTPClient (опционально; если nil — клиент с таймаутом 30s).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client — клиент control-plane API.
type Client struct {
	baseURL    string
	username   string
	apiKey     string
	attempts   int
	delay      time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент.
func New(cfg Config) *Client {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		attempts:   attempts,
		delay:      delay,
		httpClient: httpClient,
		logger:     logger,
	}
}

// --- Steps ---

// FetchStepData возвращает конфигурацию и snapshot шага.
func (c *Client) FetchStepData(ctx context.Context, flowID, stepID string) (*domain.StepData, error) {
	path := "/v1/tasks/" + url.PathEscape(flowID) + "/steps/" + url.PathEscape(stepID)

	var data domain.StepData
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	if data.Config == nil {
		data.Config = make(map[string]any)
	}
	if data.Snapshot == nil {
		data.Snapshot = make(map[string]any)
	}
	return &data, nil
}

// --- Accounts ---

// UpdateAccountKeys сохраняет ключи учётной записи.
func (c *Client) UpdateAccountKeys(ctx context.Context, accountID string, keys any) error {
	body := map[string]any{"keys": keys}
	return c.do(ctx, http.MethodPut, "/v1/accounts/"+url.PathEscape(accountID), body, nil)
}

// --- Startup data ---

func startupPath(flowID string) string {
	return "/sailor-support/hooks/task/" + url.PathEscape(flowID) + "/startup/data"
}

// CreateStartupData сохраняет результат startup hook.
func (c *Client) CreateStartupData(ctx context.Context, flowID string, data any) error {
	return c.do(ctx, http.MethodPost, startupPath(flowID), data, nil)
}

// GetStartupData возвращает результат startup hook.
// Если данных нет, возвращает ErrNotFound.
func (c *Client) GetStartupData(ctx context.Context, flowID string) (any, error) {
	var data any
	if err := c.do(ctx, http.MethodGet, startupPath(flowID), nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteStartupData удаляет результат startup hook. Отсутствие данных — не ошибка.
func (c *Client) DeleteStartupData(ctx context.Context, flowID string) error {
	err := c.do(ctx, http.MethodDelete, startupPath(flowID), nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// --- HTTP helpers ---

// do выполняет запрос с повторами и декодирует JSON ответ в result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(c.attempts-1)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		err := c.once(ctx, method, path, payload, result)
		if err == nil {
			return nil
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("api request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	return backoff.Retry(operation, policy)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, result any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.SetBasicAuth(c.username, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	// 204 No Content
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// retryable — транспортные ошибки и 5xx.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
