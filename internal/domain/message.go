package domain

import (
	"encoding/json"
	"fmt"
)

// Message — расшифрованный payload сообщения.
//
// Входящее сообщение из очереди и исходящие data-сообщения имеют
// одинаковый формат: {id, headers, body, attachments, passthrough}.
type Message struct {
	// ID — идентификатор сообщения (если не задан, sailor генерирует uuid).
	ID string `json:"id,omitempty"`

	// Headers — заголовки сообщения.
	// Во входящем сообщении сюда добавляется только reply_to из AMQP заголовков.
	Headers map[string]string `json:"headers"`

	// Body — тело сообщения.
	Body any `json:"body"`

	// Attachments — вложения (url, content-type, size).
	Attachments map[string]any `json:"attachments,omitempty"`

	// Passthrough — данные предыдущих шагов (stepId → сообщение).
	Passthrough map[string]any `json:"passthrough,omitempty"`
}

// NewMessage создаёт сообщение с телом body.
func NewMessage(body any) *Message {
	return &Message{
		Headers: make(map[string]string),
		Body:    body,
	}
}

// EnsureHeaders инициализирует Headers, если они nil.
func (m *Message) EnsureHeaders() {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
}

// messageKeys — ключи, по которым объект распознаётся как Message.
var messageKeys = []string{"id", "headers", "body", "attachments", "passthrough"}

// ToMessage приводит произвольное значение, отправленное компонентом, к Message.
//
// Объект с ключами сообщения декодируется как Message, любое другое
// значение становится телом нового сообщения.
func ToMessage(v any) (*Message, error) {
	switch m := v.(type) {
	case nil:
		return NewMessage(nil), nil
	case *Message:
		m.EnsureHeaders()
		return m, nil
	case Message:
		m.EnsureHeaders()
		return &m, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Не объект — число, строка, массив.
		return NewMessage(v), nil
	}

	for _, key := range messageKeys {
		if _, ok := obj[key]; ok {
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			msg.EnsureHeaders()
			return &msg, nil
		}
	}

	return NewMessage(v), nil
}

// StepData — конфигурация шага, полученная из control-plane API.
type StepData struct {
	// Config — конфигурация функции компонента.
	Config map[string]any `json:"config"`

	// Snapshot — состояние шага между сообщениями.
	Snapshot map[string]any `json:"snapshot"`

	// IsPassthrough — добавлять ли passthrough в исходящие сообщения.
	IsPassthrough bool `json:"is_passthrough"`
}

// HTTPReply — ответ для синхронного webhook-вызова.
type HTTPReply struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body"`
}

// DeepCopy возвращает глубокую копию JSON-подобной структуры.
func DeepCopy(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	return copyValue(m).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

// ToObject приводит значение к map[string]any через JSON.
func ToObject(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}
	return out, nil
}
