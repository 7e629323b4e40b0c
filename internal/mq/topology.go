package mq

import (
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Служебные заголовки.
const (
	// HeaderRoutingKey — переопределение routing key в headers сообщения.
	// Сравнивается без учёта регистра и никогда не попадает в тело.
	HeaderRoutingKey = "x-eio-routing-key"

	// HeaderReplyTo — routing key для синхронного ответа.
	HeaderReplyTo = "reply_to"

	// HeaderErrorResponse — маркер ошибки в ответе на reply_to.
	HeaderErrorResponse = "x-eio-error-response"

	// HeaderReboundIteration — номер повторной доставки.
	HeaderReboundIteration = "reboundIteration"

	// HeaderReboundReason — причина rebound.
	HeaderReboundReason = "reboundReason"
)

// Свойства публикации.
const (
	contentType     = "application/json"
	contentEncoding = "utf8"
)

// Topology — exchange и routing keys, в которые публикует sailor.
// Очереди и привязки создаются платформой.
type Topology struct {
	// Exchange — единый exchange для всех исходящих сообщений.
	Exchange string

	DataRoutingKey     string
	ErrorRoutingKey    string
	ReboundRoutingKey  string
	SnapshotRoutingKey string
}

// extractRoutingKey удаляет заголовок переопределения из headers
// и возвращает его значение. Пустая строка — переопределения нет.
func extractRoutingKey(headers map[string]string) string {
	var key string
	for name, value := range headers {
		if strings.EqualFold(name, HeaderRoutingKey) {
			if value != "" {
				key = value
			}
			delete(headers, name)
		}
	}
	return key
}

// extractTableRoutingKey — то же для AMQP заголовков.
func extractTableRoutingKey(headers amqp.Table) string {
	var key string
	for name, value := range headers {
		if strings.EqualFold(name, HeaderRoutingKey) {
			if s, ok := value.(string); ok && s != "" {
				key = s
			}
			delete(headers, name)
		}
	}
	return key
}

// resolveRoutingKey возвращает override, если он задан, иначе def.
func resolveRoutingKey(override, def string) string {
	if override != "" {
		return override
	}
	return def
}

// cloneTable копирует AMQP заголовки (неглубоко).
func cloneTable(t amqp.Table) amqp.Table {
	out := make(amqp.Table, len(t)+2)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// cloneHeaders копирует заголовки сообщения.
func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// tableString возвращает строковое значение заголовка.
func tableString(t amqp.Table, name string) string {
	switch v := t[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}
