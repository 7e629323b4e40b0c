package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/telemetry"
)

// Outgoing — сообщение для публикации. Создаётся заново на каждое событие.
type Outgoing struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Publishing amqp.Publishing
}

// Виды публикаций (label метрики).
const (
	kindData      = "data"
	kindError     = "error"
	kindReply     = "reply"
	kindHTTPReply = "http_reply"
	kindRebound   = "rebound"
	kindSnapshot  = "snapshot"
)

// SendToExchange публикует сообщение в publish канал.
// Ошибка публикации логируется и не пробрасывается.
func (c *Connection) SendToExchange(ctx context.Context, out Outgoing) {
	c.send(ctx, "raw", out)
}

func (c *Connection) send(ctx context.Context, kind string, out Outgoing) {
	err := c.publish.PublishWithContext(
		ctx,
		out.Exchange,   // exchange
		out.RoutingKey, // routing key
		out.Mandatory,  // mandatory
		false,          // immediate
		out.Publishing,
	)
	if err != nil {
		telemetry.PublishFailures.WithLabelValues(kind).Inc()
		c.logger.Error("failed to publish message",
			"kind", kind,
			"exchange", out.Exchange,
			"routing_key", out.RoutingKey,
			"error", fmt.Errorf("%w: %v", ErrPublish, err),
		)
		return
	}

	telemetry.MessagesPublished.WithLabelValues(kind).Inc()
	c.logger.Debug("published message",
		"kind", kind,
		"exchange", out.Exchange,
		"routing_key", out.RoutingKey,
	)
}

// publishing строит AMQP свойства для JSON payload.
func publishing(body []byte, headers amqp.Table) amqp.Publishing {
	return amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		Headers:         headers,
		Body:            body,
	}
}

// encryptJSON сериализует значение и шифрует результат.
func (c *Connection) encryptJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	enc, err := c.cipher.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	return enc, nil
}

// SendData публикует data-сообщение.
//
// Заголовок x-eio-routing-key из headers сообщения задаёт routing key
// и удаляется до шифрования, иначе используется data routing key.
func (c *Connection) SendData(ctx context.Context, msg *domain.Message, headers amqp.Table) error {
	out := *msg
	out.Headers = cloneHeaders(msg.Headers)
	override := extractRoutingKey(out.Headers)

	body, err := c.encryptJSON(out)
	if err != nil {
		return err
	}

	c.send(ctx, kindData, Outgoing{
		Exchange:   c.opts.Topology.Exchange,
		RoutingKey: resolveRoutingKey(override, c.opts.Topology.DataRoutingKey),
		Mandatory:  true,
		Publishing: publishing([]byte(body), headers),
	})
	return nil
}

// SendHTTPReply публикует ответ на синхронный вызов в routing key reply_to.
// Без reply_to возвращает ErrNoReplyTo и ничего не публикует.
func (c *Connection) SendHTTPReply(ctx context.Context, reply any, headers amqp.Table) error {
	replyTo := tableString(headers, HeaderReplyTo)
	if replyTo == "" {
		return ErrNoReplyTo
	}

	body, err := c.encryptJSON(reply)
	if err != nil {
		return err
	}

	c.send(ctx, kindHTTPReply, Outgoing{
		Exchange:   c.opts.Topology.Exchange,
		RoutingKey: replyTo,
		Mandatory:  true,
		Publishing: publishing([]byte(body), headers),
	})
	return nil
}

// errorPayload — тело сообщения в error routing key.
type errorPayload struct {
	Error      string `json:"error"`
	ErrorInput string `json:"errorInput,omitempty"`
}

// SendError публикует ошибку.
//
// В error routing key уходит {error, errorInput}, где оба поля зашифрованы;
// errorInput опускается, если исходного содержимого нет. Если в headers есть
// reply_to, зашифрованная ошибка дополнительно отправляется туда
// с заголовком x-eio-error-response.
func (c *Connection) SendError(ctx context.Context, info domain.ErrorInfo, headers amqp.Table, originalContent []byte) error {
	encErr, err := c.encryptJSON(info)
	if err != nil {
		return err
	}

	payload := errorPayload{Error: encErr}
	if len(originalContent) > 0 {
		input, err := c.cipher.Encrypt(string(originalContent))
		if err != nil {
			return fmt.Errorf("encrypt error input: %w", err)
		}
		payload.ErrorInput = input
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal error payload: %w", err)
	}

	errHeaders := cloneTable(headers)
	override := extractTableRoutingKey(errHeaders)

	c.send(ctx, kindError, Outgoing{
		Exchange:   c.opts.Topology.Exchange,
		RoutingKey: resolveRoutingKey(override, c.opts.Topology.ErrorRoutingKey),
		Mandatory:  true,
		Publishing: publishing(body, errHeaders),
	})

	if replyTo := tableString(errHeaders, HeaderReplyTo); replyTo != "" {
		replyHeaders := cloneTable(errHeaders)
		replyHeaders[HeaderErrorResponse] = true

		c.send(ctx, kindReply, Outgoing{
			Exchange:   c.opts.Topology.Exchange,
			RoutingKey: replyTo,
			Mandatory:  true,
			Publishing: publishing([]byte(encErr), replyHeaders),
		})
	}

	return nil
}

// SendSnapshot публикует snapshot шага. Snapshot не шифруется.
// Если значение не сериализуется, публикация пропускается.
func (c *Connection) SendSnapshot(ctx context.Context, snapshot any, headers amqp.Table) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("snapshot is not serializable, publish skipped", "error", err)
		return
	}

	c.send(ctx, kindSnapshot, Outgoing{
		Exchange:   c.opts.Topology.Exchange,
		RoutingKey: c.opts.Topology.SnapshotRoutingKey,
		Mandatory:  true,
		Publishing: publishing(body, headers),
	})
}
