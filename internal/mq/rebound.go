package mq

import (
	"context"
	"math"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/telemetry"
)

// ReboundLimitMessage — текст ошибки при исчерпании повторов.
const ReboundLimitMessage = "Rebound limit exceeded"

// MaxReboundExpiration — верхняя граница expiration: брокер принимает
// не больше 32-битного числа миллисекунд.
const MaxReboundExpiration = time.Duration(math.MaxUint32) * time.Millisecond

// ReboundExpiration вычисляет задержку повторной доставки:
// initial * 2^(iteration-1), но не больше MaxReboundExpiration.
func ReboundExpiration(initial time.Duration, iteration int) time.Duration {
	if initial <= 0 {
		return 0
	}
	expiration := min(initial, MaxReboundExpiration)
	for i := 1; i < iteration; i++ {
		if expiration >= MaxReboundExpiration/2 {
			return MaxReboundExpiration
		}
		expiration *= 2
	}
	return expiration
}

// ReboundIteration читает номер предыдущей повторной доставки из заголовков.
// Отсутствующий или нечисловой заголовок — 0.
func ReboundIteration(headers amqp.Table) int {
	switch v := headers[HeaderReboundIteration].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// ReboundExhausted сообщает, что следующая повторная доставка original
// превысит лимит и будет заменена ошибкой.
func (c *Connection) ReboundExhausted(original *Delivery) bool {
	return ReboundIteration(original.Raw.Headers)+1 > c.opts.ReboundLimit
}

// SendRebound отправляет исходное сообщение на повторную доставку.
//
// Номер итерации = предыдущий + 1. Если он превышает лимит, сообщение уходит
// в error routing key с исходным содержимым в errorInput. Иначе исходное
// (всё ещё зашифрованное) содержимое публикуется в rebound routing key
// с expiration = initial * 2^(iteration-1). Возврат в основную очередь
// по истечении TTL обеспечивает топология брокера.
func (c *Connection) SendRebound(ctx context.Context, reason domain.ErrorInfo, original *Delivery, headers amqp.Table) error {
	iteration := ReboundIteration(original.Raw.Headers) + 1

	logger := c.logger.With(
		"delivery_tag", original.Raw.DeliveryTag,
		"rebound_iteration", iteration,
		"reason", reason.Message,
	)

	if c.ReboundExhausted(original) {
		logger.Warn("rebound limit exceeded", "limit", c.opts.ReboundLimit)
		telemetry.ReboundsExhausted.Inc()

		limitErr := domain.NormalizeError(ReboundLimitMessage)
		return c.SendError(ctx, limitErr, headers, original.Content())
	}

	expiration := ReboundExpiration(c.opts.ReboundInitialExpiration, iteration)

	h := cloneTable(headers)
	h[HeaderReboundIteration] = iteration

	raw := original.Raw
	pub := amqp.Publishing{
		ContentType:     raw.ContentType,
		ContentEncoding: raw.ContentEncoding,
		DeliveryMode:    raw.DeliveryMode,
		Priority:        raw.Priority,
		CorrelationId:   raw.CorrelationId,
		ReplyTo:         raw.ReplyTo,
		MessageId:       raw.MessageId,
		Type:            raw.Type,
		AppId:           raw.AppId,
		Headers:         h,
		Expiration:      strconv.FormatInt(expiration.Milliseconds(), 10),
		Body:            raw.Body,
	}

	logger.Info("rebounding message", "expiration_ms", expiration.Milliseconds())
	telemetry.Rebounds.Inc()

	c.send(ctx, kindRebound, Outgoing{
		Exchange:   c.opts.Topology.Exchange,
		RoutingKey: c.opts.Topology.ReboundRoutingKey,
		Mandatory:  true,
		Publishing: pub,
	})
	return nil
}
