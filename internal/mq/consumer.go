package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/domain"
	"github.com/shaiso/sailor/internal/telemetry"
)

// Handler — функция обработки сообщения.
// Возвращённая ошибка или panic приводят к reject без requeue.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — расшифрованный payload.
	Message *domain.Message

	// Raw — сырое AMQP сообщение. DeliveryTag — единственный handle для ack/reject.
	Raw amqp.Delivery

	settled atomic.Bool
}

// NewDelivery оборачивает сырое сообщение.
func NewDelivery(raw amqp.Delivery, msg *domain.Message) *Delivery {
	return &Delivery{Raw: raw, Message: msg}
}

// Settled сообщает, подтверждено или отклонено ли сообщение.
func (d *Delivery) Settled() bool {
	return d.settled.Load()
}

// Content — исходное (зашифрованное) содержимое сообщения.
func (d *Delivery) Content() []byte {
	return d.Raw.Body
}

// ListenQueue устанавливает prefetch и потребляет очередь до отмены ctx.
//
// Для каждого сообщения:
//  1. Расшифровка и парсинг; при ошибке — reject, обработчик не вызывается
//  2. reply_to из AMQP заголовков добавляется в headers payload
//  3. Вызов handler; ошибка или panic — reject
func (c *Connection) ListenQueue(ctx context.Context, queue string, handler Handler) error {
	if c.closing.Load() {
		return ErrNotConnected
	}

	if err := c.subscribe.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	tag := "sailor-" + uuid.NewString()
	deliveries, err := c.subscribe.Consume(
		queue, // queue
		tag,   // consumer tag
		false, // auto-ack (ack вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.mu.Lock()
	c.consumerTag = tag
	c.mu.Unlock()

	c.logger.Info("consumer started", "queue", queue, "prefetch", c.opts.Prefetch, "consumer_tag", tag)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				if c.closing.Load() || c.consumerCancelled() {
					return nil
				}
				return ErrDeliveriesClosed
			}

			c.handleDelivery(ctx, queue, raw, handler)
		}
	}
}

// StopConsuming отменяет consumer: брокер перестаёт доставлять новые сообщения,
// уже полученные можно подтвердить.
func (c *Connection) StopConsuming() error {
	c.mu.Lock()
	tag := c.consumerTag
	c.consumerTag = ""
	c.mu.Unlock()

	if tag == "" {
		return nil
	}

	c.logger.Info("stopping consumer", "consumer_tag", tag)
	return closeQuietly(func() error { return c.subscribe.Cancel(tag, false) })
}

func (c *Connection) consumerCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumerTag == ""
}

// handleDelivery обрабатывает одно сообщение.
func (c *Connection) handleDelivery(ctx context.Context, queue string, raw amqp.Delivery, handler Handler) {
	telemetry.MessagesReceived.Inc()

	logger := c.logger.With(
		"queue", queue,
		"delivery_tag", raw.DeliveryTag,
		"message_id", raw.MessageId,
	)

	d := NewDelivery(raw, nil)

	msg, err := c.decode(raw)
	if err != nil {
		// Повреждённое сообщение не доходит до компонента.
		logger.Error("failed to decode message", "error", err)
		c.rejectLogged(d)
		return
	}
	d.Message = msg

	defer func() {
		if r := recover(); r != nil {
			logger.Error("message handler panicked", "panic", r, "stack", string(debug.Stack()))
			c.rejectLogged(d)
		}
	}()

	if err := handler(ctx, d); err != nil {
		logger.Error("message handler failed", "error", err)
		c.rejectLogged(d)
	}
}

// decode расшифровывает и парсит содержимое сообщения.
func (c *Connection) decode(raw amqp.Delivery) (*domain.Message, error) {
	plain, err := c.cipher.Decrypt(string(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(plain), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	msg.EnsureHeaders()

	// Из AMQP заголовков в payload попадает только reply_to.
	if replyTo := tableString(raw.Headers, HeaderReplyTo); replyTo != "" {
		msg.Headers[HeaderReplyTo] = replyTo
	}

	return &msg, nil
}

// Ack подтверждает сообщение. Повторный ack или reject не отправляется.
func (c *Connection) Ack(d *Delivery) error {
	if !d.settled.CompareAndSwap(false, true) {
		c.logger.Warn("delivery already settled, ack skipped", "delivery_tag", d.Raw.DeliveryTag)
		return ErrAlreadySettled
	}

	if err := c.subscribe.Ack(d.Raw.DeliveryTag, false); err != nil {
		return fmt.Errorf("ack %d: %w", d.Raw.DeliveryTag, err)
	}

	telemetry.MessagesAcked.Inc()
	c.logger.Debug("message acknowledged", "delivery_tag", d.Raw.DeliveryTag)
	return nil
}

// Reject отклоняет сообщение без возврата в очередь.
// Повтор выполняется только явно, через rebound.
func (c *Connection) Reject(d *Delivery) error {
	if !d.settled.CompareAndSwap(false, true) {
		c.logger.Warn("delivery already settled, reject skipped", "delivery_tag", d.Raw.DeliveryTag)
		return ErrAlreadySettled
	}

	if err := c.subscribe.Reject(d.Raw.DeliveryTag, false); err != nil {
		return fmt.Errorf("reject %d: %w", d.Raw.DeliveryTag, err)
	}

	telemetry.MessagesRejected.Inc()
	c.logger.Debug("message rejected", "delivery_tag", d.Raw.DeliveryTag)
	return nil
}

func (c *Connection) rejectLogged(d *Delivery) {
	if err := c.Reject(d); err != nil && !errors.Is(err, ErrAlreadySettled) {
		c.logger.Error("failed to reject message", "delivery_tag", d.Raw.DeliveryTag, "error", err)
	}
}
