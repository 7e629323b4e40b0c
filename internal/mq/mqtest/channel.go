// Package mqtest содержит in-memory реализацию mq.Channel для тестов.
package mqtest

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publish — зафиксированная публикация.
type Publish struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Msg        amqp.Publishing
}

// Channel — фейковый AMQP канал.
//
// Доставки подаются через Deliver, публикации, ack и reject записываются.
type Channel struct {
	mu sync.Mutex

	deliveries chan amqp.Delivery
	cancelled  bool
	closed     bool
	notify     []chan *amqp.Error

	prefetch  int
	consumer  string
	published []Publish
	acked     []uint64
	rejected  []uint64
	requeued  int

	// PublishErr возвращается из PublishWithContext, если задан.
	PublishErr error

	// PublishDelay задерживает каждую публикацию.
	PublishDelay time.Duration

	// CloseErr возвращается из Close, если задан.
	CloseErr error
}

// NewChannel создаёт канал с буфером доставок.
func NewChannel() *Channel {
	return &Channel{deliveries: make(chan amqp.Delivery, 16)}
}

// Deliver кладёт сообщение в канал доставок.
func (c *Channel) Deliver(d amqp.Delivery) {
	c.deliveries <- d
}

// Fail имитирует закрытие канала брокером.
func (c *Channel) Fail(err *amqp.Error) {
	c.mu.Lock()
	notify := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, ch := range notify {
		ch <- err
		close(ch)
	}
}

func (c *Channel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *Channel) Consume(_ string, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	c.consumer = consumer
	return c.deliveries, nil
}

func (c *Channel) Cancel(consumer string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return nil
	}
	if consumer != c.consumer {
		return errors.New("unknown consumer tag")
	}
	c.cancelled = true
	close(c.deliveries)
	return nil
}

func (c *Channel) Ack(tag uint64, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, tag)
	return nil
}

func (c *Channel) Reject(tag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, tag)
	if requeue {
		c.requeued++
	}
	return nil
}

func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, _ bool, msg amqp.Publishing) error {
	if c.PublishDelay > 0 {
		select {
		case <-time.After(c.PublishDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.published = append(c.published, Publish{
		Exchange:   exchange,
		RoutingKey: key,
		Mandatory:  mandatory,
		Msg:        msg,
	})
	return nil
}

func (c *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return amqp.ErrClosed
	}
	c.closed = true
	notify := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, ch := range notify {
		close(ch)
	}
	return c.CloseErr
}

// Published возвращает копию списка публикаций.
func (c *Channel) Published() []Publish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Publish(nil), c.published...)
}

// Acked возвращает delivery tags подтверждённых сообщений.
func (c *Channel) Acked() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.acked...)
}

// Rejected возвращает delivery tags отклонённых сообщений.
func (c *Channel) Rejected() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.rejected...)
}

// Requeued — сколько reject было с requeue=true.
func (c *Channel) Requeued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requeued
}

// Prefetch — последнее значение Qos.
func (c *Channel) Prefetch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetch
}

// Closed сообщает, вызван ли Close.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WaitSettled ждёт, пока число ack+reject достигнет n.
func (c *Channel) WaitSettled(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		settled := len(c.acked) + len(c.rejected)
		c.mu.Unlock()
		if settled >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// WaitPublished ждёт, пока число публикаций достигнет n.
func (c *Channel) WaitPublished(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		count := len(c.published)
		c.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
