package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/sailor/internal/crypto"
)

// Channel — подмножество методов *amqp.Channel, которое использует транспорт.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Reject(tag uint64, requeue bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// Options — параметры транспорта.
type Options struct {
	// Topology — куда публиковать исходящие сообщения.
	Topology Topology

	// Prefetch — сколько сообщений брокер отдаёт без ack (default: 1).
	Prefetch int

	// ReboundLimit — максимальный номер повторной доставки (default: 20).
	ReboundLimit int

	// ReboundInitialExpiration — задержка первой повторной доставки (default: 15s).
	ReboundInitialExpiration time.Duration

	// OnFatal вызывается при разрыве соединения или канала.
	// По умолчанию — лог и os.Exit(1). Тесты подменяют.
	OnFatal func(error)
}

// defaultOptions заполняет незаданные поля Options.
var defaultOptions = Options{
	Prefetch:                 1,
	ReboundLimit:             20,
	ReboundInitialExpiration: 15 * time.Second,
}

// Connection — AMQP соединение с двумя каналами.
//
// Особенности:
//   - subscribe канал только потребляет и подтверждает сообщения
//   - publish канал только публикует
//   - переподключения нет: любой разрыв после Connect — fatal
type Connection struct {
	logger *slog.Logger
	cipher *crypto.Cipher
	opts   Options

	conn      *amqp.Connection
	subscribe Channel
	publish   Channel

	mu          sync.Mutex
	consumerTag string

	closing atomic.Bool
}

// Connect устанавливает соединение и открывает subscribe и publish каналы.
func Connect(ctx context.Context, uri string, logger *slog.Logger, cipher *crypto.Cipher, opts Options) (*Connection, error) {
	conn, err := amqp.DialConfig(uri, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}

	sub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open subscribe channel: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	c := NewWithChannels(sub, pub, logger, cipher, opts)
	c.conn = conn
	c.watch("connection", conn.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("connected to RabbitMQ")
	return c, nil
}

// NewWithChannels создаёт Connection поверх готовых каналов.
// Используется Connect и тестами.
func NewWithChannels(sub, pub Channel, logger *slog.Logger, cipher *crypto.Cipher, opts Options) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Prefetch < 0 {
		opts.Prefetch = 0
	}
	if err := mergo.Merge(&opts, defaultOptions); err != nil {
		logger.Warn("apply default transport options", "error", err)
	}
	if cipher == nil {
		cipher = crypto.New("", "")
	}

	c := &Connection{
		logger:    logger,
		cipher:    cipher,
		opts:      opts,
		subscribe: sub,
		publish:   pub,
	}
	if c.opts.OnFatal == nil {
		c.opts.OnFatal = c.exit
	}

	c.watch("subscribe channel", sub.NotifyClose(make(chan *amqp.Error, 1)))
	c.watch("publish channel", pub.NotifyClose(make(chan *amqp.Error, 1)))

	return c
}

// watch ждёт закрытия ресурса. Закрытие не через Disconnect — fatal.
func (c *Connection) watch(name string, notify chan *amqp.Error) {
	go func() {
		amqpErr, ok := <-notify
		if c.closing.Load() {
			return
		}

		err := fmt.Errorf("%w: %s closed unexpectedly", ErrTransportFatal, name)
		if ok && amqpErr != nil {
			err = fmt.Errorf("%w: %s closed: %v", ErrTransportFatal, name, amqpErr)
		}

		c.logger.Error("amqp resource closed", "resource", name, "error", err)
		c.opts.OnFatal(err)
	}()
}

// exit — OnFatal по умолчанию.
func (c *Connection) exit(err error) {
	c.logger.Error("terminating process", "error", err)
	os.Exit(1)
}

// Cipher возвращает шифр, которым транспорт шифрует payload.
func (c *Connection) Cipher() *crypto.Cipher {
	return c.cipher
}

// Disconnect закрывает subscribe канал, publish канал и соединение.
// Ошибка закрытия одного ресурса не мешает закрыть остальные;
// "уже закрыто" считается успехом.
func (c *Connection) Disconnect() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Info("disconnecting from RabbitMQ")

	var errs []error

	if err := closeQuietly(c.subscribe.Close); err != nil {
		errs = append(errs, fmt.Errorf("close subscribe channel: %w", err))
	}
	if err := closeQuietly(c.publish.Close); err != nil {
		errs = append(errs, fmt.Errorf("close publish channel: %w", err))
	}
	if c.conn != nil {
		if err := closeQuietly(c.conn.Close); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if len(errs) > 0 {
		c.logger.Warn("disconnect finished with errors", "error", errors.Join(errs...))
		return errors.Join(errs...)
	}

	c.logger.Info("disconnected from RabbitMQ")
	return nil
}

// closeQuietly вызывает fn и игнорирует amqp.ErrClosed.
func closeQuietly(fn func() error) error {
	if err := fn(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

// IsClosing сообщает, вызван ли Disconnect.
func (c *Connection) IsClosing() bool {
	return c.closing.Load()
}
