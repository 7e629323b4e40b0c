package mq

import (
	"errors"
	"fmt"
)

// Ошибки транспорта.
var (
	// ErrConfiguration — публикация невозможна из-за конфигурации сообщения.
	ErrConfiguration = errors.New("configuration error")

	// ErrNoReplyTo — httpReply без заголовка reply_to.
	ErrNoReplyTo = fmt.Errorf("%w: httpReply event emitted but no reply-to is available", ErrConfiguration)

	// ErrPublish — брокер не принял публикацию. Только логируется.
	ErrPublish = errors.New("publish failed")

	// ErrTransportFatal — соединение или канал закрылись после connect.
	ErrTransportFatal = errors.New("amqp transport failure")

	// ErrAlreadySettled — сообщение уже подтверждено или отклонено.
	ErrAlreadySettled = errors.New("delivery already settled")

	// ErrNotConnected — операция до Connect или после Disconnect.
	ErrNotConnected = errors.New("not connected")

	// ErrDeliveriesClosed — брокер закрыл канал доставки.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")

	// ErrDecode — содержимое сообщения не расшифровывается или не парсится.
	ErrDecode = errors.New("cannot decode message content")
)
