package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Channel часть amqp091.Channel, нужная продюсеру
type Channel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) (*amqp091.DeferredConfirmation, error)
}

// Producer представляет продюсера сообщений
//
// Канал AMQP не потокобезопасен, поэтому публикации сериализуются
type Producer struct {
	mu      sync.Mutex
	channel Channel
	config  *Config
}

// NewProducer создает нового продюсера поверх подключения
func NewProducer(conn *Connection, config *Config) *Producer {
	var channel Channel
	if conn != nil && conn.Channel() != nil {
		channel = conn.Channel()
	}
	return NewProducerWithChannel(channel, config)
}

// NewProducerWithChannel создает продюсера поверх произвольного канала
func NewProducerWithChannel(channel Channel, config *Config) *Producer {
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = 5 * time.Second
	}
	return &Producer{channel: channel, config: config}
}

// Publish публикует сообщение и ждет подтверждения брокера, если канал в confirm mode
func (p *Producer) Publish(ctx context.Context, body []byte, options ...PublishOption) error {
	opts := &PublishOptions{
		Exchange:   p.config.Exchange,
		RoutingKey: p.config.RoutingKey,
	}
	for _, option := range options {
		option(opts)
	}

	if p.channel == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    opts.MessageID,
		Type:         opts.Type,
	}
	if len(opts.Headers) > 0 {
		msg.Headers = opts.Headers
	}

	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		opts.Exchange,
		opts.RoutingKey,
		false,
		false,
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	// Канал без confirm mode не возвращает подтверждение
	if confirm == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.config.ConfirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for confirmation: %w", err)
	}
	if !acked {
		return fmt.Errorf("message rejected by broker")
	}

	return nil
}

// PublishOptions представляет опции для публикации сообщения. Exchange берется из Config
type PublishOptions struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Type       string
	Headers    amqp091.Table
}

// PublishOption функция для настройки опций публикации
type PublishOption func(*PublishOptions)

// WithRoutingKey устанавливает routing key
func WithRoutingKey(routingKey string) PublishOption {
	return func(opts *PublishOptions) {
		opts.RoutingKey = routingKey
	}
}

// WithMessageID устанавливает идентификатор сообщения
func WithMessageID(id string) PublishOption {
	return func(opts *PublishOptions) {
		opts.MessageID = id
	}
}

// WithType устанавливает тип сообщения
func WithType(messageType string) PublishOption {
	return func(opts *PublishOptions) {
		opts.Type = messageType
	}
}

// WithHeaders устанавливает заголовки
func WithHeaders(headers amqp091.Table) PublishOption {
	return func(opts *PublishOptions) {
		opts.Headers = headers
	}
}
