package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"DiaryPlatform/pkg/rabbitmq"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Типы событий аудита
const (
	TypeUserRegistered  = "user.registered"
	TypeUserLoggedIn    = "user.logged_in"
	TypeAccountLocked   = "account.locked"
	TypePasswordChanged = "password.changed"
)

// Event событие аудита аутентификации
//
// Пароли, хеши, соли и токены в событие не попадают
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	UserID     string            `json:"userId"`
	Username   string            `json:"username"`
	SponsorID  string            `json:"sponsorId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Data       map[string]string `json:"data,omitempty"`
}

// Publisher отправляет события аудита
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// MessagePublisher часть rabbitmq.Producer, которую использует RabbitPublisher
type MessagePublisher interface {
	Publish(ctx context.Context, body []byte, options ...rabbitmq.PublishOption) error
}

// RabbitPublisher публикует события в RabbitMQ, routing key равен типу события.
// Заголовок sponsor_id позволяет привязывать очереди спонсоров через headers exchange
type RabbitPublisher struct {
	producer MessagePublisher
}

// NewRabbitPublisher создает RabbitPublisher поверх продюсера
func NewRabbitPublisher(producer MessagePublisher) *RabbitPublisher {
	return &RabbitPublisher{producer: producer}
}

// Publish сериализует событие в JSON и отправляет его
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.producer.Publish(ctx, body,
		rabbitmq.WithRoutingKey(event.Type),
		rabbitmq.WithMessageID(event.ID),
		rabbitmq.WithType(event.Type),
		rabbitmq.WithHeaders(amqp091.Table{"sponsor_id": event.SponsorID}),
	)
}

// NoopPublisher отбрасывает события, используется без RabbitMQ
type NoopPublisher struct{}

// Publish ничего не делает
func (NoopPublisher) Publish(context.Context, Event) error {
	return nil
}

// Recorder запоминает события в памяти, нужен для тестов и dev окружения
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish сохраняет событие
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	return nil
}

// Events возвращает копию сохраненных событий
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

// Types возвращает типы сохраненных событий по порядку
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, len(r.events))
	for i, event := range r.events {
		types[i] = event.Type
	}
	return types
}

// EventRecorder учитывает результаты публикации, его реализует metrics.Metrics
type EventRecorder interface {
	RecordEvent(eventType string, err error)
}

// InstrumentedPublisher считает опубликованные и потерянные события
type InstrumentedPublisher struct {
	next     Publisher
	recorder EventRecorder
}

// NewInstrumentedPublisher оборачивает publisher счетчиком публикаций
func NewInstrumentedPublisher(next Publisher, recorder EventRecorder) *InstrumentedPublisher {
	return &InstrumentedPublisher{next: next, recorder: recorder}
}

// Publish передает событие дальше и записывает результат
func (p *InstrumentedPublisher) Publish(ctx context.Context, event Event) error {
	err := p.next.Publish(ctx, event)
	p.recorder.RecordEvent(event.Type, err)
	return err
}
