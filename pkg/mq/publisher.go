package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"taskapi/pkg/otel"
)

type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	// amqp091 channels are not safe for concurrent publishes.
	mu sync.Mutex
	// closed is set once the broker closes the channel or the connection.
	closed atomic.Bool
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := &Publisher{
		conn:    conn,
		channel: ch,
	}
	go p.watchClose(ch.NotifyClose(make(chan *amqp091.Error, 1)))
	go p.watchClose(conn.NotifyClose(make(chan *amqp091.Error, 1)))
	return p, nil
}

// watchClose marks the publisher closed when notify fires or is closed.
// A channel-level close (e.g. after a failed publish) leaves the
// connection open, so both notifications are watched.
func (p *Publisher) watchClose(notify <-chan *amqp091.Error) {
	<-notify
	p.closed.Store(true)
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected reports whether both the connection and the publishing
// channel are still open.
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil || p.closed.Load() {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// Publish publishes payload as JSON to the exchange with the given routing key.
// The trace context of ctx travels in the message headers.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, span := otel.MQPublishSpan(ctx, routingKey, ExchangeName)
	defer span.End()

	headers := amqp091.Table{}
	otel.InjectMQHeaders(ctx, headers)

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Headers:      headers,
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}
