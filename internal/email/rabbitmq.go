package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// RabbitMQ publishes jobs to a durable queue bound to a direct exchange.
type RabbitMQ struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	queue    string
}

// NewRabbitMQ dials url and declares exchange and queue.
func NewRabbitMQ(url, exchange, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	r := &RabbitMQ{conn: conn, channel: channel, exchange: exchange, queue: queue}
	if err := r.setUp(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) setUp() error {
	if err := r.channel.ExchangeDeclare(r.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	if _, err := r.channel.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := r.channel.QueueBind(r.queue, r.queue, r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", r.queue, err)
	}
	return nil
}

// Publish sends body as a persistent JSON message routed to the email queue.
func (r *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.channel.PublishWithContext(ctx, r.exchange, r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	_ = r.channel.Close()
	return r.conn.Close()
}
