package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConnected = errors.New("rabbitmq: not connected")

// Publisher publishes chat events on a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher builds a supervised RabbitMQ publisher, or a noop publisher
// when AMQP is disabled. The supervisor dials in the background with
// capped exponential backoff and re-dials whenever the connection drops;
// publishes while disconnected fail with ErrNotConnected and are never
// retried here (events are telemetry, not the user path).
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Printf("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{}
	}

	p := &amqpPublisher{
		url:      amqpURL,
		exchange: exchange,
		done:     make(chan struct{}),
	}
	go p.supervise()
	return p
}

type amqpPublisher struct {
	url      string
	exchange string
	done     chan struct{}

	mu        sync.RWMutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	closeOnce sync.Once
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// supervise owns the connection lifecycle: dial, hand the channel to
// publishers, wait for close, repeat.
func (p *amqpPublisher) supervise() {
	backoff := initialBackoff
	for {
		select {
		case <-p.done:
			return
		default:
		}

		conn, ch, err := p.dial()
		if err != nil {
			log.Printf("rabbitmq dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-p.done:
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		p.mu.Lock()
		p.conn, p.ch = conn, ch
		p.mu.Unlock()
		log.Printf("rabbitmq connected exchange=%s", p.exchange)

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-p.done:
			_ = conn.Close()
			return
		case err := <-closed:
			log.Printf("rabbitmq connection lost: %v", err)
			p.mu.Lock()
			p.conn, p.ch = nil, nil
			p.mu.Unlock()
		}
	}
}

func (p *amqpPublisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	amqpHeaders := amqp.Table{}
	for key, value := range headers {
		amqpHeaders[key] = value
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqpHeaders,
	})
	if err != nil {
		log.Printf("rabbitmq publish failed: %v", err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	log.Printf("rabbitmq noop publish routing_key=%s", routingKey)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}
