// Package amqp publishes committed ledger events to a RabbitMQ exchange.
//
// Events go to a durable direct exchange with the event type as routing
// key ("grant.verified", "redemption.recorded", ...), so consumers bind
// queues only to the types they care about.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/logging"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher implements ledger.Publisher over AMQP 0-9-1.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	exchange string
	log      *logging.Logger
}

var _ ledger.Publisher = (*Publisher)(nil)

// Dial connects to url and declares the exchange.
func Dial(url, exchange string, log *logging.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, log *logging.Logger) *Publisher {
	if log == nil {
		log = logging.Nop()
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		log:      log.WithComponent(logging.ComponentAMQP),
	}
}

// Publish sends one event. It does not retry.
func (p *Publisher) Publish(ctx context.Context, ev ledger.Event) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,      // exchange
		string(ev.Type), // routing key
		false,           // mandatory
		false,           // immediate
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	p.log.DebugContext(ctx, "published ledger event",
		logging.FieldEvent, ev.Type,
		logging.FieldKind, ev.Kind,
		"exchange", p.exchange,
	)
	return nil
}

func encode(ev ledger.Event) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    ev.At,
		Body:         body,
	}, nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
