// Package amqp implements the AMQP publish/subscribe transport named by
// spec.md §6's `protocol.type: amq` and grounded on the original source's
// PubSubAMQP collaborator (spec.md §9, §4.5): each configured endpoint binds
// to exactly one exchange, declared as a topic exchange unless the endpoint's
// exchange_type names another.
package amqp

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/virtual-origami/pypersonnelloc/internal/config"
	"github.com/virtual-origami/pypersonnelloc/internal/obslog"
)

// Dial opens a connection and a channel to the broker at url. The returned
// cleanup closes both and should be deferred by the caller (the service
// loop's scoped-acquisition convention, SPEC_FULL.md §9).
func Dial(url string) (*amqp.Connection, *amqp.Channel, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, func() {}, obslog.NewTransportError("failed to dial AMQP broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, func() {}, obslog.NewTransportError("failed to open AMQP channel", err)
	}
	cleanup := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	return conn, ch, cleanup, nil
}

// Publisher publishes message bodies to a single declared exchange.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	binding  string
	log      *logrus.Entry
}

// NewPublisher declares cfg's exchange (topic unless cfg.ExchangeType is
// set; durable only when cfg.Durable is true) and returns a Publisher bound
// to it.
func NewPublisher(ch *amqp.Channel, cfg config.Endpoint, log *logrus.Entry) (*Publisher, error) {
	exchangeType := cfg.ExchangeType
	if exchangeType == "" {
		exchangeType = "topic"
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, exchangeType, cfg.Durable, false, false, false, nil); err != nil {
		return nil, obslog.NewTransportError(fmt.Sprintf("failed to declare exchange %q", cfg.ExchangeName), err)
	}
	return &Publisher{
		ch:       ch,
		exchange: cfg.ExchangeName,
		binding:  cfg.BindingName,
		log:      log.WithField("exchange", cfg.ExchangeName),
	}, nil
}

// Exchange returns the exchange name this publisher is bound to.
func (p *Publisher) Exchange() string { return p.exchange }

// Publish sends body to the bound exchange under the configured binding key.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, p.binding, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return obslog.NewTransportError(fmt.Sprintf("failed to publish to exchange %q", p.exchange), err)
	}
	p.log.Debug("published message")
	return nil
}

// Subscriber consumes messages from a single declared exchange/queue
// binding and hands raw bodies to a caller-supplied handler.
type Subscriber struct {
	ch       *amqp.Channel
	exchange string
	queue    string
	log      *logrus.Entry
}

// NewSubscriber declares cfg's exchange and a queue bound to it by
// BindingName (durable when cfg.Durable is true, otherwise exclusive and
// auto-deleted), ready for Run to start consuming.
func NewSubscriber(ch *amqp.Channel, cfg config.Endpoint, log *logrus.Entry) (*Subscriber, error) {
	exchangeType := cfg.ExchangeType
	if exchangeType == "" {
		exchangeType = "topic"
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, exchangeType, cfg.Durable, false, false, false, nil); err != nil {
		return nil, obslog.NewTransportError(fmt.Sprintf("failed to declare exchange %q", cfg.ExchangeName), err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, cfg.Durable, !cfg.Durable, !cfg.Durable, false, nil)
	if err != nil {
		return nil, obslog.NewTransportError(fmt.Sprintf("failed to declare queue %q", cfg.QueueName), err)
	}

	if err := ch.QueueBind(q.Name, cfg.BindingName, cfg.ExchangeName, false, nil); err != nil {
		return nil, obslog.NewTransportError(fmt.Sprintf("failed to bind queue %q to exchange %q", q.Name, cfg.ExchangeName), err)
	}

	return &Subscriber{
		ch:       ch,
		exchange: cfg.ExchangeName,
		queue:    q.Name,
		log:      log.WithField("exchange", cfg.ExchangeName),
	}, nil
}

// Exchange returns the exchange name this subscriber is bound to.
func (s *Subscriber) Exchange() string { return s.exchange }

// Run consumes deliveries until ctx is cancelled, invoking handler with each
// message body and the exchange/binding it arrived on, then acking the
// delivery. The handler returns no error, so a single malformed delivery
// cannot stop consumption (spec.md §4.3, §7).
func (s *Subscriber) Run(ctx context.Context, handler func(exchange, binding string, body []byte)) error {
	deliveries, err := s.ch.ConsumeWithContext(ctx, s.queue, "", false, false, false, false, nil)
	if err != nil {
		return obslog.NewTransportError(fmt.Sprintf("failed to consume from queue %q", s.queue), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return obslog.NewTransportError("AMQP delivery channel closed", nil)
			}
			handler(s.exchange, d.RoutingKey, d.Body)
			_ = d.Ack(false)
		}
	}
}
