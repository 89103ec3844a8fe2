// Package amqp is the RabbitMQ push transport. Event notifications are
// published on a topic exchange with routing keys event.updated.<id> and
// event.deleted.<id>; joining a group binds both keys to a private queue.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "city.events"

	prefixUpdated = "event.updated."
	prefixDeleted = "event.deleted."
)

type Transport struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string

	mu   sync.Mutex // serialises channel operations
	in   chan live.Notification
	done chan struct{}
	once sync.Once
}

func Dial(url, exchange string) (*Transport, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// server-named, exclusive, auto-delete: gone when this client disconnects
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	t := &Transport{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    q.Name,
		in:       make(chan live.Notification, 64),
		done:     make(chan struct{}),
	}
	go t.consume(msgs)

	logger.Component("amqp").Info().
		Str("queue", q.Name).
		Str("exchange", exchange).
		Msg("push consumer started")
	return t, nil
}

func routingKeys(eventID string) []string {
	return []string{prefixUpdated + eventID, prefixDeleted + eventID}
}

func (t *Transport) JoinGroup(_ context.Context, eventID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range routingKeys(eventID) {
		if err := t.ch.QueueBind(t.queue, key, t.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}
	return nil
}

func (t *Transport) LeaveGroup(_ context.Context, eventID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range routingKeys(eventID) {
		if err := t.ch.QueueUnbind(t.queue, key, t.exchange, nil); err != nil {
			return fmt.Errorf("failed to unbind %s: %w", key, err)
		}
	}
	return nil
}

func (t *Transport) Inbound() <-chan live.Notification { return t.in }

func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.ch != nil {
			_ = t.ch.Close()
		}
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *Transport) consume(msgs <-chan amqp.Delivery) {
	defer close(t.in)
	for {
		select {
		case <-t.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Component("amqp").Warn().Msg("push consumer channel closed")
				return
			}
			n, ok := decodeDelivery(msg.RoutingKey, msg.Body)
			if !ok {
				continue
			}
			select {
			case t.in <- n:
			case <-t.done:
				return
			}
		}
	}
}

// decodeDelivery maps a routing key and body to a Notification. The event id
// always comes from the routing key; only updates carry a body.
func decodeDelivery(routingKey string, body []byte) (live.Notification, bool) {
	switch {
	case strings.HasPrefix(routingKey, prefixUpdated):
		id := strings.TrimPrefix(routingKey, prefixUpdated)
		var d domain.EventDetail
		if err := json.Unmarshal(body, &d); err != nil {
			logger.Component("amqp").Error().Err(err).Str("routing_key", routingKey).Msg("failed to unmarshal event update")
			return live.Notification{}, false
		}
		if d.ID == "" {
			d.ID = id
		}
		return live.Notification{Kind: live.KindUpdated, EventID: id, Detail: &d}, true

	case strings.HasPrefix(routingKey, prefixDeleted):
		id := strings.TrimPrefix(routingKey, prefixDeleted)
		return live.Notification{Kind: live.KindDeleted, EventID: id}, id != ""

	default:
		logger.Component("amqp").Warn().Str("routing_key", routingKey).Msg("unknown routing key")
		return live.Notification{}, false
	}
}

// Publish sends n on the exchange under its routing key. eventctl announces
// its own edits and deletes this way when PUSH_TRANSPORT=amqp.
func (t *Transport) Publish(ctx context.Context, n live.Notification) error {
	var (
		key  string
		body []byte
		err  error
	)
	switch n.Kind {
	case live.KindUpdated:
		key = prefixUpdated + n.EventID
		body, err = json.Marshal(n.Detail)
	case live.KindDeleted:
		key = prefixDeleted + n.EventID
		body, err = json.Marshal(n.EventID)
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch.PublishWithContext(ctx, t.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
