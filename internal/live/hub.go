// Package live delivers push notifications for individual events.
//
// A Hub multiplexes any number of subscriptions over one Transport and
// reference-counts group membership per event id: the group is joined when
// the first subscription for an event opens and left when the last closes.
package live

import (
	"context"
	"errors"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/metrics"
)

type Kind string

const (
	KindUpdated Kind = "eventUpdated"
	KindDeleted Kind = "eventDeleted"
)

// Notification is one decoded push message. Detail is set for KindUpdated.
type Notification struct {
	Kind    Kind
	EventID string
	Detail  *domain.EventDetail
}

// Transport is a push connection that understands per-event groups.
// Inbound is closed when the connection ends.
type Transport interface {
	JoinGroup(ctx context.Context, eventID string) error
	LeaveGroup(ctx context.Context, eventID string) error
	Inbound() <-chan Notification
	Close() error
}

var ErrHubClosed = errors.New("live hub closed")

const subscriptionBuffer = 16

type Hub struct {
	transport Transport

	mu     sync.Mutex
	groups map[string]map[*Subscription]struct{}
	closed bool

	done chan struct{}
	once sync.Once
}

func NewHub(t Transport) *Hub {
	h := &Hub{
		transport: t,
		groups:    map[string]map[*Subscription]struct{}{},
		done:      make(chan struct{}),
	}
	go h.dispatch()
	return h
}

type Subscription struct {
	hub     *Hub
	eventID string
	ch      chan Notification
	once    sync.Once
}

func (s *Subscription) EventID() string { return s.eventID }

// C is closed when the subscription is closed or the transport goes away.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.hub.remove(s) })
	return err
}

// Subscribe opens a subscription for eventID, joining its group if this is
// the first one.
func (h *Hub) Subscribe(ctx context.Context, eventID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	members := h.groups[eventID]
	if len(members) == 0 {
		if err := h.transport.JoinGroup(ctx, eventID); err != nil {
			return nil, err
		}
		members = map[*Subscription]struct{}{}
		h.groups[eventID] = members
		metrics.LiveGroupJoined()
		logger.Ctx(ctx).Debug().Str("event_id", eventID).Msg("live_group_joined")
	}

	s := &Subscription{hub: h, eventID: eventID, ch: make(chan Notification, subscriptionBuffer)}
	members[s] = struct{}{}
	return s, nil
}

func (h *Hub) remove(s *Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[s.eventID]
	if !ok {
		return nil
	}
	if _, ok := members[s]; !ok {
		return nil
	}
	delete(members, s)
	close(s.ch)

	if len(members) > 0 {
		return nil
	}
	delete(h.groups, s.eventID)
	metrics.LiveGroupLeft()
	if h.closed {
		return nil
	}
	logger.Component("live").Debug().Str("event_id", s.eventID).Msg("live_group_left")
	return h.transport.LeaveGroup(context.Background(), s.eventID)
}

// GroupSize reports how many open subscriptions exist for eventID.
func (h *Hub) GroupSize(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[eventID])
}

func (h *Hub) dispatch() {
	defer close(h.done)
	for n := range h.transport.Inbound() {
		h.mu.Lock()
		members := h.groups[n.EventID]
		if len(members) == 0 {
			metrics.RecordLiveMessage(string(n.Kind), "unrouted")
		}
		for s := range members {
			select {
			case s.ch <- n:
			default:
				metrics.RecordLiveMessage(string(n.Kind), "dropped")
				logger.Component("live").Warn().
					Str("event_id", n.EventID).
					Str("kind", string(n.Kind)).
					Msg("live_subscriber_slow_dropping")
			}
		}
		h.mu.Unlock()
	}

	// transport ended: every subscriber sees its channel close
	h.mu.Lock()
	h.closed = true
	for id, members := range h.groups {
		for s := range members {
			close(s.ch)
		}
		delete(h.groups, id)
		metrics.LiveGroupLeft()
	}
	h.mu.Unlock()
}

// Close shuts the transport down and waits for the dispatcher to drain.
func (h *Hub) Close() error {
	var err error
	h.once.Do(func() {
		err = h.transport.Close()
		<-h.done
	})
	return err
}
