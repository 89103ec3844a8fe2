package live

import (
	"context"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
)

type State string

const (
	Disconnected State = "disconnected"
	Subscribed   State = "subscribed"
)

// Handlers are invoked from the listener goroutine, one at a time. They must
// not call Stop; after OnDeleted the listener stops by itself.
type Handlers struct {
	OnUpdated func(detail *domain.EventDetail)
	OnDeleted func(eventID string)
}

// Subscriber is satisfied by *Hub.
type Subscriber interface {
	Subscribe(ctx context.Context, eventID string) (*Subscription, error)
}

// Listener follows a single event while subscribed.
type Listener struct {
	hub      Subscriber
	handlers Handlers
	notifier notify.Notifier

	mu      sync.Mutex
	state   State
	eventID string
	sub     *Subscription
	stop    chan struct{}
	done    chan struct{}
}

func NewListener(hub Subscriber, h Handlers, n notify.Notifier) *Listener {
	if n == nil {
		n = notify.Nop{}
	}
	return &Listener{hub: hub, handlers: h, notifier: n, state: Disconnected}
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) EventID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventID
}

// Done is closed when the current subscription ends, or nil when there is
// none.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Start subscribes to eventID. A previous subscription is released first.
func (l *Listener) Start(ctx context.Context, eventID string) error {
	l.Stop()

	sub, err := l.hub.Subscribe(ctx, eventID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.state = Subscribed
	l.eventID = eventID
	l.sub = sub
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	stop, done := l.stop, l.done
	l.mu.Unlock()

	go l.loop(ctx, sub, stop, done)
	return nil
}

// Stop leaves the group. After Stop returns no handler runs. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	sub, stop, done := l.sub, l.stop, l.done
	l.sub, l.stop = nil, nil
	l.state = Disconnected
	l.mu.Unlock()

	if sub == nil {
		return
	}
	close(stop)
	<-done
	if err := sub.Close(); err != nil {
		logger.Component("live").Warn().Err(err).Str("event_id", sub.EventID()).Msg("live_leave_failed")
	}
}

// Run is the scoped form of Start: it holds the subscription until ctx is
// done or the event is deleted, and always releases it.
func (l *Listener) Run(ctx context.Context, eventID string) error {
	if err := l.Start(ctx, eventID); err != nil {
		return err
	}
	defer l.Stop()

	select {
	case <-ctx.Done():
	case <-l.Done():
	}
	return nil
}

func (l *Listener) loop(ctx context.Context, sub *Subscription, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			l.release(sub)
			return
		case n, ok := <-sub.C():
			if !ok {
				l.release(sub)
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			if l.handle(ctx, sub.EventID(), n) {
				l.release(sub)
				return
			}
		}
	}
}

// handle reports whether the listener should stop.
func (l *Listener) handle(ctx context.Context, eventID string, n Notification) bool {
	switch n.Kind {
	case KindUpdated:
		if n.Detail == nil || n.EventID != eventID || n.Detail.ID != eventID {
			metrics.RecordLiveMessage(string(n.Kind), "ignored")
			return false
		}
		metrics.RecordLiveMessage(string(n.Kind), "applied")
		if l.handlers.OnUpdated != nil {
			l.handlers.OnUpdated(n.Detail.Clone())
		}
		l.notifier.Notify(ctx, notify.Notification{
			Level:       notify.LevelInfo,
			Title:       "Event updated",
			Description: "This event has been updated.",
		})
		return false

	case KindDeleted:
		if n.EventID != eventID {
			metrics.RecordLiveMessage(string(n.Kind), "ignored")
			return false
		}
		metrics.RecordLiveMessage(string(n.Kind), "applied")
		l.notifier.Notify(ctx, notify.Notification{
			Level:       notify.LevelWarning,
			Title:       "Event deleted",
			Description: "This event has been deleted.",
		})
		if l.handlers.OnDeleted != nil {
			l.handlers.OnDeleted(eventID)
		}
		return true
	}
	metrics.RecordLiveMessage(string(n.Kind), "ignored")
	return false
}

// release ends the subscription from inside the loop.
func (l *Listener) release(sub *Subscription) {
	l.mu.Lock()
	if l.sub == sub {
		l.sub, l.stop = nil, nil
		l.state = Disconnected
	}
	l.mu.Unlock()
	if err := sub.Close(); err != nil {
		logger.Component("live").Warn().Err(err).Str("event_id", sub.EventID()).Msg("live_leave_failed")
	}
}
