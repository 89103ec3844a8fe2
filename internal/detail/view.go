// Package detail is the view-model behind a single event page: it loads the
// event, follows live updates while open, and runs the join/leave and delete
// commands.
package detail

import (
	"context"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"golang.org/x/sync/errgroup"
)

// API is the subset of *api.Client the view needs.
type API interface {
	GetEvent(ctx context.Context, id string) (*domain.EventDetail, error)
	JoinEvent(ctx context.Context, token, id string) (*domain.EventDetail, error)
	LeaveEvent(ctx context.Context, token, id string) (*domain.EventDetail, error)
	DeleteEvent(ctx context.Context, token, id string) error
}

// Identity reports the current user, nil when anonymous.
type Identity interface {
	Current() *domain.User
}

type Snapshot struct {
	EventID  string
	Event    *domain.EventDetail
	Loading  bool
	NotFound bool
	Deleted  bool
	Busy     bool
	Err      error
	Policy   domain.ActionPolicy
}

type Option func(*View)

func WithNotifier(n notify.Notifier) Option {
	return func(v *View) { v.notifier = n }
}

// WithNavigate sets the callback run once when the view must be left
// because the event no longer exists. It may run on the live listener
// goroutine and must not call Close.
func WithNavigate(fn func(eventID string)) Option {
	return func(v *View) { v.navigate = fn }
}

type View struct {
	api      API
	identity Identity
	notifier notify.Notifier
	navigate func(eventID string)
	listener *live.Listener

	mu       sync.Mutex
	snap     Snapshot
	liveSeen bool
	navOnce  *sync.Once
	subs     []func(Snapshot)
}

// New builds a view. hub may be nil for a one-shot view without live updates.
func New(api API, hub live.Subscriber, identity Identity, opts ...Option) *View {
	v := &View{
		api:      api,
		identity: identity,
		notifier: notify.Nop{},
		navigate: func(string) {},
		navOnce:  &sync.Once{},
	}
	for _, o := range opts {
		o(v)
	}
	if hub != nil {
		v.listener = live.NewListener(hub, live.Handlers{
			OnUpdated: v.applyLive,
			OnDeleted: v.markDeleted,
		}, v.notifier)
	}
	return v
}

// Subscribe registers fn for every snapshot change.
func (v *View) Subscribe(fn func(Snapshot)) {
	v.mu.Lock()
	v.subs = append(v.subs, fn)
	v.mu.Unlock()
}

// Snapshot returns the current state with the action policy computed for the
// current user.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	s := v.snap
	v.mu.Unlock()
	return v.decorate(s)
}

// LiveState reports whether live updates are being received.
func (v *View) LiveState() live.State {
	if v.listener == nil {
		return live.Disconnected
	}
	return v.listener.State()
}

// Open loads eventID and subscribes to its live updates in parallel. A
// missing event leaves the view in the not-found state with no subscription.
func (v *View) Open(ctx context.Context, eventID string) error {
	v.stopLive()

	v.mu.Lock()
	v.snap = Snapshot{EventID: eventID, Loading: true}
	v.liveSeen = false
	v.navOnce = &sync.Once{}
	v.mu.Unlock()
	v.publish()

	var g errgroup.Group
	g.Go(func() error {
		v.load(ctx, eventID)
		return nil
	})
	if v.listener != nil {
		g.Go(func() error {
			return v.listener.Start(ctx, eventID)
		})
	}
	err := g.Wait()

	if v.Snapshot().NotFound {
		v.stopLive()
		return nil
	}
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("live_subscribe_failed")
	}
	return err
}

// Refresh reloads the event without touching the subscription.
func (v *View) Refresh(ctx context.Context) {
	v.mu.Lock()
	id := v.snap.EventID
	v.liveSeen = false
	v.mu.Unlock()
	if id != "" {
		v.load(ctx, id)
	}
}

// Close releases the live subscription.
func (v *View) Close() {
	v.stopLive()
}

func (v *View) stopLive() {
	if v.listener != nil {
		v.listener.Stop()
	}
}

func (v *View) load(ctx context.Context, eventID string) {
	ev, err := v.api.GetEvent(ctx, eventID)

	v.mu.Lock()
	if v.snap.EventID != eventID {
		v.mu.Unlock()
		return
	}
	v.snap.Loading = false
	switch {
	case err == nil:
		// a live update that arrived during the fetch is at least as fresh
		if !v.liveSeen {
			v.snap.Event = ev
		}
		v.snap.Err = nil
	case domain.IsKind(err, domain.KindNotFound):
		v.snap.NotFound = true
		v.snap.Event = nil
		v.snap.Err = err
	default:
		v.snap.Err = err
	}
	v.mu.Unlock()

	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("event_fetch_failed")
		if !domain.IsKind(err, domain.KindNotFound) {
			v.notifier.Notify(ctx, notify.FromError("Failed to fetch event details", err))
		}
	}
	v.publish()
}

func (v *View) applyLive(d *domain.EventDetail) {
	v.mu.Lock()
	if d.ID != v.snap.EventID {
		v.mu.Unlock()
		return
	}
	v.snap.Event = d
	v.snap.NotFound = false
	v.liveSeen = true
	v.mu.Unlock()
	v.publish()
}

func (v *View) markDeleted(eventID string) {
	v.mu.Lock()
	if eventID != v.snap.EventID {
		v.mu.Unlock()
		return
	}
	v.snap.Deleted = true
	once := v.navOnce
	v.mu.Unlock()
	v.publish()
	once.Do(func() { v.navigate(eventID) })
}

// JoinOrLeave joins the event, or leaves it when the current user already
// attends. The response detail replaces the snapshot.
func (v *View) JoinOrLeave(ctx context.Context) error {
	user := v.identity.Current()
	if err := domain.RequireMember(user); err != nil {
		v.notifier.Notify(ctx, notify.FromError("Failed to update attendance", err))
		return err
	}

	ev, err := v.begin()
	if err != nil {
		return err
	}
	v.publish()

	attending := ev.IsAttending(user.ID)
	var updated *domain.EventDetail
	if attending {
		updated, err = v.api.LeaveEvent(ctx, user.Token, ev.ID)
	} else {
		updated, err = v.api.JoinEvent(ctx, user.Token, ev.ID)
	}

	v.mu.Lock()
	v.snap.Busy = false
	if err == nil && updated.ID == v.snap.EventID {
		v.snap.Event = updated
	}
	v.mu.Unlock()
	v.publish()

	if err != nil {
		action := "join"
		if attending {
			action = "leave"
		}
		v.notifier.Notify(ctx, notify.FromError("Failed to "+action+" event", err))
		return err
	}
	if attending {
		v.notifier.Notify(ctx, notify.Notification{Level: notify.LevelInfo, Title: "Left Event", Description: "You have left this event"})
	} else {
		v.notifier.Notify(ctx, notify.Notification{Level: notify.LevelInfo, Title: "Joined Event", Description: "You have joined this event"})
	}
	return nil
}

// Delete removes the event. Only the organizer may delete; on success the
// view navigates away.
func (v *View) Delete(ctx context.Context) error {
	user := v.identity.Current()
	if err := domain.RequireMember(user); err != nil {
		v.notifier.Notify(ctx, notify.FromError("Failed to delete event", err))
		return err
	}
	if !v.Snapshot().Policy.CanDelete {
		err := domain.ErrForbidden("only the organizer can delete this event")
		v.notifier.Notify(ctx, notify.FromError("Failed to delete event", err))
		return err
	}

	ev, err := v.begin()
	if err != nil {
		return err
	}

	err = v.api.DeleteEvent(ctx, user.Token, ev.ID)

	v.mu.Lock()
	v.snap.Busy = false
	if err == nil {
		v.snap.Deleted = true
	}
	once := v.navOnce
	v.mu.Unlock()
	v.publish()

	if err != nil {
		v.notifier.Notify(ctx, notify.FromError("Failed to delete event", err))
		return err
	}
	v.stopLive()
	v.notifier.Notify(ctx, notify.Notification{Level: notify.LevelInfo, Title: "Success", Description: "Event has been deleted"})
	once.Do(func() { v.navigate(ev.ID) })
	return nil
}

// begin claims the action guard and returns the event it applies to.
func (v *View) begin() (*domain.EventDetail, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap.Busy {
		return nil, domain.ErrBusy
	}
	if v.snap.Event == nil || v.snap.Deleted {
		return nil, domain.ErrNotFound("Event not found")
	}
	v.snap.Busy = true
	return v.snap.Event, nil
}

func (v *View) decorate(s Snapshot) Snapshot {
	if s.Event != nil {
		s.Event = s.Event.Clone()
	}
	if s.Deleted {
		s.Policy = domain.ActionPolicy{Reason: "event_unavailable"}
		return s
	}
	s.Policy = domain.CalculateActionPolicy(s.Event, v.identity.Current())
	if s.Busy {
		s.Policy.CanJoin, s.Policy.CanLeave = false, false
	}
	return s
}

func (v *View) publish() {
	v.mu.Lock()
	s := v.snap
	subs := append([]func(Snapshot){}, v.subs...)
	v.mu.Unlock()
	s = v.decorate(s)
	for _, fn := range subs {
		fn(s)
	}
}
