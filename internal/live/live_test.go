package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
	in     chan Notification
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan Notification, 16)}
}

func (f *fakeTransport) JoinGroup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	return nil
}

func (f *fakeTransport) LeaveGroup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, id)
	return nil
}

func (f *fakeTransport) Inbound() <-chan Notification { return f.in }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.in) })
	return nil
}

func (f *fakeTransport) counts() (joins, leaves []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...), append([]string(nil), f.leaves...)
}

func updated(id, title string) Notification {
	return Notification{Kind: KindUpdated, EventID: id, Detail: &domain.EventDetail{ID: id, Title: title}}
}

type captured struct {
	mu      sync.Mutex
	updates []string
	deleted []string
}

func (c *captured) handlers() Handlers {
	return Handlers{
		OnUpdated: func(d *domain.EventDetail) {
			c.mu.Lock()
			c.updates = append(c.updates, d.Title)
			c.mu.Unlock()
		},
		OnDeleted: func(id string) {
			c.mu.Lock()
			c.deleted = append(c.deleted, id)
			c.mu.Unlock()
		},
	}
}

func (c *captured) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.updates...), append([]string(nil), c.deleted...)
}

func TestHub_JoinsGroupOncePerEvent(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, "e1")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "e1")
	require.NoError(t, err)

	joins, _ := tr.counts()
	assert.Equal(t, []string{"e1"}, joins)
	assert.Equal(t, 2, hub.GroupSize("e1"))

	require.NoError(t, a.Close())
	_, leaves := tr.counts()
	assert.Empty(t, leaves, "group kept while another subscription is open")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, leaves = tr.counts()
	assert.Equal(t, []string{"e1"}, leaves)
}

func TestHub_RoutesByEventID(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	s1, err := hub.Subscribe(context.Background(), "e1")
	require.NoError(t, err)

	tr.in <- updated("e2", "other")
	tr.in <- updated("e1", "mine")

	select {
	case n := <-s1.C():
		assert.Equal(t, "mine", n.Detail.Title)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestHub_TransportCloseEndsSubscriptions(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)

	s, err := hub.Subscribe(context.Background(), "e1")
	require.NoError(t, err)
	require.NoError(t, hub.Close())

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.NoError(t, s.Close())

	_, err = hub.Subscribe(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestListener_MatchingUpdateReplacesSnapshot(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	var c captured
	rec := &notify.Recorder{}
	l := NewListener(hub, c.handlers(), rec)
	require.NoError(t, l.Start(context.Background(), "e1"))
	assert.Equal(t, Subscribed, l.State())

	tr.in <- updated("e1", "renamed")
	require.Eventually(t, func() bool {
		u, _ := c.snapshot()
		return len(u) == 1
	}, time.Second, 5*time.Millisecond)

	u, _ := c.snapshot()
	assert.Equal(t, []string{"renamed"}, u)
	n, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelInfo, n.Level)

	l.Stop()
}

func TestListener_IgnoresMismatchedPayload(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	var c captured
	l := NewListener(hub, c.handlers(), nil)
	require.NoError(t, l.Start(context.Background(), "e1"))

	// routed to e1 but carrying another event's detail
	tr.in <- Notification{Kind: KindUpdated, EventID: "e1", Detail: &domain.EventDetail{ID: "e9", Title: "wrong"}}
	tr.in <- Notification{Kind: KindDeleted, EventID: "e2"}
	tr.in <- updated("e1", "right")

	require.Eventually(t, func() bool {
		u, _ := c.snapshot()
		return len(u) == 1
	}, time.Second, 5*time.Millisecond)
	u, d := c.snapshot()
	assert.Equal(t, []string{"right"}, u)
	assert.Empty(t, d)
	assert.Equal(t, Subscribed, l.State())
	l.Stop()
}

func TestListener_DeletedStopsAndNotifies(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	var c captured
	rec := &notify.Recorder{}
	l := NewListener(hub, c.handlers(), rec)

	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background(), "e1") }()
	require.Eventually(t, func() bool { return hub.GroupSize("e1") == 1 }, time.Second, 5*time.Millisecond)

	tr.in <- Notification{Kind: KindDeleted, EventID: "e1"}

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after deletion")
	}
	_, d := c.snapshot()
	assert.Equal(t, []string{"e1"}, d)
	assert.Equal(t, Disconnected, l.State())
	_, leaves := tr.counts()
	assert.Equal(t, []string{"e1"}, leaves)

	n, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelWarning, n.Level)
}

func TestListener_NoHandlersAfterStop(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	var c captured
	l := NewListener(hub, c.handlers(), nil)
	require.NoError(t, l.Start(context.Background(), "e1"))
	l.Stop()
	l.Stop()

	tr.in <- updated("e1", "late")
	tr.in <- Notification{Kind: KindDeleted, EventID: "e1"}
	time.Sleep(50 * time.Millisecond)

	u, d := c.snapshot()
	assert.Empty(t, u)
	assert.Empty(t, d)
	assert.Equal(t, 0, hub.GroupSize("e1"))
}

func TestListener_RunReleasesOnCancel(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	l := NewListener(hub, Handlers{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx, "e1") }()
	require.Eventually(t, func() bool { return hub.GroupSize("e1") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, 0, hub.GroupSize("e1"))
	assert.Equal(t, Disconnected, l.State())
}

func TestListener_StartSwitchesEvents(t *testing.T) {
	tr := newFakeTransport()
	hub := NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	l := NewListener(hub, Handlers{}, nil)
	require.NoError(t, l.Start(context.Background(), "e1"))
	require.NoError(t, l.Start(context.Background(), "e2"))

	assert.Equal(t, "e2", l.EventID())
	assert.Equal(t, 0, hub.GroupSize("e1"))
	assert.Equal(t, 1, hub.GroupSize("e2"))
	l.Stop()
}
