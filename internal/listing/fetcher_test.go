package listing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/cache"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/filter"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister answers by search term. A gated term blocks until released,
// ignoring cancellation, so responses can be made to arrive out of order.
type fakeLister struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started map[string]chan struct{}
	calls   int
	err     error
}

func newFakeLister() *fakeLister {
	return &fakeLister{gates: map[string]chan struct{}{}, started: map[string]chan struct{}{}}
}

func (l *fakeLister) gate(search string) (started <-chan struct{}, release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := make(chan struct{})
	s := make(chan struct{})
	l.gates[search] = g
	l.started[search] = s
	return s, func() { close(g) }
}

func (l *fakeLister) ListEvents(_ context.Context, f domain.Filter) (*domain.ListResult, error) {
	l.mu.Lock()
	l.calls++
	g := l.gates[f.Search]
	s := l.started[f.Search]
	err := l.err
	l.mu.Unlock()

	if s != nil {
		close(s)
	}
	if g != nil {
		<-g
	}
	if err != nil {
		return nil, err
	}
	return &domain.ListResult{
		Events:     []domain.EventSummary{{ID: "ev-" + f.Search, Title: f.Search}},
		Pagination: domain.Pagination{CurrentPage: f.Page, TotalPages: 3, HasNextPage: f.Page < 3, HasPrevPage: f.Page > 1},
	}, nil
}

func withSearch(s string) domain.Filter {
	f := domain.DefaultFilter()
	f.Search = s
	return f
}

func TestFetcher_AppliesResult(t *testing.T) {
	f := New(newFakeLister())

	st := f.Fetch(context.Background(), withSearch("music"))

	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	require.Len(t, st.Events, 1)
	assert.Equal(t, "music", st.Events[0].Title)
	require.NotNil(t, st.Pagination)
	assert.True(t, st.Pagination.HasNextPage)
	assert.Equal(t, "limit=10&page=1&search=music&sortBy=date&sortOrder=asc", st.Query)
}

func TestFetcher_LatestRequestWins(t *testing.T) {
	l := newFakeLister()
	startedA, releaseA := l.gate("A")
	f := New(l)

	doneA := make(chan State, 1)
	go func() { doneA <- f.Fetch(context.Background(), withSearch("A")) }()
	<-startedA

	stB := f.Fetch(context.Background(), withSearch("B"))
	require.Len(t, stB.Events, 1)
	assert.Equal(t, "B", stB.Events[0].Title)

	releaseA()
	<-doneA

	final := f.State()
	require.Len(t, final.Events, 1)
	assert.Equal(t, "B", final.Events[0].Title, "the late response for A must not overwrite B")
	assert.Equal(t, "B", final.Filter.Search)
}

func TestFetcher_SupersededRequestIsCanceled(t *testing.T) {
	canceled := make(chan struct{})
	l := listerFunc(func(ctx context.Context, fl domain.Filter) (*domain.ListResult, error) {
		if fl.Search == "slow" {
			<-ctx.Done()
			close(canceled)
			return nil, ctx.Err()
		}
		return &domain.ListResult{Events: []domain.EventSummary{}}, nil
	})
	f := New(l)

	f.Go(context.Background(), withSearch("slow"))
	require.Eventually(t, func() bool { return f.State().Loading }, time.Second, 5*time.Millisecond)

	st := f.Fetch(context.Background(), withSearch("fast"))
	f.Wait()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("superseded request was not canceled")
	}
	assert.NoError(t, st.Err)
	assert.NoError(t, f.State().Err)
}

func TestFetcher_FailureEmptiesListAndNotifies(t *testing.T) {
	l := newFakeLister()
	rec := &notify.Recorder{}
	f := New(l, WithNotifier(rec))

	st := f.Fetch(context.Background(), withSearch("music"))
	require.Len(t, st.Events, 1)

	l.mu.Lock()
	l.err = domain.ErrNetwork(errors.New("connection refused"))
	l.mu.Unlock()

	st = f.Fetch(context.Background(), withSearch("music"))
	assert.Empty(t, st.Events)
	assert.NotNil(t, st.Events)
	assert.Nil(t, st.Pagination)
	assert.True(t, domain.IsKind(st.Err, domain.KindNetwork))

	n, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Equal(t, "Failed to load events", n.Title)
}

func TestFetcher_BindFollowsHolder(t *testing.T) {
	l := newFakeLister()
	f := New(l)
	h := filter.NewDefaultHolder(10)

	var mu sync.Mutex
	var seen []State
	f.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	unbind := f.Bind(context.Background(), h)
	f.Wait()
	require.NoError(t, h.Set(filter.Search("jazz")))
	f.Wait()

	st := f.State()
	require.Len(t, st.Events, 1)
	assert.Equal(t, "jazz", st.Events[0].Title)

	unbind()
	require.NoError(t, h.Set(filter.Search("rock")))
	f.Wait()
	assert.Equal(t, "jazz", f.State().Filter.Search)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.False(t, seen[len(seen)-1].Loading)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].version, seen[i-1].version, "snapshots are delivered in order")
	}
}

func TestFetcher_ReadThroughCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	c, err := cache.Dial(context.Background(), "redis://"+s.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	l := newFakeLister()
	f := New(l, WithCache(c, time.Minute))

	first := f.Fetch(context.Background(), withSearch("music"))
	second := f.Fetch(context.Background(), withSearch("music"))

	assert.Equal(t, first.Events, second.Events)
	l.mu.Lock()
	assert.Equal(t, 1, l.calls)
	l.mu.Unlock()

	s.FastForward(2 * time.Minute)
	f.Fetch(context.Background(), withSearch("music"))
	l.mu.Lock()
	assert.Equal(t, 2, l.calls)
	l.mu.Unlock()
}

type listerFunc func(ctx context.Context, f domain.Filter) (*domain.ListResult, error)

func (fn listerFunc) ListEvents(ctx context.Context, f domain.Filter) (*domain.ListResult, error) {
	return fn(ctx, f)
}
