// Package listing keeps the event list in sync with the filter state.
//
// Every Fetch takes a sequence number and cancels the request it supersedes.
// A completion is applied only while its sequence number is still the latest,
// so the list always reflects the most recently requested filter no matter
// in which order responses arrive.
package listing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/filter"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/query"
)

// Lister is satisfied by *api.Client.
type Lister interface {
	ListEvents(ctx context.Context, f domain.Filter) (*domain.ListResult, error)
}

// Cache is satisfied by *cache.Client.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
}

// State is the published snapshot. Events and Pagination always come from
// the same response.
type State struct {
	Events     []domain.EventSummary
	Pagination *domain.Pagination
	Loading    bool
	Err        error
	Filter     domain.Filter
	Query      string

	version uint64
}

type Option func(*Fetcher)

func WithNotifier(n notify.Notifier) Option {
	return func(f *Fetcher) { f.notifier = n }
}

// WithCache enables the read-through listing cache.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = c
		f.ttl = ttl
	}
}

type Fetcher struct {
	api      Lister
	notifier notify.Notifier
	cache    Cache
	ttl      time.Duration

	mu      sync.Mutex
	seq     uint64
	version uint64
	cancel  context.CancelFunc
	state   State

	pubMu     sync.Mutex
	published uint64
	subs      map[int]func(State)
	nextSub   int

	wg sync.WaitGroup
}

func New(api Lister, opts ...Option) *Fetcher {
	f := &Fetcher{
		api:      api,
		notifier: notify.Nop{},
		state:    State{Events: []domain.EventSummary{}},
		subs:     map[int]func(State){},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// State returns the current snapshot.
func (f *Fetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.copy()
}

// Subscribe registers fn for every published State. Subscribers must not
// call Fetch synchronously.
func (f *Fetcher) Subscribe(fn func(State)) (unsubscribe func()) {
	f.pubMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.pubMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.pubMu.Lock()
			delete(f.subs, id)
			f.pubMu.Unlock()
		})
	}
}

// Bind fetches for the holder's current filter and again on every change.
// Fetches triggered by the holder run in the background under ctx.
func (f *Fetcher) Bind(ctx context.Context, h *filter.Holder) (unbind func()) {
	f.Go(ctx, h.Get())
	return h.Subscribe(func(next domain.Filter) {
		f.Go(ctx, next)
	})
}

// Go starts a Fetch in the background. Wait blocks until it is done.
func (f *Fetcher) Go(ctx context.Context, fl domain.Filter) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.Fetch(ctx, fl)
	}()
}

// Wait blocks until every background fetch has returned.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// Reload repeats the fetch for the current filter.
func (f *Fetcher) Reload(ctx context.Context) State {
	return f.Fetch(ctx, f.State().Filter)
}

// Fetch loads one page for fl and returns the resulting state. If a newer
// Fetch started meanwhile, the result is discarded and the returned state is
// whatever is current.
func (f *Fetcher) Fetch(ctx context.Context, fl domain.Filter) State {
	rctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.seq++
	seq := f.seq
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.state.Loading = true
	f.state.Filter = fl
	f.state.Query = query.Encode(fl)
	snap := f.bump()
	f.mu.Unlock()
	f.publish(snap)

	res, err := f.load(rctx, fl)

	f.mu.Lock()
	if seq != f.seq {
		f.mu.Unlock()
		cancel()
		metrics.RecordListFetch("stale")
		logger.Ctx(ctx).Debug().Uint64("seq", seq).Msg("list_fetch_discarded")
		return f.State()
	}
	f.cancel = nil
	cancel()

	f.state.Loading = false
	if err != nil {
		f.state.Events = []domain.EventSummary{}
		f.state.Pagination = nil
		f.state.Err = err
	} else {
		f.state.Events = res.Events
		p := res.Pagination
		f.state.Pagination = &p
		f.state.Err = nil
	}
	snap = f.bump()
	f.mu.Unlock()

	if err != nil {
		metrics.RecordListFetch("error")
		logger.Ctx(ctx).Warn().Err(err).Str("query", snap.Query).Msg("list_fetch_failed")
		f.notifier.Notify(ctx, notify.FromError("Failed to load events", err))
	} else {
		metrics.RecordListFetch("applied")
	}
	f.publish(snap)
	return snap.copy()
}

// Close cancels the in-flight request, if any, and waits for background
// fetches.
func (f *Fetcher) Close() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Fetcher) load(ctx context.Context, fl domain.Filter) (*domain.ListResult, error) {
	var key string
	if f.cache != nil {
		key = query.CacheKey(fl)
		var cached domain.ListResult
		found, err := f.cache.Get(ctx, key, &cached)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("list_cache_get_failed")
		} else if found {
			metrics.RecordListFetch("cache_hit")
			if cached.Events == nil {
				cached.Events = []domain.EventSummary{}
			}
			return &cached, nil
		}
	}

	res, err := f.api.ListEvents(ctx, fl)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, key, res, f.ttl); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("list_cache_set_failed")
		}
	}
	return res, nil
}

// bump must be called with mu held.
func (f *Fetcher) bump() State {
	f.version++
	f.state.version = f.version
	return f.state.copy()
}

// publish delivers snap unless a newer snapshot was already delivered.
func (f *Fetcher) publish(snap State) {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()
	if snap.version <= f.published {
		return
	}
	f.published = snap.version
	for _, id := range sortedKeys(f.subs) {
		f.subs[id](snap)
	}
}

func (s State) copy() State {
	c := s
	c.Events = append([]domain.EventSummary{}, s.Events...)
	if s.Pagination != nil {
		p := *s.Pagination
		c.Pagination = &p
	}
	return c
}

func sortedKeys(m map[int]func(State)) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
