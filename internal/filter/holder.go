// Package filter owns the user-controlled listing parameters and publishes
// every change to its subscribers.
package filter

import (
	"strings"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
)

// Change mutates a working copy of the filter.
type Change func(f *domain.Filter) error

func Search(s string) Change {
	return func(f *domain.Filter) error {
		f.Search = strings.TrimSpace(s)
		return nil
	}
}

// Category accepts any case; the empty string clears the category.
func Category(s string) Change {
	return func(f *domain.Filter) error {
		c, err := domain.ParseCategory(s)
		if err != nil {
			return err
		}
		f.Category = c
		return nil
	}
}

// DateRange clears the range when both bounds are nil.
func DateRange(from, to *time.Time) Change {
	return func(f *domain.Filter) error {
		if from == nil && to == nil {
			f.DateRange = nil
			return nil
		}
		r := &domain.DateRange{}
		if from != nil {
			v := *from
			r.From = &v
		}
		if to != nil {
			v := *to
			r.To = &v
		}
		f.DateRange = r
		return nil
	}
}

func SortBy(s domain.SortBy) Change {
	return func(f *domain.Filter) error {
		f.SortBy = s
		return nil
	}
}

func SortOrder(o domain.SortOrder) Change {
	return func(f *domain.Filter) error {
		f.SortOrder = o
		return nil
	}
}

func Limit(n int) Change {
	return func(f *domain.Filter) error {
		f.Limit = n
		return nil
	}
}

// Holder is safe for concurrent use. Subscribers are called synchronously,
// outside the lock, in subscription order.
type Holder struct {
	mu     sync.Mutex
	cur    domain.Filter
	subs   map[int]func(domain.Filter)
	order  []int
	nextID int
}

func NewHolder(initial domain.Filter) (*Holder, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Holder{cur: initial, subs: map[int]func(domain.Filter){}}, nil
}

// NewDefaultHolder starts from domain.DefaultFilter with the given page size.
func NewDefaultHolder(limit int) *Holder {
	f := domain.DefaultFilter()
	if limit > 0 {
		f.Limit = limit
	}
	return &Holder{cur: f, subs: map[int]func(domain.Filter){}}
}

func (h *Holder) Get() domain.Filter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// Set applies changes atomically. Any effective change resets the page to 1.
// An invalid result leaves the filter untouched and returns a validation error.
func (h *Holder) Set(changes ...Change) error {
	return h.update(func(next *domain.Filter) error {
		prevPage := next.Page
		for _, c := range changes {
			if err := c(next); err != nil {
				return err
			}
		}
		next.Page = prevPage
		return nil
	}, true)
}

// SetPage changes only the page. Pages below 1 are rejected.
func (h *Holder) SetPage(page int) error {
	if page < 1 {
		return domain.ErrValidationField("page", "must be >= 1")
	}
	return h.update(func(next *domain.Filter) error {
		next.Page = page
		return nil
	}, false)
}

// Reset restores domain.DefaultFilter, page size included.
func (h *Holder) Reset() {
	_ = h.update(func(next *domain.Filter) error {
		*next = domain.DefaultFilter()
		return nil
	}, false)
}

// Replace swaps the whole filter, e.g. one decoded from a query string.
func (h *Holder) Replace(f domain.Filter) error {
	return h.update(func(next *domain.Filter) error {
		*next = f
		return nil
	}, false)
}

func (h *Holder) update(apply func(next *domain.Filter) error, resetPage bool) error {
	h.mu.Lock()
	next := h.cur
	if h.cur.DateRange != nil {
		r := *h.cur.DateRange
		next.DateRange = &r
	}
	if err := apply(&next); err != nil {
		h.mu.Unlock()
		return err
	}
	if resetPage && !next.Equal(h.cur) {
		next.Page = domain.DefaultPage
	}
	if err := next.Validate(); err != nil {
		h.mu.Unlock()
		return err
	}
	if next.Equal(h.cur) {
		h.mu.Unlock()
		return nil
	}
	h.cur = next
	subs := h.snapshotSubs()
	h.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return nil
}

// Subscribe registers fn for every published filter and returns a function
// that removes it.
func (h *Holder) Subscribe(fn func(domain.Filter)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (h *Holder) snapshotSubs() []func(domain.Filter) {
	out := make([]func(domain.Filter), 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.subs[id])
	}
	return out
}
