// Package query converts a listing filter to and from the canonical query
// string of GET /api/events.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
)

// InstantLayout is the millisecond UTC instant format used for date bounds.
const InstantLayout = "2006-01-02T15:04:05.000Z"

const (
	ParamSearch    = "search"
	ParamCategory  = "category"
	ParamStartDate = "startDate"
	ParamEndDate   = "endDate"
	ParamSortBy    = "sortBy"
	ParamSortOrder = "sortOrder"
	ParamPage      = "page"
	ParamLimit     = "limit"
)

// Encode renders f with keys in sorted order. Unset optional fields are
// omitted; page, limit, sortBy and sortOrder are always present.
func Encode(f domain.Filter) string {
	v := url.Values{}
	v.Set(ParamPage, strconv.Itoa(f.Page))
	v.Set(ParamLimit, strconv.Itoa(f.Limit))
	v.Set(ParamSortBy, string(f.SortBy))
	v.Set(ParamSortOrder, string(f.SortOrder))

	if s := strings.TrimSpace(f.Search); s != "" {
		v.Set(ParamSearch, s)
	}
	if f.Category != "" {
		v.Set(ParamCategory, string(f.Category))
	}
	if r := f.DateRange; r != nil {
		if r.From != nil {
			v.Set(ParamStartDate, StartOfDay(*r.From).Format(InstantLayout))
		}
		if r.To != nil {
			v.Set(ParamEndDate, EndOfDay(*r.To).Format(InstantLayout))
		}
	}
	return v.Encode()
}

// StartOfDay truncates t to midnight of its calendar day, in UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay is the last millisecond of t's calendar day, in UTC.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Millisecond)
}

// Decode parses a query string produced by Encode (or typed by a user) into
// a filter. Missing keys take their defaults; the result is validated.
func Decode(raw string) (domain.Filter, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	v, err := url.ParseQuery(raw)
	if err != nil {
		return domain.Filter{}, domain.ErrValidationField("query", "malformed query string")
	}

	f := domain.DefaultFilter()
	f.Search = strings.TrimSpace(v.Get(ParamSearch))

	if c := v.Get(ParamCategory); c != "" {
		cat, err := domain.ParseCategory(c)
		if err != nil {
			return domain.Filter{}, err
		}
		f.Category = cat
	}
	if s := v.Get(ParamSortBy); s != "" {
		f.SortBy = domain.SortBy(s)
	}
	if s := v.Get(ParamSortOrder); s != "" {
		f.SortOrder = domain.SortOrder(s)
	}
	if s := v.Get(ParamPage); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return domain.Filter{}, domain.ErrValidationField("page", "must be an integer")
		}
		f.Page = n
	}
	if s := v.Get(ParamLimit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return domain.Filter{}, domain.ErrValidationField("limit", "must be an integer")
		}
		f.Limit = n
	}

	from, err := parseInstant(v.Get(ParamStartDate), ParamStartDate)
	if err != nil {
		return domain.Filter{}, err
	}
	to, err := parseInstant(v.Get(ParamEndDate), ParamEndDate)
	if err != nil {
		return domain.Filter{}, err
	}
	if from != nil || to != nil {
		f.DateRange = &domain.DateRange{From: from, To: to}
	}

	if err := f.Validate(); err != nil {
		return domain.Filter{}, err
	}
	return f, nil
}

func parseInstant(s, field string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{InstantLayout, time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = StartOfDay(t)
			return &t, nil
		}
	}
	return nil, domain.ErrValidationField(field, "must be an ISO-8601 date")
}

// CacheKey is a stable cache key for the listing response of f.
func CacheKey(f domain.Filter) string {
	hash := sha256.Sum256([]byte(Encode(f)))
	return fmt.Sprintf("events:list:%s", hex.EncodeToString(hash[:]))
}
