package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryConference Category = "conference"
	CategoryWorkshop   Category = "workshop"
	CategoryMeetup     Category = "meetup"
	CategorySocial     Category = "social"
	CategoryOther      Category = "other"
)

var Categories = []Category{
	CategoryConference,
	CategoryWorkshop,
	CategoryMeetup,
	CategorySocial,
	CategoryOther,
}

// ParseCategory is case-insensitive; the empty string means "no category".
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", ErrValidationField("category", "must be one of: conference, workshop, meetup, social, other")
}

type SortBy string

const (
	SortByDate          SortBy = "date"
	SortByTitle         SortBy = "title"
	SortByAttendeeCount SortBy = "attendeeCount"
)

func (s SortBy) Valid() bool {
	switch s {
	case SortByDate, SortByTitle, SortByAttendeeCount:
		return true
	}
	return false
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

func (o SortOrder) Valid() bool {
	return o == SortAsc || o == SortDesc
}

// DateRange bounds are inclusive calendar days; either may be nil.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (r *DateRange) IsZero() bool {
	return r == nil || (r.From == nil && r.To == nil)
}

type Filter struct {
	Search    string
	Category  Category
	DateRange *DateRange
	SortBy    SortBy
	SortOrder SortOrder
	Page      int
	Limit     int
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

func DefaultFilter() Filter {
	return Filter{
		SortBy:    SortByDate,
		SortOrder: SortAsc,
		Page:      DefaultPage,
		Limit:     DefaultLimit,
	}
}

func (f Filter) Validate() error {
	meta := map[string]string{}
	if f.Page < 1 {
		meta["page"] = "must be >= 1"
	}
	if f.Limit < 1 {
		meta["limit"] = "must be >= 1"
	}
	if !f.SortBy.Valid() {
		meta["sortBy"] = "must be one of: date, title, attendeeCount"
	}
	if !f.SortOrder.Valid() {
		meta["sortOrder"] = "must be one of: asc, desc"
	}
	if f.Category != "" {
		if _, err := ParseCategory(string(f.Category)); err != nil {
			meta["category"] = "unknown category"
		}
	}
	if r := f.DateRange; r != nil && r.From != nil && r.To != nil && r.To.Before(*r.From) {
		meta["dateRange"] = "to must be >= from"
	}
	if len(meta) > 0 {
		return ErrValidationMeta("invalid filter", meta)
	}
	return nil
}

// Equal compares by value, including date bounds.
func (f Filter) Equal(o Filter) bool {
	if f.Search != o.Search || f.Category != o.Category || f.SortBy != o.SortBy ||
		f.SortOrder != o.SortOrder || f.Page != o.Page || f.Limit != o.Limit {
		return false
	}
	a, b := f.DateRange, o.DateRange
	if a.IsZero() || b.IsZero() {
		return a.IsZero() == b.IsZero()
	}
	return timePtrEqual(a.From, b.From) && timePtrEqual(a.To, b.To)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
