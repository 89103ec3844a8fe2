package domain

import (
	"encoding/json"
	"time"
)

type EventSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Date          time.Time `json:"date"`
	Location      string    `json:"location"`
	Category      string    `json:"category"`
	AttendeeCount int       `json:"attendeeCount"`
}

// UnmarshalJSON accepts either an attendeeCount field or a raw attendees
// array, in which case the count is the array length.
func (e *EventSummary) UnmarshalJSON(b []byte) error {
	type alias EventSummary
	var raw struct {
		alias
		AttendeeCount *int              `json:"attendeeCount"`
		Attendees     []json.RawMessage `json:"attendees"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = EventSummary(raw.alias)
	switch {
	case raw.AttendeeCount != nil:
		e.AttendeeCount = *raw.AttendeeCount
	default:
		e.AttendeeCount = len(raw.Attendees)
	}
	return nil
}

type Creator struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Attendee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EventDetail struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Date        time.Time  `json:"date"`
	Location    string     `json:"location"`
	Category    string     `json:"category"`
	CreatorID   string     `json:"creatorId"`
	Creator     Creator    `json:"creator"`
	ImagesURL   []string   `json:"imagesUrl"`
	CoverURL    string     `json:"coverUrl,omitempty"`
	Attendees   []Attendee `json:"attendees"`
}

func (d *EventDetail) Summary() EventSummary {
	return EventSummary{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		Date:          d.Date,
		Location:      d.Location,
		Category:      d.Category,
		AttendeeCount: len(d.Attendees),
	}
}

func (d *EventDetail) IsAttending(userID string) bool {
	if userID == "" {
		return false
	}
	for _, a := range d.Attendees {
		if a.ID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots handed to subscribers cannot be
// mutated behind the owner's back.
func (d *EventDetail) Clone() *EventDetail {
	if d == nil {
		return nil
	}
	c := *d
	c.ImagesURL = append([]string(nil), d.ImagesURL...)
	c.Attendees = append([]Attendee(nil), d.Attendees...)
	return &c
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

type ListResult struct {
	Events     []EventSummary `json:"events"`
	Pagination Pagination     `json:"pagination"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token,omitempty"`
	Guest bool   `json:"guest,omitempty"`
}

const GuestID = "guest"

// GuestUser is the read-only local identity used for guest sessions.
func GuestUser() User {
	return User{
		ID:    GuestID,
		Name:  "Guest",
		Email: "guest@guest.com",
		Guest: true,
	}
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResponse is the body returned by the API on a 400, and the value
// the session returns for a failed login or registration.
type ValidationResponse struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

// EventInput is the payload for create and update.
type EventInput struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"required"`
	Location    string    `json:"location" validate:"required"`
	Category    string    `json:"category" validate:"required,category"`
	Date        time.Time `json:"date" validate:"required"`
	ImagesURL   []string  `json:"imagesUrl" validate:"max=5,dive,url"`
	CoverURL    string    `json:"coverUrl,omitempty" validate:"omitempty,url"`
}

func InputFromDetail(d *EventDetail) EventInput {
	return EventInput{
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
		Category:    d.Category,
		Date:        d.Date,
		ImagesURL:   append([]string{}, d.ImagesURL...),
		CoverURL:    d.CoverURL,
	}
}
