package form

import (
	"context"
	"errors"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/google/uuid"
)

// API is the subset of *api.Client used by the forms.
type API interface {
	GetEvent(ctx context.Context, id string) (*domain.EventDetail, error)
	CreateEvent(ctx context.Context, token, idempotencyKey string, in domain.EventInput) (*domain.EventDetail, error)
	UpdateEvent(ctx context.Context, token, idempotencyKey, id string, in domain.EventInput) (*domain.EventDetail, error)
}

type Identity interface {
	Current() *domain.User
}

// Submitter sends one form. A second submission while the first is in
// flight returns domain.ErrBusy. Every submission of the same form carries
// the same Idempotency-Key until one succeeds.
type Submitter struct {
	api      API
	identity Identity
	notifier notify.Notifier
	newKey   func() string

	mu       sync.Mutex
	inFlight bool
	key      string
	errors   []domain.FieldError
	loaded   *domain.EventDetail
}

func NewSubmitter(api API, identity Identity, n notify.Notifier) *Submitter {
	if n == nil {
		n = notify.Nop{}
	}
	return &Submitter{api: api, identity: identity, notifier: n, newKey: uuid.NewString}
}

// Errors returns the field errors from the last submission.
func (s *Submitter) Errors() []domain.FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FieldError(nil), s.errors...)
}

// Busy reports whether a submission is outstanding.
func (s *Submitter) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Submitter) Create(ctx context.Context, in domain.EventInput) (*domain.EventDetail, error) {
	user, err := s.member(ctx, "Failed to create event")
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, in, "create", func(key string, in domain.EventInput) (*domain.EventDetail, error) {
		return s.api.CreateEvent(ctx, user.Token, key, in)
	})
}

// LoadForEdit fetches the event and returns it as form input. Only the
// organizer may edit.
func (s *Submitter) LoadForEdit(ctx context.Context, id string) (domain.EventInput, error) {
	user, err := s.member(ctx, "Failed to update event")
	if err != nil {
		return domain.EventInput{}, err
	}
	ev, err := s.api.GetEvent(ctx, id)
	if err != nil {
		s.notifier.Notify(ctx, notify.FromError("Failed to fetch event", err))
		return domain.EventInput{}, err
	}
	if ev.CreatorID != user.ID {
		err := domain.ErrForbidden("only the organizer can edit this event")
		s.notifier.Notify(ctx, notify.FromError("Failed to update event", err))
		return domain.EventInput{}, err
	}

	s.mu.Lock()
	s.loaded = ev
	s.mu.Unlock()
	return domain.InputFromDetail(ev), nil
}

func (s *Submitter) Update(ctx context.Context, id string, in domain.EventInput) (*domain.EventDetail, error) {
	user, err := s.member(ctx, "Failed to update event")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded == nil || loaded.ID != id {
		if _, err := s.LoadForEdit(ctx, id); err != nil {
			return nil, err
		}
	}

	return s.submit(ctx, in, "update", func(key string, in domain.EventInput) (*domain.EventDetail, error) {
		return s.api.UpdateEvent(ctx, user.Token, key, id, in)
	})
}

func (s *Submitter) member(ctx context.Context, title string) (*domain.User, error) {
	user := s.identity.Current()
	if err := domain.RequireMember(user); err != nil {
		s.notifier.Notify(ctx, notify.FromError(title, err))
		return nil, err
	}
	return user, nil
}

func (s *Submitter) submit(ctx context.Context, in domain.EventInput, action string, send func(key string, in domain.EventInput) (*domain.EventDetail, error)) (*domain.EventDetail, error) {
	in = Normalize(in)
	if err := Validate(in); err != nil {
		s.mu.Lock()
		s.errors = domain.FieldsOf(err)
		s.mu.Unlock()
		s.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Title: "Validation failed"})
		return nil, err
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, domain.ErrBusy
	}
	s.inFlight = true
	if s.key == "" {
		s.key = s.newKey()
	}
	key := s.key
	s.mu.Unlock()

	ev, err := send(key, in)

	s.mu.Lock()
	s.inFlight = false
	switch {
	case err == nil:
		s.key = ""
		s.errors = nil
		if action == "update" {
			s.loaded = ev
		}
	case domain.IsKind(err, domain.KindValidation):
		// the corrected payload is a new submission
		s.key = ""
		s.errors = domain.FieldsOf(err)
	}
	s.mu.Unlock()

	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("action", action).Msg("event_submit_failed")
		var de *domain.Error
		if errors.As(err, &de) && de.Kind == domain.KindValidation {
			s.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Title: de.Message})
		} else {
			s.notifier.Notify(ctx, notify.FromError("Failed to "+action+" event", err))
		}
		return nil, err
	}

	desc := "Event created successfully"
	if action == "update" {
		desc = "Event updated successfully"
	}
	s.notifier.Notify(ctx, notify.Notification{Level: notify.LevelInfo, Title: "Success", Description: desc})
	return ev, nil
}
