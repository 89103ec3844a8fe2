// Package session holds the signed-in identity for the lifetime of the
// process and persists its token between runs.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/api"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

// AuthAPI is the subset of *api.Client used here.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*api.AuthResult, error)
	Register(ctx context.Context, name, email, password string) (*api.AuthResult, error)
	Me(ctx context.Context, token string) (*domain.User, error)
}

var ErrNoToken = errors.New("no token received")

type Session struct {
	api   AuthAPI
	store TokenStore
	now   func() time.Time

	mu   sync.RWMutex
	user *domain.User
}

func New(a AuthAPI, store TokenStore) *Session {
	return &Session{api: a, store: store, now: time.Now}
}

// Current returns a copy of the signed-in user, or nil when anonymous.
func (s *Session) Current() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) set(u *domain.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// Restore resolves the stored token into a user. An expired or rejected
// token is removed; a transport failure leaves it in place for the next run.
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.store.Load(ctx)
	if err != nil {
		s.set(nil)
		return err
	}
	if token == "" {
		s.set(nil)
		return nil
	}

	if expired(token, s.now()) {
		logger.Ctx(ctx).Info().Msg("stored_token_expired")
		s.set(nil)
		return s.store.Clear(ctx)
	}

	return s.check(ctx, token)
}

func (s *Session) check(ctx context.Context, token string) error {
	u, err := s.api.Me(ctx, token)
	if err != nil {
		s.set(nil)
		if domain.IsKind(err, domain.KindNetwork) {
			logger.Ctx(ctx).Warn().Err(err).Msg("auth_check_failed")
			return err
		}
		logger.Ctx(ctx).Info().Err(err).Msg("stored_token_rejected")
		return s.store.Clear(ctx)
	}
	u.Token = token
	u.Guest = false
	s.set(u)
	return nil
}

// expired reports whether token carries an exp claim in the past. Tokens
// that do not parse as JWTs are left for the server to judge.
func expired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}

// Login returns a non-nil ValidationResponse when the server refused the
// credentials; err is reserved for transport and storage failures.
func (s *Session) Login(ctx context.Context, email, password string) (*domain.ValidationResponse, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return refusal(err, "Login failed")
	}
	if res.Token == "" {
		return nil, ErrNoToken
	}
	if err := s.store.Save(ctx, res.Token); err != nil {
		return nil, err
	}
	u := res.User
	u.Token = res.Token
	u.Guest = false
	s.set(&u)
	return nil, nil
}

// Register creates the account, stores the token and re-resolves the user
// through /me.
func (s *Session) Register(ctx context.Context, name, email, password string) (*domain.ValidationResponse, error) {
	res, err := s.api.Register(ctx, name, email, password)
	if err != nil {
		return refusal(err, "Registration failed")
	}
	if res.Token == "" {
		return nil, ErrNoToken
	}
	if err := s.store.Save(ctx, res.Token); err != nil {
		return nil, err
	}
	u := res.User
	u.Token = res.Token
	s.set(&u)
	return nil, s.check(ctx, res.Token)
}

// Guest switches to the read-only guest identity. Nothing is persisted.
func (s *Session) Guest() {
	g := domain.GuestUser()
	s.set(&g)
}

func (s *Session) Logout(ctx context.Context) error {
	s.set(nil)
	return s.store.Clear(ctx)
}

func refusal(err error, fallback string) (*domain.ValidationResponse, error) {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindNetwork {
		return nil, err
	}
	switch de.Kind {
	case domain.KindValidation:
		fields := de.Fields
		if fields == nil {
			fields = []domain.FieldError{}
		}
		return &domain.ValidationResponse{Message: de.Message, Errors: fields}, nil
	case domain.KindAuth:
		return &domain.ValidationResponse{Message: de.Message, Errors: []domain.FieldError{}}, nil
	default:
		return &domain.ValidationResponse{Message: fallback, Errors: []domain.FieldError{}}, nil
	}
}
