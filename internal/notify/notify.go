// Package notify carries user-facing notifications (toasts in a UI, log lines
// in the CLI) out of the view-models.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/rs/zerolog"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level       Level
	Title       string
	Description string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes notifications through the request-scoped logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	var ev *zerolog.Event
	log := logger.Ctx(ctx)
	switch n.Level {
	case LevelError:
		ev = log.Error()
	case LevelWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("title", n.Title).Str("description", n.Description).Msg("notification")
}

// Recorder keeps every notification; used by tests and by the CLI to print
// what happened after a command.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

// FromError maps an error to the notification shown for it. title is used
// for error-level notifications, e.g. "Failed to load events".
func FromError(title string, err error) Notification {
	var de *domain.Error
	if !errors.As(err, &de) {
		return Notification{Level: LevelError, Title: title, Description: errString(err)}
	}
	switch de.Kind {
	case domain.KindGuest:
		return Notification{Level: LevelWarning, Title: "Guest users cannot perform this action", Description: "Please sign in with an account."}
	case domain.KindAuth:
		return Notification{Level: LevelWarning, Title: "Authentication required", Description: de.Message}
	case domain.KindBusy:
		return Notification{Level: LevelInfo, Title: "Please wait", Description: de.Message}
	case domain.KindNetwork:
		return Notification{Level: LevelError, Title: title, Description: "Could not reach the server. Please try again."}
	default:
		return Notification{Level: LevelError, Title: title, Description: de.Message}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
