package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	pkgctx "github.com/baechuer/real-time-ressys/services/event-client/internal/pkg/context"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const service = "event-client"

// Log stays silent until Init is called, so library code and tests do not
// write to stderr by accident.
var Log = zerolog.Nop()

// Init configures the process logger on stderr. Stdout belongs to command
// output.
func Init() {
	InitWithWriter(os.Stderr)
}

// InitWithWriter configures from LOG_LEVEL and LOG_FORMAT as found in the
// process environment.
func InitWithWriter(w io.Writer) {
	Configure(w, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Configure installs a logger as Log and as the zerolog global logger.
// level defaults to info; format is json or console (the default).
func Configure(w io.Writer, level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	Log = zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()
	zlog.Logger = Log
}

// Ctx returns a logger with Request-ID context if available
func Ctx(ctx context.Context) *zerolog.Logger {
	reqID := pkgctx.GetRequestID(ctx)
	if reqID != "" {
		l := Log.With().Str("request_id", reqID).Logger()
		return &l
	}
	return &Log
}

// Component tags entries from long-lived background loops that have no
// request context.
func Component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}
