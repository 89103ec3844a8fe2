package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/metrics"
	pkgctx "github.com/baechuer/real-time-ressys/services/event-client/internal/pkg/context"
	"golang.org/x/time/rate"
)

const HeaderXRequestID = "X-Request-Id"

var (
	ErrTimeout     = errors.New("upstream_timeout")
	ErrCanceled    = errors.New("request_canceled")
	ErrUnavailable = errors.New("upstream_unavailable")
)

// Config holds configuration for the HTTP client wrapper
type Config struct {
	// ReadTimeout is used for GET requests
	ReadTimeout time.Duration
	// WriteTimeout is used for POST, PUT, PATCH, DELETE requests
	WriteTimeout time.Duration
	// RateLimit caps outgoing requests per second; 0 disables it.
	RateLimit float64
	Burst     int
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Client is a centralized HTTP client wrapper that:
// 1. Injects X-Request-Id from context (generating one if absent)
// 2. Enforces timeouts based on HTTP method (read vs write)
// 3. Applies an optional client-side rate limit
// 4. Maps transport failures to sentinel errors and records metrics
type Client struct {
	baseClient *http.Client
	config     Config
	limiter    *rate.Limiter
}

func New(config Config) *Client {
	return NewWithHTTPClient(config, &http.Client{
		// No global timeout - we set per-request timeouts
		Timeout: 0,
	})
}

// NewWithHTTPClient lets tests inject a custom transport.
func NewWithHTTPClient(config Config, hc *http.Client) *Client {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	c := &Client{baseClient: hc, config: config}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c
}

type routeKey struct{}

// WithRoute attaches a low-cardinality route label used for metrics.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFrom(ctx context.Context, req *http.Request) string {
	if r, ok := ctx.Value(routeKey{}).(string); ok && r != "" {
		return r
	}
	return req.URL.Path
}

// Do executes an HTTP request. The returned body must be closed; closing it
// also releases the per-request timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, reqID := pkgctx.EnsureRequestID(ctx)
	req.Header.Set(HeaderXRequestID, reqID)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ErrCanceled
			}
			// the limiter refuses up front when the wait would outlive the deadline
			return nil, ErrTimeout
		}
	}

	timeout := c.config.ReadTimeout
	if isWriteMethod(req.Method) {
		timeout = c.config.WriteTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	req = req.WithContext(tctx)

	route := routeFrom(ctx, req)
	log := logger.Ctx(ctx).With().
		Str("method", req.Method).
		Str("route", route).
		Logger()

	start := time.Now()
	resp, err := c.baseClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		cancel()
		mapped := c.mapError(ctx, err)
		if errors.Is(mapped, ErrCanceled) {
			log.Debug().Dur("duration", duration).Msg("api_request_canceled")
		} else {
			log.Warn().Err(err).Dur("duration", duration).Msg("api_request_failed")
		}
		metrics.RecordAPIRequest(req.Method, route, "error", duration)
		return nil, mapped
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("api_request_completed")
	metrics.RecordAPIRequest(req.Method, route, strconv.Itoa(resp.StatusCode), duration)

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// mapError converts low-level errors to sentinel errors. A cancellation by
// the caller is distinguished from a deadline hit.
func (c *Client) mapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ErrCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	// Connection refused, DNS errors, etc.
	return ErrUnavailable
}

// isWriteMethod returns true for HTTP methods that modify state
func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
