package main

import (
	"context"
	"fmt"
	"io"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/api"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/cache"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/config"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live"
	liveamqp "github.com/baechuer/real-time-ressys/services/event-client/internal/live/amqp"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live/wsock"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/listing"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/session"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/transport/httpclient"
	zlog "github.com/rs/zerolog/log"
)

// App holds every dependency a command may need.
type App struct {
	Config   *config.Config
	API      *api.Client
	Session  *session.Session
	Cache    *cache.Client
	Notifier notify.Notifier

	Out io.Writer
	In  io.Reader

	dialPush func(ctx context.Context) (live.Transport, error)
	// announce is set when the push channel is a broker this client may
	// publish to; nil otherwise.
	announce func(ctx context.Context, n live.Notification) error
}

func NewApp(ctx context.Context, cfg *config.Config, out io.Writer, in io.Reader) (*App, error) {
	hc := httpclient.New(httpclient.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		RateLimit:    cfg.RateLimitRPS,
		Burst:        cfg.RateLimitBurst,
	})
	client := api.New(cfg.APIURL, hc)

	app := &App{
		Config:   cfg,
		API:      client,
		Out:      out,
		In:       in,
		Notifier: notify.Multi{notify.LogNotifier{}, consoleNotifier{w: out}},
	}

	// redis is optional for the listing cache but required for the redis token store
	if cfg.RedisURL != "" {
		c, err := cache.Dial(ctx, cfg.RedisURL)
		switch {
		case err == nil:
			app.Cache = c
		case cfg.TokenStore == "redis":
			return nil, fmt.Errorf("redis unavailable: %w", err)
		default:
			zlog.Warn().Err(err).Msg("redis unavailable: listing cache disabled")
		}
	}

	var store session.TokenStore
	switch cfg.TokenStore {
	case "redis":
		store = session.NewRedisStore(app.Cache.Redis(), cfg.TokenKey)
	case "memory":
		store = &session.MemoryStore{}
	default:
		store = session.FileStore{Path: cfg.TokenFile}
	}
	app.Session = session.New(client, store)

	app.dialPush = func(ctx context.Context) (live.Transport, error) {
		if cfg.PushTransport == "amqp" {
			return liveamqp.Dial(cfg.RabbitURL, cfg.RabbitExchange)
		}
		return wsock.Dial(ctx, cfg.WebSocketURL(), nil)
	}

	if cfg.PushTransport == "amqp" {
		app.announce = func(ctx context.Context, n live.Notification) error {
			t, err := liveamqp.Dial(cfg.RabbitURL, cfg.RabbitExchange)
			if err != nil {
				return err
			}
			defer t.Close()
			return t.Publish(ctx, n)
		}
	}

	if err := app.Session.Restore(ctx); err != nil {
		zlog.Warn().Err(err).Msg("session restore failed")
	}
	return app, nil
}

// Fetcher builds a listing fetcher wired to the cache when one is available.
func (a *App) Fetcher() *listing.Fetcher {
	opts := []listing.Option{listing.WithNotifier(a.Notifier)}
	if a.Cache != nil && a.Config.CacheTTLList > 0 {
		opts = append(opts, listing.WithCache(a.Cache, a.Config.CacheTTLList))
	}
	return listing.New(a.API, opts...)
}

// Hub dials the push channel. The caller closes the hub.
func (a *App) Hub(ctx context.Context) (*live.Hub, error) {
	t, err := a.dialPush(ctx)
	if err != nil {
		return nil, err
	}
	return live.NewHub(t), nil
}

// invalidateListings drops cached listing pages after a local mutation.
func (a *App) invalidateListings(ctx context.Context) {
	if a.Cache == nil {
		return
	}
	n, err := a.Cache.InvalidateListings(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("listing cache invalidation failed")
		return
	}
	zlog.Debug().Int("keys", n).Msg("listing cache invalidated")
}

// publishChange tells other subscribers of the event about a local edit or
// delete. Failures are logged; the mutation itself already succeeded.
func (a *App) publishChange(ctx context.Context, n live.Notification) {
	if a.announce == nil {
		return
	}
	if err := a.announce(ctx, n); err != nil {
		zlog.Warn().Err(err).Str("event_id", n.EventID).Str("kind", string(n.Kind)).Msg("change announcement failed")
	}
}

func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
}

// consoleNotifier prints notifications for the user.
type consoleNotifier struct {
	w io.Writer
}

func (c consoleNotifier) Notify(_ context.Context, n notify.Notification) {
	if n.Description == "" {
		fmt.Fprintf(c.w, "[%s] %s\n", n.Level, n.Title)
		return
	}
	fmt.Fprintf(c.w, "[%s] %s: %s\n", n.Level, n.Title, n.Description)
}
