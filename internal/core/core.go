// Package core wires the session manager, realtime channel and notification
// reconciler into one client.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/methminihima/medivault/internal/api"
	"github.com/methminihima/medivault/internal/config"
	"github.com/methminihima/medivault/internal/metrics"
	"github.com/methminihima/medivault/internal/notification"
	"github.com/methminihima/medivault/internal/realtime"
	"github.com/methminihima/medivault/internal/session"
	"github.com/methminihima/medivault/internal/store"
)

const sweepInterval = time.Minute

type Option func(*options)

type options struct {
	dialer     realtime.Dialer
	httpClient *http.Client
	now        func() time.Time
}

// WithDialer replaces the websocket dialer.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithHTTPClient replaces the REST client's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithClock overrides the session clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Core is the client core. Only its session manager connects or
// disconnects the channel.
type Core struct {
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	api       *api.Client
	channel   *realtime.Channel
	sessions  *session.Manager
	notifs    *notification.Reconciler
	scheduler *Scheduler
	detach    func()
}

// New builds the core on an open database.
func New(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger, opts ...Option) (*Core, error) {
	o := options{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var sealer *store.Sealer
	if cfg.StoreKey != "" {
		salt, err := store.LoadOrCreateSalt(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("load sealer salt: %w", err)
		}
		sealer, err = store.NewSealer(cfg.StoreKey, salt)
		if err != nil {
			return nil, fmt.Errorf("create sealer: %w", err)
		}
	}

	c := &Core{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	m := metrics.New(c.registry)
	c.metrics = m

	c.channel = realtime.New(realtime.Config{
		URL:    cfg.RealtimeURL,
		Dialer: o.dialer,
		Backoff: realtime.BackoffPolicy{
			Base:        cfg.ReconnectBase,
			Cap:         cfg.ReconnectCap,
			MaxAttempts: cfg.ReconnectMax,
		},
		OnState: c.onChannelState,
		Logger:  logger,
		Metrics: m,
	})

	c.api = api.NewClient(cfg.APIURL,
		api.WithHTTPClient(o.httpClient),
		api.WithLogger(logger.With("component", "api")),
		api.WithTokenSource(api.TokenSourceFunc(func(ctx context.Context) (string, error) {
			return c.sessions.Token(ctx)
		})),
	)

	c.sessions = session.NewManager(
		store.NewSessionStore(db, sealer),
		c.api,
		c.channel,
		logger,
		session.WithClock(o.now),
		session.WithLogoutHook(func(ctx context.Context) {
			if err := c.notifs.Reset(ctx); err != nil {
				logger.Warn("reset notifications", "error", err)
			}
		}),
	)

	c.notifs = notification.New(c.api, c.sessions,
		notification.WithCache(store.NewNotificationStore(db)),
		notification.WithLogger(logger),
		notification.WithMetrics(m),
	)
	c.detach = c.notifs.Attach(c.channel)

	c.scheduler = NewScheduler(logger,
		Job{Name: "refresh notifications", Every: cfg.RefreshInterval, Run: c.refreshIfActive},
		Job{Name: "session expiry sweep", Every: sweepInterval, Run: func(ctx context.Context) error {
			c.sessions.IsSessionValid(ctx)
			return nil
		}},
	)
	return c, nil
}

// Start restores the cached notification view and any stored session, then
// starts the scheduler. The result is nil when there is nothing to resume.
func (c *Core) Start(ctx context.Context) (*session.LoginResult, error) {
	if err := c.notifs.Restore(ctx); err != nil {
		c.logger.Warn("restore cached notifications", "error", err)
	}

	res, err := c.sessions.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		if err := c.notifs.Reset(ctx); err != nil {
			c.logger.Warn("reset notifications", "error", err)
		}
	} else if _, err := c.notifs.Refresh(ctx); err != nil {
		c.logger.Warn("initial refresh", "error", err)
	}

	if err := c.scheduler.Start(); err != nil {
		return nil, err
	}
	return res, nil
}

// Login signs in and loads the notification list for the new session. A
// failed list fetch does not fail the login.
func (c *Core) Login(ctx context.Context, creds api.Credentials, rememberMe bool) (*session.LoginResult, error) {
	res, err := c.sessions.Login(ctx, creds, rememberMe)
	if err != nil {
		return nil, err
	}
	if err := c.notifs.Reset(ctx); err != nil {
		c.logger.Warn("reset notifications", "error", err)
	}
	if _, err := c.notifs.Refresh(ctx); err != nil {
		c.logger.Warn("initial refresh", "error", err)
	}
	return res, nil
}

// Logout ends the session.
func (c *Core) Logout(ctx context.Context) error {
	return c.sessions.Logout(ctx)
}

// Close stops background work and the channel. The stored session is kept.
func (c *Core) Close() {
	c.scheduler.Stop()
	c.detach()
	c.channel.Disconnect()
}

func (c *Core) Sessions() *session.Manager               { return c.sessions }
func (c *Core) Notifications() *notification.Reconciler { return c.notifs }
func (c *Core) Channel() *realtime.Channel              { return c.channel }
func (c *Core) API() *api.Client                        { return c.api }

// Registry exposes the core's metrics.
func (c *Core) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Core) refreshIfActive(ctx context.Context) error {
	if !c.sessions.IsSessionValid(ctx) {
		return nil
	}
	_, err := c.notifs.Refresh(ctx)
	if errors.Is(err, notification.ErrStaleSession) || errors.Is(err, notification.ErrNoSession) {
		return nil
	}
	return err
}

// onChannelState refreshes after every (re)connect, since events sent while
// the channel was down are lost.
func (c *Core) onChannelState(s realtime.State) {
	c.logger.Debug("realtime state", "status", s.Status, "attempt", s.ReconnectAttempt)
	if s.Status != realtime.StatusConnected {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := c.refreshIfActive(ctx); err != nil {
			c.logger.Warn("refresh after connect", "error", err)
		}
	}()
}
