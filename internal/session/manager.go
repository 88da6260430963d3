// Package session owns the authenticated session: login, expiry under the
// remember-me policy, restore on start and logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/methminihima/medivault/internal/api"
	"github.com/methminihima/medivault/internal/model"
	"github.com/methminihima/medivault/internal/role"
	"github.com/methminihima/medivault/internal/store"
	"github.com/methminihima/medivault/internal/wire"
)

// Session lifetimes.
const (
	DefaultTTL    = 24 * time.Hour
	RememberMeTTL = 30 * 24 * time.Hour
)

// Store persists the session.
type Store interface {
	Save(ctx context.Context, sess *model.Session) error
	Load(ctx context.Context) (*model.Session, error)
	Clear(ctx context.Context) error
}

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, creds api.Credentials) (*wire.LoginPayload, error)
}

// Channel is the realtime connection owned by the manager. Connect returns
// an id that DisconnectRun uses to stop only that run.
type Channel interface {
	Connect(token string) uint64
	Disconnect()
	DisconnectRun(id uint64)
}

// LogoutHook runs after the session ends, by logout or expiry.
type LogoutHook func(ctx context.Context)

// LoginResult is a new or restored session and its landing route.
type LoginResult struct {
	Session *model.Session
	Route   role.Route
}

type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogoutHook registers a hook run when the session ends.
func WithLogoutHook(h LogoutHook) Option {
	return func(m *Manager) {
		m.hooks = append(m.hooks, h)
	}
}

// Manager is the only owner of the session and of the realtime channel's
// connect and disconnect.
type Manager struct {
	store   Store
	auth    Authenticator
	channel Channel
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	identity string
	run      uint64
	hooks    []LogoutHook
}

// NewManager creates a session manager.
func NewManager(st Store, auth Authenticator, ch Channel, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:   st,
		auth:    auth,
		channel: ch,
		logger:  logger.With("component", "session"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnLogout registers a hook run when the session ends.
func (m *Manager) OnLogout(h LogoutHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

// Login authenticates, persists the session and connects the channel. Any
// failure to authenticate is an *AuthError; storage failures are returned
// as they are.
func (m *Manager) Login(ctx context.Context, creds api.Credentials, rememberMe bool) (*LoginResult, error) {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, &AuthError{Kind: KindCredentials, Message: "Email and password are required."}
	}

	payload, err := m.auth.Login(ctx, creds)
	if err != nil {
		ae := classify(err)
		m.logger.Warn("login failed", "kind", ae.Kind, "error", err)
		return nil, ae
	}

	ttl := DefaultTTL
	if rememberMe {
		ttl = RememberMeTTL
	}
	sess := &model.Session{
		Token:      payload.Token,
		User:       payload.User,
		SessionID:  payload.SessionID,
		ExpiresAt:  m.now().Add(ttl),
		RememberMe: rememberMe,
	}
	m.checkTokenExpiry(sess)

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.start(sess)
	route := role.RouteFor(sess.User.Role)
	m.logger.Info("logged in", "user", sess.User.ID, "role", role.Normalize(sess.User.Role), "remember_me", rememberMe)
	return &LoginResult{Session: sess, Route: route}, nil
}

// Restore resumes a stored valid session. It returns nil, nil when there is
// none.
func (m *Manager) Restore(ctx context.Context) (*LoginResult, error) {
	sess, err := m.Current(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	m.start(sess)
	m.logger.Info("session restored", "user", sess.User.ID, "expires_at", sess.ExpiresAt)
	return &LoginResult{Session: sess, Route: role.RouteFor(sess.User.Role)}, nil
}

func (m *Manager) start(sess *model.Session) {
	m.mu.Lock()
	m.identity = uuid.NewString()
	m.mu.Unlock()

	run := m.channel.Connect(sess.Token)
	m.mu.Lock()
	m.run = run
	m.mu.Unlock()
}

// Current returns the stored session, or nil when there is none. An expired
// or unreadable session is cleared on the way.
func (m *Manager) Current(ctx context.Context) (*model.Session, error) {
	sess, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			m.logger.Warn("discarding unreadable session", "error", err)
			m.evict(ctx)
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(m.now()) {
		m.logger.Info("session expired", "user", sess.User.ID, "expired_at", sess.ExpiresAt)
		m.evict(ctx)
		return nil, nil
	}
	return sess, nil
}

// IsSessionValid reports whether a token is stored and not past its expiry.
func (m *Manager) IsSessionValid(ctx context.Context) bool {
	sess, err := m.Current(ctx)
	if err != nil {
		m.logger.Error("check session", "error", err)
		return false
	}
	return sess != nil
}

// Token returns the bearer token for authenticated calls, or ErrNoSession
// without touching the network.
func (m *Manager) Token(ctx context.Context) (string, error) {
	sess, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrNoSession
	}
	return sess.Token, nil
}

// ActiveSessionID identifies the current login. It changes on every login
// or restore and is empty when logged out.
func (m *Manager) ActiveSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Logout disconnects the channel, clears the stored session and runs the
// logout hooks.
func (m *Manager) Logout(ctx context.Context) error {
	m.channel.Disconnect()
	err := m.store.Clear(ctx)
	m.end(ctx)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.logger.Info("logged out")
	return nil
}

// evict ends a session found expired or corrupt during a read. Readers can
// run on the channel's own goroutine, so the disconnect is not awaited, and
// it targets only the run of the evicted session so a login that follows
// keeps its connection.
func (m *Manager) evict(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("clear session", "error", err)
	}
	m.mu.Lock()
	run := m.run
	m.run = 0
	m.mu.Unlock()
	if run != 0 {
		go m.channel.DisconnectRun(run)
	}
	m.end(ctx)
}

func (m *Manager) end(ctx context.Context) {
	m.mu.Lock()
	m.identity = ""
	hooks := append([]LogoutHook(nil), m.hooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}

// checkTokenExpiry warns when the token is a JWT that expires before the
// local session does. The local expiry still governs validity.
func (m *Manager) checkTokenExpiry(sess *model.Session) {
	tok, _, err := jwt.NewParser().ParseUnverified(sess.Token, jwt.MapClaims{})
	if err != nil {
		m.logger.Debug("token is not a JWT", "error", err)
		return
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(sess.ExpiresAt) {
		m.logger.Warn("token expires before local session",
			"token_exp", exp.Time,
			"session_exp", sess.ExpiresAt,
		)
	}
}
