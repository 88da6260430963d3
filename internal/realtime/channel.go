package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/methminihima/medivault/internal/metrics"
	"github.com/methminihima/medivault/internal/wire"
)

// Status is the connection status of the channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusBackingOff   Status = "backing_off"
)

// Inbound event names.
const (
	EventNotificationNew    = "notification:new"
	EventMessageNew         = "message:new"
	EventAppointmentUpdated = "appointment:updated"

	eventAuth = "auth"
)

const (
	pingInterval = 30 * time.Second
	stopTimeout  = 5 * time.Second
)

// State is a snapshot of the channel. ReconnectAttempt is reset on every
// transition to connected.
type State struct {
	Status           Status
	ReconnectAttempt int
	Err              error
}

// StateCallback is called on every state change, outside the channel lock.
type StateCallback func(State)

// Handler receives the data of one inbound event.
type Handler func(data json.RawMessage)

// Config configures a Channel. Only URL is required; a zero Backoff means
// DefaultBackoff.
type Config struct {
	URL          string
	Dialer       Dialer
	Backoff      BackoffPolicy
	PingInterval time.Duration
	OnState      StateCallback
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Channel is a reconnecting, authenticated event channel to the backend.
// Handlers run sequentially on the channel's read goroutine.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	state    State
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
	runID    uint64
	handlers map[string]map[uint64]Handler
	nextID   uint64

	writeMu sync.Mutex
}

// New creates a disconnected channel.
func New(cfg Config) *Channel {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = pingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	return &Channel{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "realtime"),
		state:    State{Status: StatusDisconnected},
		handlers: make(map[string]map[uint64]Handler),
	}
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the channel currently has a live connection.
func (c *Channel) IsConnected() bool {
	return c.State().Status == StatusConnected
}

// Connect starts connecting with token in the background. A running
// connection is torn down first. The returned id names this run for
// DisconnectRun.
func (c *Channel) Connect(token string) uint64 {
	c.Disconnect()

	c.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.runID++
	id := c.runID
	done := c.done
	cb := c.setStateLocked(State{Status: StatusConnecting})
	c.mu.Unlock()
	c.notify(cb)

	go c.run(ctx, token, done)
	return id
}

// Disconnect closes the connection and stops reconnecting. It is a no-op
// when the channel is not running.
func (c *Channel) Disconnect() {
	c.stop(0)
}

// DisconnectRun is Disconnect limited to the run started by the Connect
// call that returned id. A later run is left alone.
func (c *Channel) DisconnectRun(id uint64) {
	if id == 0 {
		return
	}
	c.stop(id)
}

func (c *Channel) stop(id uint64) {
	c.mu.Lock()
	if id != 0 && id != c.runID {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		c.logger.Warn("disconnect timed out", "timeout", stopTimeout)
	}
}

// On registers a handler for event and returns an id for Off.
func (c *Channel) On(event string, h Handler) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][c.nextID] = h
	return c.nextID
}

// Off removes a handler registered with On.
func (c *Channel) Off(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers[event], id)
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// Emit sends an event to the server. While disconnected the event is dropped
// with a warning.
func (c *Channel) Emit(ctx context.Context, event string, payload any) {
	c.mu.RLock()
	conn := c.conn
	connected := c.state.Status == StatusConnected
	c.mu.RUnlock()

	if !connected || conn == nil {
		c.logger.Warn("emit while disconnected, dropped", "event", event)
		return
	}

	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.logger.Warn("encode event", "event", event, "error", err)
		return
	}
	if err := c.write(ctx, conn, frame); err != nil {
		c.logger.Warn("emit failed", "event", event, "error", err)
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire.Event{Event: event, Data: data})
}

func (c *Channel) write(ctx context.Context, conn Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, frame)
}

func (c *Channel) setStateLocked(s State) State {
	c.state = s
	c.cfg.Metrics.ChannelTransitions.WithLabelValues(string(s.Status)).Inc()
	return s
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
	c.notify(s)
}

func (c *Channel) notify(s State) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Channel) run(ctx context.Context, token string, done chan struct{}) {
	defer close(done)

	for {
		conn, err := c.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(State{Status: StatusDisconnected})
				return
			}
			c.logger.Error("realtime channel gave up", "error", err)
			c.setState(State{Status: StatusDisconnected, Err: err})
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.setStateLocked(State{Status: StatusConnected})
		c.mu.Unlock()
		c.notify(State{Status: StatusConnected})
		c.logger.Info("realtime channel connected")

		err = c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			c.setState(State{Status: StatusDisconnected})
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			c.logger.Warn("realtime token rejected", "error", err)
			c.setState(State{Status: StatusDisconnected, Err: &ChannelError{Err: err}})
			return
		}

		c.logger.Warn("realtime connection lost", "error", err)
		c.setState(State{Status: StatusConnecting, Err: err})
	}
}

// dial runs one connect cycle: the first dial plus up to MaxAttempts
// reconnects spaced by the backoff policy.
func (c *Channel) dial(ctx context.Context, token string) (Conn, error) {
	backoff := c.cfg.Backoff.New()
	attempt := 0

	for {
		conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL, token)
		if err == nil {
			if err = c.handshake(ctx, conn, token); err == nil {
				return conn, nil
			}
			conn.Close()
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) {
			return nil, &ChannelError{Attempts: attempt, Err: err}
		}

		delay, stop := backoff.Next()
		if stop {
			return nil, &ChannelError{Attempts: attempt, Err: err}
		}
		attempt++
		c.cfg.Metrics.ReconnectAttempts.Inc()
		c.setState(State{Status: StatusBackingOff, ReconnectAttempt: attempt, Err: err})
		c.logger.Warn("realtime dial failed, retrying",
			"error", err,
			"delay", delay,
			"attempt", attempt,
			"max_attempts", c.cfg.Backoff.MaxAttempts,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		c.setState(State{Status: StatusConnecting, ReconnectAttempt: attempt, Err: err})
	}
}

func (c *Channel) handshake(ctx context.Context, conn Conn, token string) error {
	frame, err := encodeFrame(eventAuth, map[string]string{"token": token})
	if err != nil {
		return err
	}
	return c.write(ctx, conn, frame)
}

// serve reads frames until the connection fails or ctx is cancelled, and
// pings the server in the background.
func (c *Channel) serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.pingLoop(ctx, conn)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Event == "" {
			c.logger.Warn("ignoring malformed frame", "size", len(data))
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("realtime ping failed", "error", err)
					conn.Close()
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) dispatch(ev wire.Event) {
	c.mu.RLock()
	hs := make([]Handler, 0, len(c.handlers[ev.Event]))
	for _, h := range c.handlers[ev.Event] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	if len(hs) == 0 {
		c.logger.Debug("no handler for event", "event", ev.Event)
		return
	}
	for _, h := range hs {
		h(ev.Data)
	}
}
