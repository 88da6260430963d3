// Package notification merges REST-fetched and pushed notifications into one
// deduplicated collection and applies user mutations optimistically.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/methminihima/medivault/internal/metrics"
	"github.com/methminihima/medivault/internal/model"
	"github.com/methminihima/medivault/internal/realtime"
	"github.com/methminihima/medivault/internal/wire"
)

const backgroundRefreshTimeout = 30 * time.Second

// Backend is the REST side of notifications.
type Backend interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// SessionGuard reports the identity of the current login, empty when logged
// out.
type SessionGuard interface {
	ActiveSessionID() string
}

// Cache persists the collection between runs.
type Cache interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	ReplaceNotifications(ctx context.Context, items []model.Notification) error
	ClearNotifications(ctx context.Context) error
}

// Source delivers realtime events.
type Source interface {
	On(event string, h realtime.Handler) uint64
	Off(event string, id uint64)
}

// View is what subscribers see: newest first, ties broken by id.
type View struct {
	Items  []model.Notification
	Unread int
}

type Option func(*Reconciler)

func WithCache(c Cache) Option {
	return func(r *Reconciler) {
		r.cache = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler owns the notification collection. The REST list is
// authoritative for membership; pushes are merged by id in between.
type Reconciler struct {
	backend Backend
	guard   SessionGuard
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	flight  singleflight.Group

	mu         sync.RWMutex
	items      map[string]model.Notification
	tombstones map[string]struct{}
	// written maps ids to the sequence of their last local write (push or
	// mutation), so a refresh started earlier does not undo it.
	written map[string]uint64
	seq     uint64
	subs    map[uint64]func(View)
	nextSub uint64

	// publishMu orders cache writes and subscriber delivery.
	publishMu sync.Mutex
}

type listing struct {
	items []model.Notification
	seq   uint64
}

// New creates an empty reconciler.
func New(backend Backend, guard SessionGuard, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend:    backend,
		guard:      guard,
		logger:     slog.Default(),
		now:        time.Now,
		items:      make(map[string]model.Notification),
		tombstones: make(map[string]struct{}),
		written:    make(map[string]uint64),
		subs:       make(map[uint64]func(View)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Discard()
	}
	r.logger = r.logger.With("component", "notifications")
	return r
}

// View returns the current collection.
func (r *Reconciler) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewLocked()
}

func (r *Reconciler) viewLocked() View {
	v := View{Items: make([]model.Notification, 0, len(r.items))}
	for _, n := range r.items {
		v.Items = append(v.Items, n)
		if !n.Read {
			v.Unread++
		}
	}
	sort.Slice(v.Items, func(i, j int) bool {
		a, b := v.Items[i], v.Items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return v
}

// Subscribe calls fn with the current view now and after every change.
// Calls are serialized and the last one always carries the latest view. fn
// must not mutate the reconciler. The returned func unsubscribes.
func (r *Reconciler) Subscribe(fn func(View)) func() {
	r.publishMu.Lock()
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	view := r.viewLocked()
	r.mu.Unlock()

	fn(view)
	r.publishMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// changed persists and publishes the latest state.
func (r *Reconciler) changed(ctx context.Context) {
	if err := r.publish(ctx); err != nil {
		r.logger.Warn("cache notifications", "error", err)
	}
}

// publish reads the view inside publishMu, so a change that lands while an
// older view is being delivered is always delivered after it.
func (r *Reconciler) publish(ctx context.Context) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.RLock()
	view := r.viewLocked()
	subs := make([]func(View), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.RUnlock()

	r.metrics.Notifications.Set(float64(len(view.Items)))
	r.metrics.Unread.Set(float64(view.Unread))
	err := r.persist(ctx, view.Items)

	for _, fn := range subs {
		fn(view)
	}
	return err
}

func (r *Reconciler) persist(ctx context.Context, items []model.Notification) error {
	if r.cache == nil {
		return nil
	}
	if len(items) == 0 {
		return r.cache.ClearNotifications(ctx)
	}
	return r.cache.ReplaceNotifications(ctx, items)
}

// touchLocked records a local write to id.
func (r *Reconciler) touchLocked(id string) {
	r.seq++
	r.written[id] = r.seq
}

// Refresh replaces the collection with the server's list. Known items keep
// their first-seen CreatedAt; items the server no longer returns are
// removed. Items written locally after the request started keep their local
// state. Concurrent calls for the same session share one request.
func (r *Reconciler) Refresh(ctx context.Context) ([]model.Notification, error) {
	identity := r.guard.ActiveSessionID()
	if identity == "" {
		return nil, ErrNoSession
	}

	v, err, _ := r.flight.Do(identity, func() (any, error) {
		r.mu.RLock()
		seq := r.seq
		r.mu.RUnlock()

		items, err := r.backend.ListNotifications(ctx)
		if err != nil {
			return nil, err
		}
		return listing{items: items, seq: seq}, nil
	})
	if err != nil {
		r.metrics.Refreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh notifications: %w", err)
	}
	fetched := v.(listing)

	r.mu.Lock()
	if r.guard.ActiveSessionID() != identity {
		r.mu.Unlock()
		r.metrics.Refreshes.WithLabelValues("stale").Inc()
		r.logger.Info("discarding refresh from previous session")
		return nil, ErrStaleSession
	}

	now := r.now()
	next := make(map[string]model.Notification, len(fetched.items))
	live := make(map[string]struct{}, len(r.tombstones))
	for _, n := range fetched.items {
		if _, deleted := r.tombstones[n.ID]; deleted {
			live[n.ID] = struct{}{}
			continue
		}
		if r.written[n.ID] > fetched.seq {
			if local, ok := r.items[n.ID]; ok {
				next[n.ID] = local
				continue
			}
		}
		if old, ok := r.items[n.ID]; ok {
			n.CreatedAt = old.CreatedAt
		} else if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		next[n.ID] = n
	}
	// Written locally while the request was in flight.
	for id, seq := range r.written {
		if seq <= fetched.seq {
			delete(r.written, id)
			continue
		}
		if _, ok := next[id]; ok {
			continue
		}
		if local, ok := r.items[id]; ok {
			next[id] = local
		}
	}
	// The server no longer lists these, so the delete has converged.
	for id := range r.tombstones {
		if _, ok := live[id]; !ok {
			delete(r.tombstones, id)
		}
	}
	r.items = next
	view := r.viewLocked()
	r.mu.Unlock()

	r.metrics.Refreshes.WithLabelValues("ok").Inc()
	r.logger.Debug("notifications refreshed", "count", len(view.Items), "unread", view.Unread)
	r.changed(ctx)
	return view.Items, nil
}

// OnPush merges one realtime notification by id. Pushes without a session
// or for deleted ids are ignored.
func (r *Reconciler) OnPush(raw json.RawMessage) error {
	n, err := wire.DecodeNotificationJSON(raw)
	if err != nil {
		r.metrics.PushEvents.WithLabelValues("malformed").Inc()
		return &ReconciliationError{Op: "push", Err: err}
	}
	if r.guard.ActiveSessionID() == "" {
		r.metrics.PushEvents.WithLabelValues("ignored").Inc()
		return nil
	}

	r.mu.Lock()
	if _, deleted := r.tombstones[n.ID]; deleted {
		r.mu.Unlock()
		r.metrics.PushEvents.WithLabelValues("ignored").Inc()
		return nil
	}
	old, known := r.items[n.ID]
	if known {
		n.CreatedAt = old.CreatedAt
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	if known && reflect.DeepEqual(old, n) {
		r.mu.Unlock()
		r.metrics.PushEvents.WithLabelValues("duplicate").Inc()
		return nil
	}
	r.items[n.ID] = n
	r.touchLocked(n.ID)
	r.mu.Unlock()

	r.metrics.PushEvents.WithLabelValues("merged").Inc()
	r.changed(context.Background())
	return nil
}

// MarkRead marks one notification read locally, then on the server.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	r.mu.Lock()
	n, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	n.Read = true
	r.items[id] = n
	r.touchLocked(id)
	r.mu.Unlock()
	r.changed(ctx)

	if err := r.backend.MarkNotificationRead(ctx, id); err != nil {
		return r.mutationFailed("mark_read", id, err)
	}
	r.metrics.Mutations.WithLabelValues("mark_read", "ok").Inc()
	return nil
}

// MarkAllRead marks every notification read locally, then on the server.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	r.mu.Lock()
	for id, n := range r.items {
		n.Read = true
		r.items[id] = n
		r.touchLocked(id)
	}
	r.mu.Unlock()
	r.changed(ctx)

	if err := r.backend.MarkAllNotificationsRead(ctx); err != nil {
		return r.mutationFailed("mark_all_read", "", err)
	}
	r.metrics.Mutations.WithLabelValues("mark_all_read", "ok").Inc()
	return nil
}

// Delete removes a notification locally, then on the server. Later pushes
// for the id are ignored unless the server call fails.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.items[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.items, id)
	r.tombstones[id] = struct{}{}
	r.mu.Unlock()
	r.changed(ctx)

	if err := r.backend.DeleteNotification(ctx, id); err != nil {
		r.mu.Lock()
		delete(r.tombstones, id)
		r.mu.Unlock()
		return r.mutationFailed("delete", id, err)
	}
	r.metrics.Mutations.WithLabelValues("delete", "ok").Inc()
	return nil
}

func (r *Reconciler) mutationFailed(op, id string, err error) error {
	r.metrics.Mutations.WithLabelValues(op, "error").Inc()
	r.logger.Warn("notification mutation failed, keeping local state",
		"op", op,
		"id", id,
		"error", err,
	)
	return &ReconciliationError{Op: op, ID: id, Err: err}
}

// Attach subscribes the reconciler to realtime events and returns a func
// that detaches it.
func (r *Reconciler) Attach(src Source) func() {
	onPush := func(data json.RawMessage) {
		if err := r.OnPush(data); err != nil {
			r.logger.Warn("dropping realtime notification", "error", err)
		}
	}
	onHint := func(data json.RawMessage) {
		if isNotification(data) {
			onPush(data)
			return
		}
		go r.refreshInBackground()
	}

	ids := map[string]uint64{
		realtime.EventNotificationNew:    src.On(realtime.EventNotificationNew, onPush),
		realtime.EventMessageNew:         src.On(realtime.EventMessageNew, onHint),
		realtime.EventAppointmentUpdated: src.On(realtime.EventAppointmentUpdated, onHint),
	}
	return func() {
		for event, id := range ids {
			src.Off(event, id)
		}
	}
}

// isNotification reports whether a hint event carries a notification
// record rather than some other entity.
func isNotification(data json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	if _, ok := obj["notification"]; ok {
		return true
	}
	_, hasID := obj["id"]
	if !hasID {
		_, hasID = obj["_id"]
	}
	_, hasTitle := obj["title"]
	_, hasType := obj["type"]
	return hasID && (hasTitle || hasType)
}

func (r *Reconciler) refreshInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
	defer cancel()

	if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleSession) && !errors.Is(err, ErrNoSession) {
		r.logger.Warn("background refresh failed", "error", err)
	}
}

// Restore loads the cached collection into an empty reconciler.
func (r *Reconciler) Restore(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	items, err := r.cache.ListNotifications(ctx)
	if err != nil {
		return fmt.Errorf("restore notifications: %w", err)
	}

	r.mu.Lock()
	if len(r.items) > 0 {
		r.mu.Unlock()
		return nil
	}
	for _, n := range items {
		r.items[n.ID] = n
	}
	r.mu.Unlock()

	r.logger.Debug("restored cached notifications", "count", len(items))
	r.changed(ctx)
	return nil
}

// Reset drops the collection, tombstones and cache.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.items = make(map[string]model.Notification)
	r.tombstones = make(map[string]struct{})
	r.written = make(map[string]uint64)
	r.mu.Unlock()

	if err := r.publish(ctx); err != nil {
		return fmt.Errorf("clear notification cache: %w", err)
	}
	return nil
}
