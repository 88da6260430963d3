package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/methminihima/medivault/internal/api"
	"github.com/methminihima/medivault/internal/backendtest"
	"github.com/methminihima/medivault/internal/config"
	"github.com/methminihima/medivault/internal/database"
	"github.com/methminihima/medivault/internal/model"
	"github.com/methminihima/medivault/internal/role"
	"github.com/methminihima/medivault/internal/session"
	"github.com/methminihima/medivault/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(b *backendtest.Backend) config.Config {
	return config.Config{
		APIURL:          b.APIURL(),
		RealtimeURL:     b.RealtimeURL(),
		HTTPTimeout:     5 * time.Second,
		ReconnectBase:   10 * time.Millisecond,
		ReconnectCap:    50 * time.Millisecond,
		ReconnectMax:    5,
		RefreshInterval: time.Hour,
	}
}

func newBackend(t *testing.T) *backendtest.Backend {
	t.Helper()
	b := backendtest.New()
	t.Cleanup(b.Close)
	b.AddUser("dr.silva@example.com", "pw", model.User{ID: "d1", FullName: "Dr. Silva", Role: "Doctor"})
	b.SetNotifications(
		model.Notification{ID: "n1", Type: "appointment", Title: "New appointment", CreatedAt: time.Now().Add(-time.Hour)},
		model.Notification{ID: "n2", Type: "lab", Title: "Results ready", CreatedAt: time.Now().Add(-2 * time.Hour), Read: true},
	)
	return b
}

func newCore(t *testing.T, cfg config.Config, dbPath string) *Core {
	t.Helper()
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	c, err := New(context.Background(), cfg, db, quietLogger())
	if err != nil {
		db.Close()
		t.Fatalf("new core: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		db.Close()
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var doctor = api.Credentials{Email: "dr.silva@example.com", Password: "pw"}

func TestLoginPushMutateLogout(t *testing.T) {
	b := newBackend(t)
	c := newCore(t, testConfig(b), ":memory:")
	ctx := context.Background()

	res, err := c.Login(ctx, doctor, false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Route != role.RouteDoctorDashboard {
		t.Errorf("route = %q", res.Route)
	}

	view := c.Notifications().View()
	if len(view.Items) != 2 || view.Unread != 1 {
		t.Fatalf("view after login = %+v", view)
	}

	waitFor(t, "realtime connection", func() bool { return b.Clients() == 1 && c.Channel().IsConnected() })

	b.Notify(model.Notification{ID: "n3", Type: "prescription", Title: "Refill approved", CreatedAt: time.Now()})
	waitFor(t, "pushed notification", func() bool { return len(c.Notifications().View().Items) == 3 })
	if first := c.Notifications().View().Items[0]; first.ID != "n3" {
		t.Errorf("newest item = %s, want n3", first.ID)
	}

	if err := c.Notifications().MarkAllRead(ctx); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	for _, n := range b.Notifications() {
		if !n.Read {
			t.Errorf("server still has %s unread", n.ID)
		}
	}

	if err := c.Notifications().Delete(ctx, "n1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := len(b.Notifications()); got != 2 {
		t.Errorf("server items = %d, want 2", got)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c.Sessions().IsSessionValid(ctx) {
		t.Error("session valid after logout")
	}
	if len(c.Notifications().View().Items) != 0 {
		t.Error("view should be empty after logout")
	}
	if c.Channel().IsConnected() {
		t.Error("channel still connected after logout")
	}
	waitFor(t, "server side disconnect", func() bool { return b.Clients() == 0 })

	calls := b.Calls(backendtest.RouteList)
	if _, err := c.Notifications().Refresh(ctx); err == nil {
		t.Error("refresh after logout should fail")
	}
	if b.Calls(backendtest.RouteList) != calls {
		t.Error("refresh after logout must not reach the server")
	}
}

func TestInvalidCredentials(t *testing.T) {
	b := newBackend(t)
	c := newCore(t, testConfig(b), ":memory:")

	_, err := c.Login(context.Background(), api.Credentials{Email: doctor.Email, Password: "nope"}, false)
	var ae *session.AuthError
	if !errors.As(err, &ae) || ae.Kind != session.KindCredentials {
		t.Fatalf("err = %v, want credentials AuthError", err)
	}
	if ae.Message != "Invalid email or password" {
		t.Errorf("message = %q", ae.Message)
	}
}

func TestServerUnreachable(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(b)
	b.Close()

	c := newCore(t, cfg, ":memory:")
	_, err := c.Login(context.Background(), doctor, false)
	var ae *session.AuthError
	if !errors.As(err, &ae) || ae.Kind != session.KindNetwork {
		t.Fatalf("err = %v, want network AuthError", err)
	}
}

func TestRestoreAfterRestart(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(b)
	cfg.StoreKey = "device-passphrase"
	dbPath := filepath.Join(t.TempDir(), "client.db")
	ctx := context.Background()

	first := newCore(t, cfg, dbPath)
	if _, err := first.Login(ctx, doctor, true); err != nil {
		t.Fatalf("login: %v", err)
	}
	first.Close()

	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	raw, ok, err := store.NewKVStore(db, "session").Get(ctx, store.KeyToken)
	db.Close()
	if err != nil || !ok {
		t.Fatalf("token not stored: %v", err)
	}
	if !strings.HasPrefix(raw, "v1:") {
		t.Error("token should be sealed at rest")
	}

	b.FailNext(backendtest.RouteList, 500, 500)
	second := newCore(t, cfg, dbPath)
	res, err := second.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res == nil || res.Session.User.ID != "d1" || !res.Session.RememberMe {
		t.Fatalf("restored = %+v", res)
	}
	if got := len(second.Notifications().View().Items); got != 2 {
		t.Errorf("cached view items = %d, want 2", got)
	}
	waitFor(t, "realtime reconnect", second.Channel().IsConnected)
}

func TestStartWithoutSession(t *testing.T) {
	b := newBackend(t)
	c := newCore(t, testConfig(b), ":memory:")

	res, err := c.Start(context.Background())
	if err != nil || res != nil {
		t.Fatalf("start = %+v, %v; want nil, nil", res, err)
	}
	if c.Channel().IsConnected() {
		t.Error("channel should stay disconnected without a session")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	b := newBackend(t)
	c := newCore(t, testConfig(b), ":memory:")
	ctx := context.Background()

	if _, err := c.Login(ctx, doctor, false); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitFor(t, "connected", func() bool { return b.Clients() == 1 })

	// Stored without a push; the refresh after reconnect picks it up.
	b.SetNotifications(append(b.Notifications(), model.Notification{ID: "missed", CreatedAt: time.Now()})...)
	b.DropConnections()

	waitFor(t, "reconnected", func() bool { return b.Clients() == 1 && c.Channel().IsConnected() })
	waitFor(t, "missed notification", func() bool {
		for _, n := range c.Notifications().View().Items {
			if n.ID == "missed" {
				return true
			}
		}
		return false
	})

	transitions := testutil.ToFloat64(c.metrics.ChannelTransitions.WithLabelValues("connected"))
	if transitions < 2 {
		t.Errorf("connected transitions = %v, want >= 2", transitions)
	}
}

func TestRejectedRealtimeTokenIsTerminal(t *testing.T) {
	b := newBackend(t)
	c := newCore(t, testConfig(b), ":memory:")
	b.FailNext(backendtest.RouteRealtime, 401)

	if _, err := c.Login(context.Background(), doctor, false); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitFor(t, "channel gives up", func() bool { return c.Channel().State().Err != nil })
	if got := b.Calls(backendtest.RouteRealtime); got != 1 {
		t.Errorf("realtime dials = %d, want 1", got)
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	ran := make(chan struct{}, 4)
	s := NewScheduler(quietLogger(), Job{Name: "tick", Every: time.Second, Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Idempotent.
	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
	s.Stop()
	s.Stop()
}
