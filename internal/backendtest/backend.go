// Package backendtest runs an in-process fake of the platform backend: the
// REST endpoints used by the client core and the realtime websocket.
package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/methminihima/medivault/internal/model"
	"github.com/methminihima/medivault/internal/wire"
)

// Route keys for FailNext and Calls.
const (
	RouteLogin         = "login"
	RouteList          = "list"
	RouteMarkRead      = "read"
	RouteMarkAllRead   = "read-all"
	RouteDelete        = "delete"
	RouteUsers         = "users"
	RouteSystemStatus  = "system-status"
	RouteRealtime      = "realtime"
	defaultTokenExpiry = 24 * time.Hour
)

type account struct {
	password string
	user     model.User
}

// Backend is a fake backend served over httptest.
type Backend struct {
	server *httptest.Server
	hub    *Hub
	logger *slog.Logger
	secret []byte

	mu            sync.Mutex
	accounts      map[string]account
	notifications map[string]model.Notification
	failures      map[string][]int
	calls         map[string]int
	tokenExpiry   time.Duration
}

// New starts a fake backend. Callers must Close it.
func New() *Backend {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := &Backend{
		hub:           NewHub(logger),
		logger:        logger,
		secret:        []byte(uuid.NewString()),
		accounts:      make(map[string]account),
		notifications: make(map[string]model.Notification),
		failures:      make(map[string][]int),
		calls:         make(map[string]int),
		tokenExpiry:   defaultTokenExpiry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", b.login)
	mux.HandleFunc("GET /api/notifications", b.authed(RouteList, b.listNotifications))
	mux.HandleFunc("PATCH /api/notifications/read-all", b.authed(RouteMarkAllRead, b.markAllRead))
	mux.HandleFunc("PATCH /api/notifications/{id}/read", b.authed(RouteMarkRead, b.markRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", b.authed(RouteDelete, b.deleteNotification))
	mux.HandleFunc("GET /api/users", b.authed(RouteUsers, b.listUsers))
	mux.HandleFunc("GET /api/reports/system-status", b.authed(RouteSystemStatus, b.systemStatus))
	mux.HandleFunc("GET /ws", b.realtime)

	b.server = httptest.NewServer(mux)
	return b
}

// Close drops realtime clients and stops the server.
func (b *Backend) Close() {
	b.hub.Drop()
	b.server.Close()
}

// APIURL is the REST base URL.
func (b *Backend) APIURL() string {
	return b.server.URL + "/api"
}

// RealtimeURL is the websocket URL.
func (b *Backend) RealtimeURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws"
}

// AddUser registers an account that can log in.
func (b *Backend) AddUser(email, password string, user model.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if user.Email == "" {
		user.Email = email
	}
	b.accounts[strings.ToLower(email)] = account{password: password, user: user}
}

// SetTokenExpiry sets the exp claim lifetime of minted tokens.
func (b *Backend) SetTokenExpiry(d time.Duration) {
	b.mu.Lock()
	b.tokenExpiry = d
	b.mu.Unlock()
}

// SetNotifications replaces the server-side notification list.
func (b *Backend) SetNotifications(items ...model.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = make(map[string]model.Notification, len(items))
	for _, n := range items {
		b.notifications[n.ID] = n
	}
}

// Notifications returns the server-side list, newest first.
func (b *Backend) Notifications() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked()
}

func (b *Backend) sortedLocked() []model.Notification {
	out := make([]model.Notification, 0, len(b.notifications))
	for _, n := range b.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Notify stores n and pushes it to connected clients as notification:new.
func (b *Backend) Notify(n model.Notification) {
	b.mu.Lock()
	b.notifications[n.ID] = n
	b.mu.Unlock()
	b.Push("notification:new", n)
}

// Push broadcasts a raw event to connected clients.
func (b *Backend) Push(event string, data any) {
	b.hub.Broadcast(event, data)
}

// DropConnections closes every realtime connection.
func (b *Backend) DropConnections() {
	b.hub.Drop()
}

// Clients returns the number of connected realtime clients.
func (b *Backend) Clients() int {
	return b.hub.ClientCount()
}

// FailNext makes the next calls to route answer with the given statuses,
// one per call. Status 0 hangs up without a response.
func (b *Backend) FailNext(route string, statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = append(b.failures[route], statuses...)
}

// Calls returns how many requests reached route.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// injectFailure counts the call and applies a queued failure. It reports
// whether the request was handled.
func (b *Backend) injectFailure(route string, w http.ResponseWriter) bool {
	b.mu.Lock()
	b.calls[route]++
	queue := b.failures[route]
	if len(queue) == 0 {
		b.mu.Unlock()
		return false
	}
	status := queue[0]
	b.failures[route] = queue[1:]
	b.mu.Unlock()

	if status == 0 {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return true
			}
		}
		status = http.StatusBadGateway
	}
	writeEnvelope(w, status, false, nil, http.StatusText(status))
	return true
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, message string) {
	env := map[string]any{"success": success}
	if data != nil {
		env["data"] = data
	}
	if message != "" {
		env["message"] = message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func (b *Backend) mintToken(userID string) (string, error) {
	b.mu.Lock()
	ttl := b.tokenExpiry
	b.mu.Unlock()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

func (b *Backend) verifyToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func (b *Backend) authed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.injectFailure(route, w) {
			return
		}
		if _, err := b.verifyToken(bearer(r)); err != nil {
			writeEnvelope(w, http.StatusUnauthorized, false, nil, "Not authorized")
			return
		}
		next(w, r)
	}
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	if b.injectFailure(RouteLogin, w) {
		return
	}

	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "Invalid request body")
		return
	}

	b.mu.Lock()
	acct, ok := b.accounts[strings.ToLower(strings.TrimSpace(creds.Email))]
	b.mu.Unlock()
	if !ok || acct.password != creds.Password {
		writeEnvelope(w, http.StatusUnauthorized, false, nil, "Invalid email or password")
		return
	}

	token, err := b.mintToken(acct.user.ID)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, false, nil, "token error")
		return
	}
	writeEnvelope(w, http.StatusOK, true, map[string]any{
		"token":     token,
		"user":      acct.user,
		"sessionId": uuid.NewString(),
	}, "")
}

func (b *Backend) listNotifications(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	items := b.sortedLocked()
	b.mu.Unlock()
	writeEnvelope(w, http.StatusOK, true, items, "")
}

func (b *Backend) markRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	n, ok := b.notifications[id]
	if ok {
		n.Read = true
		b.notifications[id] = n
	}
	b.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "Notification not found")
		return
	}
	writeEnvelope(w, http.StatusOK, true, n, "")
}

func (b *Backend) markAllRead(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	for id, n := range b.notifications {
		n.Read = true
		b.notifications[id] = n
	}
	b.mu.Unlock()
	writeEnvelope(w, http.StatusOK, true, nil, "All notifications marked as read")
}

func (b *Backend) deleteNotification(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	_, ok := b.notifications[id]
	delete(b.notifications, id)
	b.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "Notification not found")
		return
	}
	writeEnvelope(w, http.StatusOK, true, nil, "Notification deleted")
}

func (b *Backend) listUsers(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	users := make([]model.User, 0, len(b.accounts))
	for _, a := range b.accounts {
		users = append(users, a.user)
	}
	b.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	writeEnvelope(w, http.StatusOK, true, users, "")
}

func (b *Backend) systemStatus(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, true, map[string]any{
		"database":      "connected",
		"realtime":      b.hub.ClientCount(),
		"notifications": len(b.Notifications()),
	}, "")
}

// realtime accepts a websocket after checking the bearer header, then
// requires an auth frame carrying the same token.
func (b *Backend) realtime(w http.ResponseWriter, r *http.Request) {
	if b.injectFailure(RouteRealtime, w) {
		return
	}
	token := bearer(r)
	userID, err := b.verifyToken(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		b.logger.Error("websocket accept", "error", err)
		return
	}

	if err := b.checkAuthFrame(r, conn, token); err != nil {
		b.logger.Warn("realtime auth", "error", err)
		conn.Close(ws.StatusPolicyViolation, "authentication required")
		return
	}

	NewClient(b.hub, conn, userID).Run(r.Context())
}

func (b *Backend) checkAuthFrame(r *http.Request, conn *ws.Conn, token string) error {
	_, data, err := conn.Read(r.Context())
	if err != nil {
		return fmt.Errorf("read auth frame: %w", err)
	}
	var ev wire.Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event != "auth" {
		return errors.New("first frame is not auth")
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Token != token {
		return errors.New("auth token mismatch")
	}
	return nil
}
