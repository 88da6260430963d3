package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/methminihima/medivault/internal/wire"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var ev wire.Event
		if json.Unmarshal(data, &ev) != nil || ev.Event != "auth" {
			conn.Close(ws.StatusPolicyViolation, "auth required")
			return
		}
		conn.Write(r.Context(), ws.MessageText, []byte(`{"event":"notification:new","data":{"id":"n1"}}`))
		conn.Read(r.Context())
	}))
	defer server.Close()

	c := newTestChannel(WebSocketDialer{}, nil, fastBackoff(1))
	defer c.Disconnect()
	c.cfg.URL = wsURL(server)

	got := make(chan json.RawMessage, 1)
	c.On(EventNotificationNew, func(data json.RawMessage) { got <- data })
	c.Connect("tok")

	select {
	case data := <-got:
		if !strings.Contains(string(data), `"n1"`) {
			t.Errorf("data = %s", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWebSocketDialerUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := WebSocketDialer{}.Dial(context.Background(), wsURL(server), "bad")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestWebSocketPolicyCloseIsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(ws.StatusPolicyViolation, "token expired")
	}))
	defer server.Close()

	conn, err := WebSocketDialer{}.Dial(context.Background(), wsURL(server), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Read(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("read err = %v, want ErrUnauthorized", err)
	}
}
