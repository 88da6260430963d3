package wire

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeNotificationJSON(t *testing.T) {
	data := []byte(`{"id":"n1","type":"Appointment","title":"Visit","message":"Tomorrow","createdAt":"2026-03-01T09:00:00Z","read":false,"metadata":{"event":"appointment_booked"}}`)

	n, err := DecodeNotificationJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.ID != "n1" {
		t.Errorf("id = %q, want n1", n.ID)
	}
	if n.Type != "appointment" {
		t.Errorf("type = %q, want appointment", n.Type)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !n.CreatedAt.Equal(want) {
		t.Errorf("createdAt = %v, want %v", n.CreatedAt, want)
	}
	if n.Metadata["event"] != "appointment_booked" {
		t.Errorf("metadata = %v", n.Metadata)
	}
}

func TestDecodeNotificationAliases(t *testing.T) {
	data := []byte(`{"_id":"abc","isRead":true,"body":"hello","created_at":1772355600000}`)

	n, err := DecodeNotificationJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.ID != "abc" {
		t.Errorf("id = %q, want abc", n.ID)
	}
	if !n.Read {
		t.Error("expected read = true")
	}
	if n.Message != "hello" {
		t.Errorf("message = %q, want hello", n.Message)
	}
	if n.Type != "system" {
		t.Errorf("type = %q, want default system", n.Type)
	}
	if n.CreatedAt.UnixMilli() != 1772355600000 {
		t.Errorf("createdAt = %v", n.CreatedAt)
	}
}

func TestDecodeNotificationWrapped(t *testing.T) {
	n, err := DecodeNotificationJSON([]byte(`{"notification":{"id":"n9","title":"Wrapped"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.ID != "n9" || n.Title != "Wrapped" {
		t.Errorf("got %+v", n)
	}
}

func TestDecodeNotificationMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"missing id", `{"title":"x"}`},
		{"blank id", `{"id":"   "}`},
		{"bad time", `{"id":"n1","createdAt":"yesterday"}`},
		{"bad metadata", `{"id":"n1","metadata":"oops"}`},
	}
	for _, tt := range tests {
		_, err := DecodeNotificationJSON([]byte(tt.data))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", tt.name, err)
		}
	}
}

func TestDecodeNotificationList(t *testing.T) {
	data := []byte(`[{"id":"a"},{"title":"no id"},"junk",{"id":"b","read":true}]`)

	items, skipped, err := DecodeNotificationList(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if items[1].ID != "b" || !items[1].Read {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestDecodeNotificationListWrapped(t *testing.T) {
	items, _, err := DecodeNotificationList([]byte(`{"notifications":[{"id":"a"}],"total":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("len = %d, want 1", len(items))
	}

	if _, _, err := DecodeNotificationList([]byte(`{"total":1}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeLogin(t *testing.T) {
	data := []byte(`{"token":"t0k","user":{"_id":"u1","fullName":"Dr. Silva","role":"Doctor","email":null},"sessionId":"s1"}`)

	p, err := DecodeLogin(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Token != "t0k" {
		t.Errorf("token = %q", p.Token)
	}
	if p.User.ID != "u1" || p.User.Role != "Doctor" {
		t.Errorf("user = %+v", p.User)
	}
	if p.User.Email != "" {
		t.Errorf("email = %q, want empty for null", p.User.Email)
	}
	if p.SessionID != "s1" {
		t.Errorf("sessionId = %q, want s1", p.SessionID)
	}
}

func TestDecodeLoginMissingFields(t *testing.T) {
	tests := []string{
		`{"user":{"id":"u1"}}`,
		`{"token":"","user":{"id":"u1"}}`,
		`{"token":"t"}`,
		`{"token":"t","user":"u1"}`,
		`[]`,
	}
	for _, data := range tests {
		if _, err := DecodeLogin([]byte(data)); !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodeLogin(%s) err = %v, want ErrMalformed", data, err)
		}
	}
}

func TestDecodeUserList(t *testing.T) {
	users, err := DecodeUserList([]byte(`{"users":[{"id":"u1","name":"Nimal","role":"pharmacist"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 1 || users[0].FullName != "Nimal" {
		t.Errorf("users = %+v", users)
	}
}
