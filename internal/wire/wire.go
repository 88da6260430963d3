// Package wire decodes the loosely shaped JSON exchanged with the backend
// into the typed entities of the model package. Anything that does not fit
// the expected shape is rejected with ErrMalformed.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/methminihima/medivault/internal/model"
)

// ErrMalformed is returned for payloads that do not match the contract.
var ErrMalformed = errors.New("malformed payload")

// Envelope is the shape of every REST response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Event is one realtime frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LoginPayload is the validated data of a successful login.
type LoginPayload struct {
	Token     string
	User      model.User
	SessionID string
}

// Key aliases seen from different backend versions, mapped to canonical names.
var notificationAliases = map[string]string{
	"_id":        "id",
	"isRead":     "read",
	"is_read":    "read",
	"created_at": "createdAt",
	"body":       "message",
}

var userAliases = map[string]string{
	"_id":       "id",
	"full_name": "fullName",
	"name":      "fullName",
}

type rawNotification struct {
	ID        string         `mapstructure:"id"`
	Type      string         `mapstructure:"type"`
	Title     string         `mapstructure:"title"`
	Message   string         `mapstructure:"message"`
	CreatedAt time.Time      `mapstructure:"createdAt"`
	Read      bool           `mapstructure:"read"`
	Metadata  map[string]any `mapstructure:"metadata"`
}

type rawUser struct {
	ID       string `mapstructure:"id"`
	FullName string `mapstructure:"fullName"`
	Email    string `mapstructure:"email"`
	Role     string `mapstructure:"role"`
	Phone    string `mapstructure:"phone"`
}

var timeType = reflect.TypeOf(time.Time{})

// timeHook accepts RFC 3339 strings and epoch milliseconds.
func timeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", v, err)
		}
		return t, nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	}
	return data, nil
}

func decode(input map[string]any, aliases map[string]string, out any) error {
	normalized := make(map[string]any, len(input))
	for k, v := range input {
		if canonical, ok := aliases[k]; ok {
			if _, exists := input[canonical]; exists {
				continue
			}
			k = canonical
		}
		normalized[k] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       timeHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// DecodeNotification converts one generic JSON object into a Notification.
// A missing id is malformed; a missing type defaults to system.
func DecodeNotification(input map[string]any) (model.Notification, error) {
	var raw rawNotification
	if err := decode(input, notificationAliases, &raw); err != nil {
		return model.Notification{}, err
	}

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return model.Notification{}, fmt.Errorf("%w: notification without id", ErrMalformed)
	}
	typ := strings.ToLower(strings.TrimSpace(raw.Type))
	if typ == "" {
		typ = model.NotifTypeSystem
	}

	return model.Notification{
		ID:        id,
		Type:      typ,
		Title:     raw.Title,
		Message:   raw.Message,
		CreatedAt: raw.CreatedAt,
		Read:      raw.Read,
		Metadata:  raw.Metadata,
	}, nil
}

// DecodeNotificationJSON decodes a realtime payload. The notification may be
// the payload itself or wrapped as {"notification": {...}}.
func DecodeNotificationJSON(data []byte) (model.Notification, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return model.Notification{}, fmt.Errorf("%w: expected object", ErrMalformed)
	}
	if inner, ok := obj["notification"].(map[string]any); ok {
		if _, hasID := obj["id"]; !hasID {
			obj = inner
		}
	}
	return DecodeNotification(obj)
}

// DecodeNotificationList decodes the data of GET /notifications, which is
// either an array or {"notifications": [...]}. Malformed items are skipped
// and counted; only a malformed container is an error.
func DecodeNotificationList(data []byte) ([]model.Notification, int, error) {
	var container any
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var items []any
	switch v := container.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["notifications"].([]any)
		if !ok {
			return nil, 0, fmt.Errorf("%w: expected notification list", ErrMalformed)
		}
		items = list
	case nil:
		return nil, 0, nil
	default:
		return nil, 0, fmt.Errorf("%w: expected notification list", ErrMalformed)
	}

	out := make([]model.Notification, 0, len(items))
	skipped := 0
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		n, err := DecodeNotification(obj)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, n)
	}
	return out, skipped, nil
}

// DecodeUser converts a generic JSON object into a User. JSON null fields
// become empty strings.
func DecodeUser(input map[string]any) (model.User, error) {
	var raw rawUser
	if err := decode(input, userAliases, &raw); err != nil {
		return model.User{}, err
	}
	return model.User{
		ID:       strings.TrimSpace(raw.ID),
		FullName: raw.FullName,
		Email:    raw.Email,
		Role:     raw.Role,
		Phone:    raw.Phone,
	}, nil
}

// DecodeUserList decodes an array of users, or {"users": [...]}.
func DecodeUserList(data []byte) ([]model.User, error) {
	var container any
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m, ok := container.(map[string]any); ok {
		container = m["users"]
	}
	items, ok := container.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected user list", ErrMalformed)
	}

	out := make([]model.User, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected user object", ErrMalformed)
		}
		u, err := DecodeUser(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// DecodeLogin validates the data of POST /auth/login. Both token and user
// must be present.
func DecodeLogin(data []byte) (*LoginPayload, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: expected object", ErrMalformed)
	}

	token, _ := obj["token"].(string)
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrMalformed)
	}
	rawUser, ok := obj["user"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing user", ErrMalformed)
	}
	user, err := DecodeUser(rawUser)
	if err != nil {
		return nil, err
	}

	out := &LoginPayload{Token: token, User: user}
	switch sid := obj["sessionId"].(type) {
	case string:
		out.SessionID = sid
	case float64:
		out.SessionID = fmt.Sprintf("%.0f", sid)
	}
	return out, nil
}
