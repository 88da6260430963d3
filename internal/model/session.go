package model

import "time"

// User is the authenticated profile returned by the login endpoint.
type User struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
}

// Session is the authenticated identity held by the client and its validity
// window. ExpiresAt is always set when Token is non-empty.
type Session struct {
	Token      string    `json:"token"`
	User       User      `json:"user"`
	SessionID  string    `json:"sessionId,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
	RememberMe bool      `json:"rememberMe"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
