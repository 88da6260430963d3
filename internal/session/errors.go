package session

import (
	"errors"
	"net/http"

	"github.com/methminihima/medivault/internal/api"
)

// ErrNoSession is returned by Token when no valid session is stored.
var ErrNoSession = errors.New("no active session")

// Kind classifies a failed login.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindCredentials     Kind = "credentials"
	KindServer          Kind = "server"
	KindInvalidResponse Kind = "invalid_response"
)

// AuthError is the single user-facing failure of a login attempt.
type AuthError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

const (
	msgNetwork         = "Cannot reach the server. Check your internet connection and try again."
	msgTimeout         = "The server took too long to respond. Check your connection and try again."
	msgCredentials     = "Invalid email or password."
	msgServer          = "The server encountered an error. Please try again later."
	msgInvalidResponse = "Received an invalid response from the server."
)

func classify(err error) *AuthError {
	var ne *api.NetworkError
	var se *api.StatusError

	switch {
	case errors.As(err, &ne):
		msg := msgNetwork
		if ne.Timeout() {
			msg = msgTimeout
		}
		return &AuthError{Kind: KindNetwork, Message: msg, Err: err}

	case errors.Is(err, api.ErrInvalidResponse):
		return &AuthError{Kind: KindInvalidResponse, Message: msgInvalidResponse, Err: err}

	case errors.As(err, &se):
		switch {
		case se.StatusCode < 300,
			se.StatusCode == http.StatusBadRequest,
			se.StatusCode == http.StatusUnauthorized,
			se.StatusCode == http.StatusForbidden:
			msg := se.Message
			if msg == "" {
				msg = msgCredentials
			}
			return &AuthError{Kind: KindCredentials, Message: msg, Err: err}
		case se.ServerFault():
			return &AuthError{Kind: KindServer, Message: msgServer, Err: err}
		default:
			msg := se.Message
			if msg == "" {
				msg = msgServer
			}
			return &AuthError{Kind: KindServer, Message: msg, Err: err}
		}
	}

	return &AuthError{Kind: KindNetwork, Message: msgNetwork, Err: err}
}
