package api

import (
	"errors"
	"fmt"
	"net"
)

// ErrInvalidResponse is returned when a 2xx response does not match the contract.
var ErrInvalidResponse = errors.New("invalid server response")

// NetworkError means no usable response arrived: the server was unreachable,
// the connection dropped or the request timed out.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// StatusError is a response the server produced but rejected: a non-2xx
// status, or a 2xx envelope with success=false.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// ServerFault reports whether the failure is on the server side.
func (e *StatusError) ServerFault() bool {
	return e.StatusCode >= 500
}
