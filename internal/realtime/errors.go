package realtime

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the server rejected the token during the handshake
// or closed the connection with a policy violation. It is not retried.
var ErrUnauthorized = errors.New("realtime: token rejected")

// ChannelError is reported once the channel gives up connecting.
type ChannelError struct {
	Attempts int
	Err      error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("realtime: gave up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
