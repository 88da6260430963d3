package realtime

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffPolicy bounds reconnection: delays double from Base up to Cap, and
// at most MaxAttempts reconnects follow the first failed dial.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 1s doubling to 5s, five reconnects.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, Cap: 5 * time.Second, MaxAttempts: 5}
}

// withDefaults treats the zero policy as DefaultBackoff. A policy with any
// field set keeps its MaxAttempts, so zero reconnects stays expressible.
func (p BackoffPolicy) withDefaults() BackoffPolicy {
	d := DefaultBackoff()
	if p == (BackoffPolicy{}) {
		return d
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// New returns a fresh backoff for one connect cycle.
func (p BackoffPolicy) New() retry.Backoff {
	p = p.withDefaults()
	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.Cap, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts), b)
}

// Delays lists every delay one connect cycle will wait, in order.
func (p BackoffPolicy) Delays() []time.Duration {
	var out []time.Duration
	b := p.New()
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}
