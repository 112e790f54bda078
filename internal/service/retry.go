package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the immediate retry budget for one physical write. It is
// shared by foreground writes and log replays.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy makes three attempts half a second apart
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}

// Do runs op until it succeeds, the attempts are exhausted, op returns an
// error wrapped with backoff.Permanent, or ctx is done. It returns the number
// of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(attempt int, err error)) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	made := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(
		func() error {
			made++
			return op()
		},
		b,
		func(err error, _ time.Duration) {
			if notify != nil {
				notify(made, err)
			}
		},
	)
	return made, err
}
