package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxUpdateTries = 4

// UpdateWithRetry runs fn in an Update and retries it with exponential backoff
// while it loses a concurrent update race. Other errors are returned at once.
func UpdateWithRetry(ctx context.Context, s Store, fn func(tx Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.Update(ctx, fn)
		if err == nil || errors.Is(err, ErrConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxUpdateTries))
	return err
}
