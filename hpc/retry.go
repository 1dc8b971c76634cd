package hpc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"operandi.gwdg.de/broker/common"
)

// transientRetries is how often a failed remote operation is retried before
// the failure is treated as permanent for the current message. Three
// attempts total: the cluster's SSH frontends drop idle channels often
// enough that a single retry pays off, while more would only delay the
// FAILED verdict the status checker needs to record.
const transientRetries = 2

// withRetry runs a remote operation with bounded exponential backoff between
// attempts. Context cancellation aborts the retry loop.
func withRetry(ctx context.Context, operationName string, operation func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		err := operation()
		if err != nil {
			attempt++
			common.Logger.WithField("operation", operationName).
				Warnf("HPC operation failed (attempt %d): %v", attempt, err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, transientRetries), ctx))
}
