package repository

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

// withFallback runs the optimal path and, when it fails with
// ErrIndexUnavailable, runs the scan path. Both paths must produce the same
// observable result; the scan is an equivalent implementation, not a best
// effort. Any other error is returned as is.
func withFallback[T any](ctx context.Context, metrics *observability.Metrics, operation string, optimal, scan func(context.Context) (T, error)) (T, error) {
	result, err := optimal(ctx)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrIndexUnavailable) {
		return result, err
	}

	logging.From(ctx).Warn("session store query degraded, using fallback scan",
		"operation", operation,
		"error", err,
	)
	metrics.ObserveStoreDegraded(operation)

	result, err = scan(ctx)
	if err != nil {
		return result, goerr.Wrap(err, "fallback scan failed", goerr.V("operation", operation))
	}
	return result, nil
}
