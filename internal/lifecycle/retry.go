package lifecycle

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/resilience"
)

// retryOnVersionMismatch wraps resilience.Retry with the one retryable
// condition the rollup loop cares about: another writer bumped the
// ancestor's version between our read and our write. Any other error (task
// not found, invariant violation) stops the loop immediately.
func retryOnVersionMismatch(ctx context.Context, policy resilience.RetryPolicy, counter metric.Int64Counter, fn func() error) error {
	return resilience.Retry(ctx, policy, func(err error) bool {
		kind, ok := model.KindOf(err)
		return ok && kind == model.KindVersionMismatch
	}, counter, fn)
}
