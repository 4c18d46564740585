package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidbz/kiln/internal/observability"
)

// Detacher runs side effects off the request path. Tasks outlive the request
// context, and their errors and panics are logged, never returned.
type Detacher struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDetacher creates a detacher. A positive timeout bounds each task.
func NewDetacher(timeout time.Duration) *Detacher {
	return &Detacher{timeout: timeout}
}

// Go starts fn in the background. Request-scoped values of ctx are kept, its cancellation is not.
func (d *Detacher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		logger := observability.FromContext(ctx).With(observability.String("task", name))
		defer func() {
			if p := recover(); p != nil {
				logger.Error("detached task panicked", observability.Error(fmt.Errorf("%v", p)))
			}
		}()

		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		if err := fn(ctx); err != nil {
			logger.Warn("detached task failed", observability.Error(err))
		}
	}()
}

// Wait blocks until every started task has returned.
func (d *Detacher) Wait() {
	d.wg.Wait()
}
