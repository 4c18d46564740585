package domain_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/observability"
)

func TestDetacher(t *testing.T) {
	t.Run("should survive request cancellation", func(t *testing.T) {
		d := domain.NewDetacher(time.Second)
		ctx, cancel := context.WithCancel(observability.WithRequestID(context.Background(), "req-1"))

		var sawRequestID atomic.Value
		var ctxErr atomic.Value
		started := make(chan struct{})
		release := make(chan struct{})
		d.Go(ctx, "tag", func(ctx context.Context) error {
			close(started)
			<-release
			sawRequestID.Store(observability.GetRequestID(ctx))
			ctxErr.Store(ctx.Err() == nil)
			return nil
		})

		<-started
		cancel()
		close(release)
		d.Wait()

		require.Equal(t, "req-1", sawRequestID.Load())
		require.Equal(t, true, ctxErr.Load())
	})

	t.Run("should swallow errors and panics", func(t *testing.T) {
		d := domain.NewDetacher(0)
		var ran atomic.Int32

		d.Go(context.Background(), "fails", func(context.Context) error {
			ran.Add(1)
			return errors.New("boom")
		})
		d.Go(context.Background(), "panics", func(context.Context) error {
			ran.Add(1)
			panic("boom")
		})
		d.Wait()

		require.Equal(t, int32(2), ran.Load())
	})

	t.Run("should bound tasks by timeout", func(t *testing.T) {
		d := domain.NewDetacher(10 * time.Millisecond)
		var err atomic.Value

		d.Go(context.Background(), "slow", func(ctx context.Context) error {
			<-ctx.Done()
			err.Store(ctx.Err())
			return ctx.Err()
		})
		d.Wait()

		require.ErrorIs(t, err.Load().(error), context.DeadlineExceeded)
	})
}
