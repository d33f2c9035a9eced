package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRestartRecoversPanics(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())

	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			panic("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), sup.Counters().Restarts["flaky"])
	assert.Len(t, sup.Counters().Restarts, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	sup := New(context.Background(), WithCancelOnError(true))
	sup.Go("fails", func(context.Context) error { return errors.New("bad") })

	select {
	case <-sup.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor context was not canceled")
	}
	require.NoError(t, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := sup.Wait(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}())
	assert.EqualError(t, sup.Err(), "fails: bad")
}
