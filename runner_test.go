package groundex

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedRunnerRunsEverything(t *testing.T) {
	runner := NewLimitedRunner(context.Background(), 3)

	var counter int32
	for i := 0; i < 20; i++ {
		runner.Go(func() error {
			atomic.AddInt32(&counter, 1)
			return nil
		})
	}
	require.NoError(t, runner.Wait())
	assert.Equal(t, int32(20), atomic.LoadInt32(&counter))
}

func TestLimitedRunnerBoundsConcurrency(t *testing.T) {
	const limit = 2
	runner := NewLimitedRunner(context.Background(), limit)

	var inFlight, peak int32
	for i := 0; i < 10; i++ {
		runner.Go(func() error {
			now := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&peak)
				if now <= prev || atomic.CompareAndSwapInt32(&peak, prev, now) {
					break
				}
			}
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
	}
	require.NoError(t, runner.Wait())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
}

func TestLimitedRunnerPropagatesFirstError(t *testing.T) {
	runner := NewLimitedRunner(context.Background(), 2)
	boom := errors.New("boom")

	runner.Go(func() error { return nil })
	runner.Go(func() error { return boom })
	assert.ErrorIs(t, runner.Wait(), boom)
}

func TestDefaultRunnerIsBounded(t *testing.T) {
	runner := DefaultRunner(context.Background())
	require.NotNil(t, runner)
	runner.Go(func() error { return nil })
	assert.NoError(t, runner.Wait())
}
