package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitEnforcesMinimumInterval(t *testing.T) {
	rl := New(50)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestWaitFirstCallDoesNotBlock(t *testing.T) {
	rl := New(10_000)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	rl := New(1000)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitSerializesFIFO(t *testing.T) {
	rl := New(20)
	ctx := context.Background()
	require.NoError(t, rl.Wait(ctx))

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			_ = rl.Wait(ctx)
			order <- i
		}()
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		require.Equal(t, i, <-order)
	}
}
