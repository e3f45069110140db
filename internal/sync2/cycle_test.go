// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"storj.io/s3db/internal/sync2"
)

func TestCycle_Basic(t *testing.T) {
	t.Parallel()

	var count int64

	cycle := sync2.NewCycle(time.Hour)

	var group errgroup.Group
	group.Go(func() error {
		return cycle.Run(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	})

	// Run invokes the function once immediately.
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == 1
	}, time.Second, time.Millisecond)

	cycle.TriggerWait()
	require.Equal(t, int64(2), atomic.LoadInt64(&count))

	cycle.Pause()
	cycle.Restart()

	cycle.Stop()
	require.NoError(t, group.Wait())

	// control methods must not block after stopping
	cycle.Trigger()
	cycle.TriggerWait()
	cycle.Close()
}

func TestCycle_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	cycle := sync2.NewCycle(time.Hour)
	errch := make(chan error, 1)
	go func() {
		errch <- cycle.Run(ctx, func(ctx context.Context) error { return nil })
	}()

	cancel()
	require.ErrorIs(t, <-errch, context.Canceled)
}

func TestCycle_StopWithoutRun(t *testing.T) {
	t.Parallel()

	cycle := sync2.NewCycle(time.Hour)
	cycle.Stop()
	cycle.Close()
}
