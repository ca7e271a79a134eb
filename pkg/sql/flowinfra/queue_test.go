// Copyright 2024 The DocSQL Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package flowinfra

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/util/mon"
)

func TestRowQueueFIFO(t *testing.T) {
	ctx := context.Background()
	monitor := mon.NewUnlimitedMonitor("test")
	q := NewRowQueue(monitor, 16, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Offer(ctx, sqlbase.Row{int64(i)}))
	}
	q.ProducerDone(nil)

	for i := 0; i < 5; i++ {
		row, ok, err := q.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, sqlbase.Row{int64(i)}, row)
	}
	_, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, monitor.AllocBytes())
	q.Close(ctx)
}

func TestRowQueueAccounting(t *testing.T) {
	ctx := context.Background()
	row := sqlbase.Row{int64(1)}
	monitor := mon.NewMonitor("test", 2*row.Size())
	q := NewRowQueue(monitor, 16, 1)

	require.NoError(t, q.Offer(ctx, row))
	require.NoError(t, q.Offer(ctx, row))
	require.Equal(t, 2*row.Size(), monitor.AllocBytes())

	// The third row does not fit; nothing may be charged for it.
	err := q.Offer(ctx, row)
	require.Error(t, err)
	require.True(t, mon.IsMemoryBudgetExceeded(err))
	require.Equal(t, 2*row.Size(), monitor.AllocBytes())

	// Draining releases the budget and unblocks new offers.
	_, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, row.Size(), monitor.AllocBytes())
	require.NoError(t, q.Offer(ctx, row))

	q.ProducerDone(nil)
	for {
		_, ok, err := q.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	require.Zero(t, monitor.AllocBytes())
	q.Close(ctx)
}

func TestUnaccountedRowQueue(t *testing.T) {
	ctx := context.Background()
	q := NewUnaccountedRowQueue(4, 1)
	big := sqlbase.Row{string(make([]byte, 1<<20))}
	require.NoError(t, q.Offer(ctx, big))
	q.ProducerDone(nil)
	row, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big, row)
}

func TestRowQueueProducerError(t *testing.T) {
	ctx := context.Background()
	q := NewUnaccountedRowQueue(4, 2)
	require.NoError(t, q.Offer(ctx, sqlbase.Row{int64(1)}))

	boom := errors.New("boom")
	q.ProducerDone(boom)
	q.ProducerDone(nil)

	// Buffered rows still drain; the error surfaces at the end.
	_, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = q.Next(ctx)
	require.False(t, ok)
	require.ErrorIs(t, err, boom)
}

func TestRowQueueOfferCancellation(t *testing.T) {
	monitor := mon.NewUnlimitedMonitor("test")
	q := NewRowQueue(monitor, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Offer(ctx, sqlbase.Row{int64(1)}))

	done := make(chan error, 1)
	go func() {
		// Buffer is full; this blocks until cancellation.
		done <- q.Offer(ctx, sqlbase.Row{int64(2)})
	}()
	select {
	case err := <-done:
		t.Fatalf("offer returned early: %v", err)
	case <-time.After(10 * time.Millisecond):
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The rolled-back charge leaves only the buffered row accounted.
	require.Equal(t, sqlbase.Row{int64(1)}.Size(), monitor.AllocBytes())
	q.Close(context.Background())
}
