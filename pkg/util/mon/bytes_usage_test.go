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

package mon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundAccountGrowShrink(t *testing.T) {
	ctx := context.Background()
	mm := NewMonitor("test", 1000)
	defer mm.Stop(ctx)

	acc := mm.MakeBoundAccount()
	defer acc.Close(ctx)

	require.NoError(t, acc.Grow(ctx, 400))
	require.NoError(t, acc.Grow(ctx, 600))
	require.Equal(t, int64(1000), mm.AllocBytes())
	require.Equal(t, int64(1000), acc.Used())

	// The budget is exhausted; any further reservation must fail without
	// charging anything.
	err := acc.Grow(ctx, 1)
	require.Error(t, err)
	require.True(t, IsMemoryBudgetExceeded(err))
	require.Equal(t, int64(1000), mm.AllocBytes())

	acc.Shrink(ctx, 600)
	require.Equal(t, int64(400), mm.AllocBytes())
	require.NoError(t, acc.Grow(ctx, 100))

	acc.Clear(ctx)
	require.Equal(t, int64(0), mm.AllocBytes())
	require.Equal(t, int64(1000), mm.MaximumBytes())
}

func TestMonitorSharedAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	mm := NewMonitor("test", 100)
	defer mm.Stop(ctx)

	a := mm.MakeBoundAccount()
	b := mm.MakeBoundAccount()
	defer a.Close(ctx)
	defer b.Close(ctx)

	require.NoError(t, a.Grow(ctx, 60))
	require.NoError(t, b.Grow(ctx, 40))

	// Both accounts draw from the same budget.
	err := b.Grow(ctx, 1)
	require.True(t, IsMemoryBudgetExceeded(err))

	a.Clear(ctx)
	require.NoError(t, b.Grow(ctx, 60))
}

func TestUnlimitedMonitor(t *testing.T) {
	ctx := context.Background()
	mm := NewUnlimitedMonitor("unlimited")
	defer mm.Stop(ctx)

	acc := mm.MakeBoundAccount()
	defer acc.Close(ctx)
	require.NoError(t, acc.Grow(ctx, 1<<40))
	acc.Clear(ctx)
}
