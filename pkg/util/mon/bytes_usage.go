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

// Package mon tracks the memory used on behalf of a job against a byte
// budget. A BytesMonitor is the job-wide accounting context; BoundAccounts
// carved out of it charge and release bytes. When a reservation would push
// the monitor past its budget the reservation fails with a budget-exceeded
// error and nothing is charged.
package mon

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/util/humanizeutil"
	"github.com/docsql/docsql/pkg/util/log"
	"github.com/docsql/docsql/pkg/util/syncutil"
)

// ErrMemoryBudgetExceeded is the mark carried by errors returned when a
// reservation would exceed the monitor's budget.
var ErrMemoryBudgetExceeded = errors.New("memory budget exceeded")

// IsMemoryBudgetExceeded returns true if err was caused by the monitor's
// budget being exhausted.
func IsMemoryBudgetExceeded(err error) bool {
	return errors.Is(err, ErrMemoryBudgetExceeded)
}

// BytesMonitor defines a budget of bytes and tracks the cumulative
// allocations charged against it. It is safe for concurrent use; accounts
// derived from one monitor may grow and shrink from multiple goroutines.
type BytesMonitor struct {
	name  string
	limit int64

	mu struct {
		syncutil.Mutex
		curAllocated int64
		maxAllocated int64
		numAccounts  int64
		stopped      bool
	}
}

// NewMonitor creates a new monitor with the given byte limit. A
// non-positive limit means no limit is enforced.
func NewMonitor(name string, limit int64) *BytesMonitor {
	if limit <= 0 {
		limit = math.MaxInt64
	}
	return &BytesMonitor{name: name, limit: limit}
}

// NewUnlimitedMonitor creates a monitor that never refuses a reservation.
func NewUnlimitedMonitor(name string) *BytesMonitor {
	return NewMonitor(name, 0)
}

// Name returns the name of the monitor.
func (mm *BytesMonitor) Name() string { return mm.name }

// Limit returns the configured byte budget.
func (mm *BytesMonitor) Limit() int64 { return mm.limit }

// AllocBytes returns the number of bytes currently charged.
func (mm *BytesMonitor) AllocBytes() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.curAllocated
}

// MaximumBytes returns the high-water mark of charged bytes.
func (mm *BytesMonitor) MaximumBytes() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.maxAllocated
}

// Stop shuts down the monitor. All accounts must have been closed; leaked
// bytes indicate a missing Shrink/Close somewhere upstream.
func (mm *BytesMonitor) Stop(ctx context.Context) {
	mm.mu.Lock()
	leaked := mm.mu.curAllocated
	mm.mu.stopped = true
	mm.mu.Unlock()
	if leaked != 0 {
		log.Warningf(ctx, "%s: unexpected %s leftover allocations at stop", mm.name,
			humanizeutil.IBytes(leaked))
	}
}

// reserveBytes reserves x bytes, failing if the budget would be exceeded.
// The reservation is all-or-nothing: on failure nothing is charged.
func (mm *BytesMonitor) reserveBytes(ctx context.Context, x int64) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.curAllocated > mm.limit-x {
		return errors.Wrapf(ErrMemoryBudgetExceeded,
			"%s: %d bytes requested, %s already allocated, %s budget",
			mm.name, x,
			humanizeutil.IBytes(mm.mu.curAllocated),
			humanizeutil.IBytes(mm.limit))
	}
	mm.mu.curAllocated += x
	if mm.mu.curAllocated > mm.mu.maxAllocated {
		mm.mu.maxAllocated = mm.mu.curAllocated
	}
	return nil
}

// releaseBytes returns x bytes to the budget.
func (mm *BytesMonitor) releaseBytes(ctx context.Context, x int64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.curAllocated < x {
		log.Fatalf(ctx, "%s: no bytes to release, current %d, free %d",
			mm.name, mm.mu.curAllocated, x)
	}
	mm.mu.curAllocated -= x
}

// BoundAccount tracks the bytes a single component has reserved from a
// monitor. A BoundAccount is not safe for concurrent use; callers that share
// one across goroutines must synchronize externally.
type BoundAccount struct {
	mon  *BytesMonitor
	used int64
}

// MakeBoundAccount creates a BoundAccount connected to the monitor.
func (mm *BytesMonitor) MakeBoundAccount() BoundAccount {
	mm.mu.Lock()
	mm.mu.numAccounts++
	mm.mu.Unlock()
	return BoundAccount{mon: mm}
}

// Used returns the number of bytes currently reserved by this account.
func (b *BoundAccount) Used() int64 { return b.used }

// Monitor returns the monitor the account draws from.
func (b *BoundAccount) Monitor() *BytesMonitor { return b.mon }

// Grow reserves x more bytes. On failure the account is unchanged.
func (b *BoundAccount) Grow(ctx context.Context, x int64) error {
	if err := b.mon.reserveBytes(ctx, x); err != nil {
		return err
	}
	b.used += x
	return nil
}

// Shrink releases x bytes previously reserved with Grow.
func (b *BoundAccount) Shrink(ctx context.Context, x int64) {
	if x > b.used {
		log.Fatalf(ctx, "%s: shrinking %d bytes from an account with only %d",
			b.mon.name, x, b.used)
	}
	b.mon.releaseBytes(ctx, x)
	b.used -= x
}

// Clear releases all bytes held by the account.
func (b *BoundAccount) Clear(ctx context.Context) {
	if b.used > 0 {
		b.mon.releaseBytes(ctx, b.used)
		b.used = 0
	}
}

// Close releases the account's bytes and detaches it from the monitor.
func (b *BoundAccount) Close(ctx context.Context) {
	b.Clear(ctx)
	b.mon.mu.Lock()
	b.mon.mu.numAccounts--
	b.mon.mu.Unlock()
}
