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

// Package flowinfra runs compiled node operations: it owns the row queues
// between phases, the per-node flows executing collects and merges, the
// registry used to cancel running jobs, and the coordinator that drives a
// whole plan to its result.
package flowinfra

import (
	"context"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/util/mon"
	"github.com/docsql/docsql/pkg/util/syncutil"
)

type queueMsg struct {
	row sqlbase.Row
	// size is the number of bytes charged for the row on Offer, released
	// symmetrically on Next. Zero for unaccounted queues.
	size int64
}

// RowQueue is the buffer between the operations producing a phase's input
// and the operation consuming it. Each row offered is charged against the
// consumer node's memory budget before it is buffered; a refused charge
// fails the Offer with a budget-exceeded error and nothing is enqueued.
//
// A queue knows its producer count up front. Every producer signals
// completion through ProducerDone; the queue closes once all have. Rows are
// delivered in FIFO order per producer.
type RowQueue struct {
	ch chan queueMsg

	mu struct {
		syncutil.Mutex
		acc       mon.BoundAccount // zero-valued (nil monitor) when unaccounted
		accounted bool
		producers int
		err       error
	}
}

// NewRowQueue creates a queue charging buffered rows against monitor.
func NewRowQueue(monitor *mon.BytesMonitor, capacity, producers int) *RowQueue {
	q := newRowQueue(capacity, producers)
	q.mu.acc = monitor.MakeBoundAccount()
	q.mu.accounted = true
	return q
}

// NewUnaccountedRowQueue creates a queue that buffers rows without charging
// a budget. Used where the budget is enforced elsewhere, such as the
// handler-local result queue.
func NewUnaccountedRowQueue(capacity, producers int) *RowQueue {
	return newRowQueue(capacity, producers)
}

func newRowQueue(capacity, producers int) *RowQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &RowQueue{ch: make(chan queueMsg, capacity)}
	q.mu.producers = producers
	return q
}

// Offer charges and enqueues a row. It blocks while the buffer is full and
// returns the context error if ctx is canceled meanwhile; in that case the
// charge is rolled back.
func (q *RowQueue) Offer(ctx context.Context, row sqlbase.Row) error {
	var size int64
	q.mu.Lock()
	if q.mu.accounted {
		size = row.Size()
		if err := q.mu.acc.Grow(ctx, size); err != nil {
			q.mu.Unlock()
			return err
		}
	}
	q.mu.Unlock()

	select {
	case q.ch <- queueMsg{row: row, size: size}:
		return nil
	case <-ctx.Done():
		if size != 0 {
			q.mu.Lock()
			q.mu.acc.Shrink(ctx, size)
			q.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Next returns the next row. ok=false means the queue is closed and
// drained; err is then the first producer error, if any.
func (q *RowQueue) Next(ctx context.Context) (_ sqlbase.Row, ok bool, _ error) {
	select {
	case msg, open := <-q.ch:
		if !open {
			q.mu.Lock()
			err := q.mu.err
			q.mu.Unlock()
			return nil, false, err
		}
		if msg.size != 0 {
			q.mu.Lock()
			q.mu.acc.Shrink(ctx, msg.size)
			q.mu.Unlock()
		}
		return msg.row, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// ProducerDone records one producer's completion; a non-nil err is
// remembered and surfaced to the consumer once the queue drains. The last
// producer closes the queue.
func (q *RowQueue) ProducerDone(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil && q.mu.err == nil {
		q.mu.err = err
	}
	q.mu.producers--
	if q.mu.producers == 0 {
		close(q.ch)
	}
}

// Close releases whatever the queue still holds against the budget. Called
// by the owning flow during teardown; consuming after Close is a bug.
func (q *RowQueue) Close(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mu.accounted {
		q.mu.acc.Close(ctx)
		q.mu.accounted = false
	}
}
