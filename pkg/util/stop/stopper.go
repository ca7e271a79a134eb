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

// Package stop provides a Stopper to coordinate the graceful shutdown of
// long-lived goroutines. Components register their tasks with a node's
// Stopper; Stop closes the quiescence channel and waits for all registered
// tasks to drain.
package stop

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/util/syncutil"
)

// ErrUnavailable is returned when the stopper is quiescing and no new tasks
// are accepted.
var ErrUnavailable = errors.New("node unavailable; try another peer")

// A Stopper keeps track of the tasks and async workers spawned by a node and
// allows them to be stopped as a unit.
type Stopper struct {
	quiescer chan struct{}
	stopped  chan struct{}
	tasks    sync.WaitGroup

	mu struct {
		syncutil.Mutex
		quiescing bool
	}
}

// NewStopper returns an initialized Stopper.
func NewStopper() *Stopper {
	return &Stopper{
		quiescer: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// ShouldQuiesce returns a channel that is closed when Stop is called.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiescer
}

func (s *Stopper) register() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.quiescing {
		return false
	}
	s.tasks.Add(1)
	return true
}

// RunTaskWithErr runs f synchronously, unless the stopper is quiescing, in
// which case ErrUnavailable is returned.
func (s *Stopper) RunTaskWithErr(
	ctx context.Context, taskName string, f func(context.Context) error,
) error {
	if !s.register() {
		return ErrUnavailable
	}
	defer s.tasks.Done()
	return f(ctx)
}

// RunAsyncTask runs f in a goroutine tracked by the stopper. It returns
// ErrUnavailable if the stopper is already quiescing.
func (s *Stopper) RunAsyncTask(
	ctx context.Context, taskName string, f func(context.Context),
) error {
	if !s.register() {
		return ErrUnavailable
	}
	go func() {
		defer s.tasks.Done()
		f(ctx)
	}()
	return nil
}

// Stop signals quiescence and blocks until all tasks have drained.
func (s *Stopper) Stop(ctx context.Context) {
	s.mu.Lock()
	already := s.mu.quiescing
	s.mu.quiescing = true
	s.mu.Unlock()
	if already {
		<-s.stopped
		return
	}
	close(s.quiescer)
	s.tasks.Wait()
	close(s.stopped)
}
