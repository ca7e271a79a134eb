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

// Package ctxgroup wraps golang.org/x/sync/errgroup with a context so that
// group goroutines consistently receive the (possibly canceled) group
// context instead of capturing an outer one by accident.
package ctxgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group wraps errgroup.Group with its derived context.
type Group struct {
	wrapped *errgroup.Group
	ctx     context.Context
}

// WithContext returns a new Group bound to a context derived from ctx. The
// derived context is canceled when any member returns an error.
func WithContext(ctx context.Context) Group {
	grp, ctx := errgroup.WithContext(ctx)
	return Group{wrapped: grp, ctx: ctx}
}

// GoCtx calls the given function in a new goroutine, passing the group
// context.
func (g Group) GoCtx(f func(ctx context.Context) error) {
	g.wrapped.Go(func() error {
		return f(g.ctx)
	})
}

// Wait blocks until all goroutines have completed and returns the first
// non-nil error.
func (g Group) Wait() error {
	ctxErr := g.ctx.Err()
	err := g.wrapped.Wait()
	if err != nil {
		return err
	}
	return ctxErr
}
