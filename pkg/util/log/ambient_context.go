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

package log

import (
	"context"

	"github.com/cockroachdb/logtags"
)

// AmbientContext carries log tags that describe a long-lived component (a
// node, a server). Instead of passing a context.Context around, long-lived
// objects embed an AmbientContext and use AnnotateCtx to decorate incoming
// contexts with the component's tags.
type AmbientContext struct {
	tags *logtags.Buffer
}

// MakeAmbientContext creates an AmbientContext with no tags.
func MakeAmbientContext() AmbientContext {
	return AmbientContext{}
}

// AddLogTag adds a tag to the ambient context.
func (ac *AmbientContext) AddLogTag(name string, value interface{}) {
	if ac.tags == nil {
		ac.tags = logtags.SingleTagBuffer(name, value)
	} else {
		ac.tags = ac.tags.Add(name, value)
	}
}

// AnnotateCtx returns a context that carries the ambient tags in addition to
// whatever tags ctx already has.
func (ac *AmbientContext) AnnotateCtx(ctx context.Context) context.Context {
	if ac.tags == nil {
		return ctx
	}
	return logtags.AddTags(ctx, ac.tags)
}
