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

// Package log provides leveled, context-tagged logging. Log tags attached to
// a context via logtags flow into every message logged with that context, so
// per-job and per-node attribution comes for free once the context is
// annotated.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"

	"github.com/docsql/docsql/pkg/util/syncutil"
	"github.com/docsql/docsql/pkg/util/timeutil"
)

// Severity identifies the importance of a log message.
type Severity int

const (
	// SeverityInfo is used for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is used for messages that point at a possible problem.
	SeverityWarning
	// SeverityError is used for messages about errors that were handled.
	SeverityError
	// SeverityFatal is used for messages just before the process exits.
	SeverityFatal
)

var severityChar = [...]byte{'I', 'W', 'E', 'F'}

var logging struct {
	mu struct {
		syncutil.Mutex
		w io.Writer
	}
	// vmodule-style global verbosity for VEventf; set from the
	// DOCSQL_VERBOSITY environment variable or via SetVerbosity.
	verbosity int32
}

func init() {
	logging.mu.w = os.Stderr
	if s, ok := os.LookupEnv("DOCSQL_VERBOSITY"); ok {
		if v, err := strconv.Atoi(s); err == nil {
			logging.verbosity = int32(v)
		}
	}
}

// SetVerbosity sets the verbosity threshold for VEventf; messages with a
// level at or below the threshold are emitted.
func SetVerbosity(level int) {
	atomic.StoreInt32(&logging.verbosity, int32(level))
}

// SetWriter redirects log output, returning the previous writer. Used in
// tests.
func SetWriter(w io.Writer) io.Writer {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	old := logging.mu.w
	logging.mu.w = w
	return old
}

// V returns true if the verbosity is at or above the requested level.
func V(level int) bool {
	return atomic.LoadInt32(&logging.verbosity) >= int32(level)
}

func output(ctx context.Context, sev Severity, depth int, format string, args ...interface{}) {
	file, line := caller(depth + 1)
	msg := redact.Sprintf(format, args...).StripMarkers()
	var tags string
	if b := logtags.FromContext(ctx); b != nil {
		tags = "[" + b.String() + "] "
	}
	now := timeutil.Now()
	logging.mu.Lock()
	fmt.Fprintf(logging.mu.w, "%c%s %s:%d %s%s\n",
		severityChar[sev], now.Format("060102 15:04:05.000000"), file, line, tags, msg)
	logging.mu.Unlock()
}

func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???", 0
	}
	// Shorten to the last path component, like the standard log package.
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}
	return file, line
}

// Infof logs an informational message with the tags from ctx.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityInfo, 1, format, args...)
}

// Warningf logs a warning message with the tags from ctx.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityWarning, 1, format, args...)
}

// Errorf logs an error message with the tags from ctx.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityError, 1, format, args...)
}

// Fatalf logs a fatal message with the tags from ctx and terminates the
// process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityFatal, 1, format, args...)
	os.Exit(2)
}

// VEventf logs a message if the verbosity is at or above the given level.
func VEventf(ctx context.Context, level int, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	output(ctx, SeverityInfo, 1, format, args...)
}
