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

package humanizeutil

import (
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// IBytes formats a byte count using IEC units (KiB, MiB, ...). Negative
// values are formatted with a leading minus sign.
func IBytes(value int64) string {
	if value < 0 {
		return "-" + humanize.IBytes(uint64(-value))
	}
	return humanize.IBytes(uint64(value))
}

// ParseBytes parses a human-readable byte count ("64 MiB", "1GB", "512").
func ParseBytes(s string) (int64, error) {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt64 {
		v = math.MaxInt64
	}
	return int64(v), nil
}

// BytesValue is a pflag.Value that accepts human-readable byte sizes.
type BytesValue struct {
	val   *int64
	isSet bool
}

var _ pflag.Value = &BytesValue{}

// NewBytesValue creates a new BytesValue bound to the given pointer.
func NewBytesValue(val *int64) *BytesValue {
	return &BytesValue{val: val}
}

// Set implements the pflag.Value interface.
func (b *BytesValue) Set(s string) error {
	v, err := ParseBytes(s)
	if err != nil {
		return err
	}
	*b.val = v
	b.isSet = true
	return nil
}

// Type implements the pflag.Value interface.
func (b *BytesValue) Type() string {
	return "bytes"
}

// String implements the pflag.Value interface.
func (b *BytesValue) String() string {
	if b.val == nil {
		return IBytes(0)
	}
	return IBytes(*b.val)
}

// IsSet returns true iff Set has successfully been called.
func (b *BytesValue) IsSet() bool {
	return b.isSet
}
