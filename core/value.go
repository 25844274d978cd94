// Copyright (C) 2024 The ShardSQL Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package core holds the row/value/error/job-id types shared across the
// session, execution, group-by, stored-row and transport packages.
//
// It deliberately does not implement a SQL type system: Kind covers the
// primitive wire-level shapes a row can carry. Type inference, casts and
// the SQL expression language are the planner's concern (out of scope;
// see spec.md Non-goals).
package core

import (
	"fmt"
	"math"
)

// Kind identifies the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a small tagged union used as the common currency between
// operators, the wire encoder and the doc-value readers. It is the
// "concrete Go shape" SPEC_FULL.md gives to rows flowing through a
// phase, not a general SQL value representation.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Int wraps a 64-bit integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float wraps a float64.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String wraps a UTF-8 string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bytes wraps an opaque byte string.
func Bytes(v []byte) Value { return Value{kind: KindBytes, b: v} }

// TimestampNanos wraps a Unix-epoch nanosecond timestamp.
func TimestampNanos(ns int64) Value { return Value{kind: KindTimestamp, i: ns} }

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload of v. Only valid for KindBool.
func (v Value) Bool() bool { return v.i != 0 }

// Int returns the integer payload of v. Valid for KindInt and KindTimestamp.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload of v. Valid for KindFloat.
func (v Value) Float() float64 { return v.f }

// String returns the string payload of v for KindString, and a textual
// rendering of the payload for every other kind ("null" for KindNull,
// hex for KindBytes).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.i != 0)
	case KindInt, KindTimestamp:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%v", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.b)
	default:
		return ""
	}
}

// Bytes returns the byte payload of v. Valid for KindBytes.
func (v Value) Bytes() []byte { return v.b }

// Equal reports whether v and o carry the same kind and payload.
// Used by the group-by hash table to resolve bucket collisions.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindInt, KindTimestamp:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindBytes:
		return string(v.b) == string(o.b)
	}
	return false
}

// Row is an ordered tuple of column values.
type Row []Value

// Clone returns a deep-enough copy of r that is safe to retain past the
// lifetime of the batch it was read from (Bytes/String payloads are not
// further copied since Value readers are expected to hand out immutable
// slices, matching the teacher's ion.Buffer/Symtab aliasing discipline).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}
