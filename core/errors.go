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

package core

import "fmt"

// ErrKind is a closed enumeration of the behavioral error classes from
// spec.md §7. It is deliberately a flat enum rather than a hierarchy of
// exception types, following the teacher's plain fmt.Errorf+errors.As
// idiom (see cmd/snellerd/handler_execute_query.go's isBadQuery).
type ErrKind uint8

const (
	ErrUnknown ErrKind = iota
	ErrParse
	ErrAnalyze
	ErrPlan
	ErrAdmission
	ErrAuth
	ErrTimeout
	ErrCancelled
	ErrTemporary
	ErrConnectionClosed
	ErrResourceExhausted
	ErrIO
	ErrVersioning
	ErrUnsupported
	ErrReadOnly
	ErrNotFound
	ErrConversion
	ErrProtocol
)

func (k ErrKind) String() string {
	switch k {
	case ErrParse:
		return "parse"
	case ErrAnalyze:
		return "analyze"
	case ErrPlan:
		return "plan"
	case ErrAdmission:
		return "admission"
	case ErrAuth:
		return "auth"
	case ErrTimeout:
		return "timeout"
	case ErrCancelled:
		return "cancelled"
	case ErrTemporary:
		return "temporary"
	case ErrConnectionClosed:
		return "connection_closed"
	case ErrResourceExhausted:
		return "resource_exhausted"
	case ErrIO:
		return "io_failure"
	case ErrVersioning:
		return "versioning"
	case ErrUnsupported:
		return "unsupported"
	case ErrReadOnly:
		return "read_only"
	case ErrNotFound:
		return "not_found"
	case ErrConversion:
		return "conversion"
	case ErrProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a behavioral ErrKind so callers
// can dispatch on Kind() without string-matching, matching spec.md §7's
// requirement that Temporary/Timeout/Admission/etc. are distinguishable
// classes rather than free-form messages.
type Error struct {
	Kind  ErrKind
	JobID JobID
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind wrapping cause.
func NewError(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the ErrKind from err if it (or something it wraps) is
// a *Error, and ErrUnknown otherwise.
func KindOf(err error) ErrKind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return ErrUnknown
}

// asError is a tiny errors.As shim kept local to avoid importing
// "errors" into every call site that just wants KindOf.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsTemporary reports whether err is classified as ErrTemporary. This is
// the default `maybeTemporary` predicate referenced by spec.md §9's
// Open Question; callers needing cluster-state/shard-availability
// specific classification should use their own predicate and only fall
// back to IsTemporary for errors that already carry an ErrKind.
func IsTemporary(err error) bool {
	return KindOf(err) == ErrTemporary
}
