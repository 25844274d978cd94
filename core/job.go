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

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobID is a 128-bit identifier issued per top-level execution, matching
// spec.md §6 ("Job-ids. 128-bit UUIDs, newly generated per top-level
// execution"). Grounded on cmd/snellerd/handler_execute_query.go's
// `queryID := uuid.New()`.
type JobID uuid.UUID

// NewJobID generates a fresh random job id.
func NewJobID() JobID { return JobID(uuid.New()) }

// DirtyJobID is used to label a job-id for errors that occur before a
// real job was ever created, per spec.md §7 ("Pre-execution failures
// are logged against a fresh dirty job-id").
func DirtyJobID() JobID { return NewJobID() }

func (j JobID) String() string { return uuid.UUID(j).String() }

// IsZero reports whether j is the zero value (no job submitted yet).
func (j JobID) IsZero() bool { return j == JobID{} }

// TimeoutToken is a monotonic elapsed-time accumulator with
// enable/disable semantics, per spec.md §3's invariant: "elapsed nanos
// never decrease; disable returns total elapsed and stops further
// accrual; enable re-bases the start."
//
// There is no direct teacher analogue (sneller queries aren't
// per-statement timeout-budgeted the way a session-oriented SQL
// engine's are); this is built from spec.md's literal description,
// using the same atomic-int64-of-nanoseconds idiom the teacher uses for
// its own counters (tenant/dcache.Cache's hits/misses/failures).
type TimeoutToken struct {
	timeout time.Duration // <= 0 means disabled (no timeout configured)

	startedAt   int64 // UnixNano of the most recent enable; 0 if never enabled
	priorNanos  int64 // accumulated elapsed time while previously enabled
	enabledFlag int32
}

// NewTimeoutToken creates a token with the given statement timeout.
// A non-positive timeout disables the token entirely.
func NewTimeoutToken(timeout time.Duration) *TimeoutToken {
	t := &TimeoutToken{timeout: timeout}
	if timeout > 0 {
		t.enable()
	}
	return t
}

// Timeout returns the configured statement timeout (zero means none).
func (t *TimeoutToken) Timeout() time.Duration { return t.timeout }

func (t *TimeoutToken) enable() {
	atomic.StoreInt64(&t.startedAt, time.Now().UnixNano())
	atomic.StoreInt32(&t.enabledFlag, 1)
}

// Enable re-bases the start time and resumes accrual.
func (t *TimeoutToken) Enable() {
	if t.timeout <= 0 {
		return
	}
	t.enable()
}

// Disable stops further accrual and returns the total elapsed time.
func (t *TimeoutToken) Disable() time.Duration {
	if atomic.CompareAndSwapInt32(&t.enabledFlag, 1, 0) {
		started := atomic.LoadInt64(&t.startedAt)
		elapsed := time.Since(time.Unix(0, started))
		atomic.AddInt64(&t.priorNanos, int64(elapsed))
	}
	return time.Duration(atomic.LoadInt64(&t.priorNanos))
}

// Elapsed returns the total elapsed time, including time accrued while
// currently enabled.
func (t *TimeoutToken) Elapsed() time.Duration {
	prior := atomic.LoadInt64(&t.priorNanos)
	if atomic.LoadInt32(&t.enabledFlag) == 0 {
		return time.Duration(prior)
	}
	started := atomic.LoadInt64(&t.startedAt)
	return time.Duration(prior) + time.Since(time.Unix(0, started))
}

// Remaining returns the time left before the token breaches its
// timeout. It is only meaningful when Timeout() > 0.
func (t *TimeoutToken) Remaining() time.Duration {
	if t.timeout <= 0 {
		return 0
	}
	r := t.timeout - t.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Check returns a *Error of kind ErrTimeout if the token has breached
// its statement timeout, and nil otherwise. It is a no-op (never
// breaches) while disabled, matching spec.md §3: "disable() ... stops
// further accrual; ... subsequent check() is a no-op until enable()".
func (t *TimeoutToken) Check() error {
	if t.timeout <= 0 || atomic.LoadInt32(&t.enabledFlag) == 0 {
		return nil
	}
	if t.Elapsed() > t.timeout {
		return NewError(ErrTimeout, "statement_timeout ("+t.timeout.String()+")", nil)
	}
	return nil
}
