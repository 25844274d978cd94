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

package jobexec

import (
	"context"
	"testing"
	"time"

	"github.com/shardsql/core/core"
)

func TestRetryOnFailureRetriesTemporary(t *testing.T) {
	seen := map[core.JobID]bool{}
	attempts := 0
	err := RetryOnFailure(context.Background(), core.NewTimeoutToken(time.Second), func(_ context.Context, job core.JobID, _ *core.TimeoutToken) error {
		attempts++
		seen[job] = true
		if attempts < 3 {
			return core.NewError(core.ErrTemporary, "shard unavailable", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct job ids across retries, got %d", len(seen))
	}
}

func TestRetryOnFailureStopsOnNonTemporary(t *testing.T) {
	attempts := 0
	err := RetryOnFailure(context.Background(), core.NewTimeoutToken(time.Second), func(_ context.Context, _ core.JobID, _ *core.TimeoutToken) error {
		attempts++
		return core.NewError(core.ErrParse, "bad syntax", nil)
	})
	if err == nil {
		t.Fatal("expected a non-temporary error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestRetryOnFailureStopsWhenTimeoutBreached(t *testing.T) {
	tok := core.NewTimeoutToken(5 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	attempts := 0
	err := RetryOnFailure(context.Background(), tok, func(_ context.Context, _ core.JobID, _ *core.TimeoutToken) error {
		attempts++
		return core.NewError(core.ErrTemporary, "shard unavailable", nil)
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if core.KindOf(err) != core.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", core.KindOf(err))
	}
	if attempts != 0 {
		t.Fatalf("expected no attempts once timeout already breached, got %d", attempts)
	}
}
