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
	"testing"
	"time"
)

func TestTimeoutTokenBreach(t *testing.T) {
	tok := NewTimeoutToken(20 * time.Millisecond)
	if err := tok.Check(); err != nil {
		t.Fatalf("expected no breach immediately, got %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	err := tok.Check()
	if err == nil {
		t.Fatal("expected timeout breach")
	}
	if KindOf(err) != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", KindOf(err))
	}
}

func TestTimeoutTokenDisableEnable(t *testing.T) {
	tok := NewTimeoutToken(time.Hour)
	time.Sleep(5 * time.Millisecond)
	elapsed := tok.Disable()
	if elapsed <= 0 {
		t.Fatalf("expected positive elapsed, got %v", elapsed)
	}
	if err := tok.Check(); err != nil {
		t.Fatalf("disabled token must not breach: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if got := tok.Disable(); got != elapsed {
		t.Fatalf("disable while already disabled should be a no-op: got %v want %v", got, elapsed)
	}
	tok.Enable()
	if err := tok.Check(); err != nil {
		t.Fatalf("freshly re-enabled token must not breach: %v", err)
	}
}

func TestTimeoutTokenNoTimeoutNeverBreaches(t *testing.T) {
	tok := NewTimeoutToken(0)
	time.Sleep(5 * time.Millisecond)
	if err := tok.Check(); err != nil {
		t.Fatalf("zero timeout must never breach: %v", err)
	}
}

func TestJobIDUnique(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	if a == b {
		t.Fatal("expected distinct job ids")
	}
	if a.IsZero() || b.IsZero() {
		t.Fatal("freshly generated ids must not be zero")
	}
}
