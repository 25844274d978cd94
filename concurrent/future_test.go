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

package concurrent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureCompleteThenWait(t *testing.T) {
	f := NewFuture[int](nil)
	f.Complete(42)
	v, err := f.Wait(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
}

func TestFutureFirstOutcomeWins(t *testing.T) {
	f := NewFuture[int](nil)
	if !f.Complete(1) {
		t.Fatal("first Complete should succeed")
	}
	if f.Complete(2) {
		t.Fatal("second Complete should be absorbed")
	}
	v, _ := f.Wait(context.Background())
	if v != 1 {
		t.Fatalf("expected first value to win, got %d", v)
	}
}

func TestFutureCancelInvokesCallback(t *testing.T) {
	var reason string
	f := NewFuture[int](func(r string) { reason = r })
	if !f.Cancel("user request") {
		t.Fatal("cancel should succeed on a pending future")
	}
	_, err := f.Wait(context.Background())
	gotReason, ok := CancelReason(err)
	if !ok || gotReason != "user request" {
		t.Fatalf("expected cancellation reason, got %v", err)
	}
	if reason != "user request" {
		t.Fatalf("callback not invoked with reason, got %q", reason)
	}
}

func TestFutureCancelAfterCompleteNoOp(t *testing.T) {
	called := false
	f := NewFuture[int](func(string) { called = true })
	f.Complete(7)
	if f.Cancel("too late") {
		t.Fatal("cancel after complete should fail")
	}
	if called {
		t.Fatal("cancel callback must not run once already completed")
	}
}

func TestThenComposeChainsOnSuccess(t *testing.T) {
	f := Completed(10)
	g := ThenCompose(f, func(v int) *Future[int] {
		return Completed(v * 2)
	})
	v, err := g.Wait(context.Background())
	if err != nil || v != 20 {
		t.Fatalf("got (%d, %v), want (20, nil)", v, err)
	}
}

func TestThenComposeSkipsOnFailure(t *testing.T) {
	want := errors.New("boom")
	f := Failed[int](want)
	called := false
	g := ThenCompose(f, func(v int) *Future[int] {
		called = true
		return Completed(v)
	})
	_, err := g.Wait(context.Background())
	if err != want {
		t.Fatalf("expected original error to propagate, got %v", err)
	}
	if called {
		t.Fatal("fn must not run when the source future failed")
	}
}

func TestExceptionallyComposeRecovers(t *testing.T) {
	f := Failed[int](errors.New("shard unavailable"))
	g := ExceptionallyCompose(f, func(error) *Future[int] {
		return Completed(99)
	})
	v, err := g.Wait(context.Background())
	if err != nil || v != 99 {
		t.Fatalf("got (%d, %v), want (99, nil)", v, err)
	}
}

func TestAllOfSucceedsWhenAllSucceed(t *testing.T) {
	all := AllOf(Completed(1), Completed(2), Completed(3))
	if _, err := all.Wait(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestAllOfFailsWithFirstError(t *testing.T) {
	want := errors.New("node down")
	all := AllOf(Completed(1), Failed[int](want), Completed(3))
	_, err := all.Wait(context.Background())
	if err != want {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestFutureWaitRespectsContext(t *testing.T) {
	f := NewFuture[int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
