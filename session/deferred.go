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

package session

import "github.com/shardsql/core/core"

// DeferredExecution is a queued write-statement execute() call, waiting
// for flush/sync to trigger executeBulk (spec.md §3, §4.D).
type DeferredExecution struct {
	Portal   *Portal
	Params   []core.Value
	MaxRows  int
	Receiver RowReceiver
}

// deferredGroup is every DeferredExecution queued against one parsed
// statement identity, in bind order.
type deferredGroup struct {
	Stmt  *PreparedStmt
	Execs []*DeferredExecution
}

// deferredQueue groups queued write executions by the identity of their
// parsed statement (spec.md §4.E: "deferred executions are keyed by the
// identity of the parsed statement (not text)"), preserving bind order
// within a key and first-bind order across keys.
type deferredQueue struct {
	order  []*PreparedStmt
	byStmt map[*PreparedStmt][]*DeferredExecution
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{byStmt: make(map[*PreparedStmt][]*DeferredExecution)}
}

func (q *deferredQueue) push(stmt *PreparedStmt, de *DeferredExecution) {
	if _, seen := q.byStmt[stmt]; !seen {
		q.order = append(q.order, stmt)
	}
	q.byStmt[stmt] = append(q.byStmt[stmt], de)
}

// empty reports whether any execution is queued.
func (q *deferredQueue) empty() bool { return len(q.order) == 0 }

// drain removes and returns every queued group, in first-bind-of-key
// order, leaving the queue empty.
func (q *deferredQueue) drain() []deferredGroup {
	if len(q.order) == 0 {
		return nil
	}
	groups := make([]deferredGroup, len(q.order))
	for i, stmt := range q.order {
		groups[i] = deferredGroup{Stmt: stmt, Execs: q.byStmt[stmt]}
	}
	q.order = nil
	q.byStmt = make(map[*PreparedStmt][]*DeferredExecution)
	return groups
}

// drop removes every execution targeting stmt, without running them,
// for DEALLOCATE/DISCARD ALL.
func (q *deferredQueue) drop(stmt *PreparedStmt) []*DeferredExecution {
	execs, ok := q.byStmt[stmt]
	if !ok {
		return nil
	}
	delete(q.byStmt, stmt)
	for i, s := range q.order {
		if s == stmt {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return execs
}
