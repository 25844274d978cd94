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

import (
	"context"

	"github.com/shardsql/core/core"
	"github.com/shardsql/core/jobexec"
)

// ReadExecutor runs a read statement's plan, streaming rows to receiver
// until the plan is exhausted, maxRows is reached, or ctx is cancelled.
// It is the session's narrow interface onto query planning and
// distributed execution (jobexec.Runner, transport), both external
// collaborators per spec.md §1.
type ReadExecutor interface {
	Execute(ctx context.Context, job core.JobID, stmt *PreparedStmt, params []core.Value, maxRows int, receiver RowReceiver) error
}

// WriteExecutor applies one write statement invocation's parameter row
// against the cluster, returning the number of rows it affected. It is
// identical in shape to jobexec.BulkExecutor so the bulk path below can
// fan a deferred-execution group out through jobexec.ExecuteBulk.
type WriteExecutor interface {
	ExecuteOne(ctx context.Context, arg jobexec.BulkArg) (int64, error)
}

// runBulkGroup executes every queued invocation of one write statement
// via jobexec.ExecuteBulk (spec.md §4.D's bulk path: "the plan returns
// a BulkResponse with per-arg row counts and optional failures"), then
// delivers each result to its own deferred execution's receiver in
// input order, matching §8 property 2 and scenario E2.
func runBulkGroup(ctx context.Context, exec WriteExecutor, stmtName string, group deferredGroup, parallel int) {
	args := make([]jobexec.BulkArg, len(group.Execs))
	for i, de := range group.Execs {
		args[i] = jobexec.BulkArg{Index: stmtName, Rows: []core.Row{core.Row(de.Params)}}
	}
	resp := jobexec.ExecuteBulk(ctx, exec, args, parallel)
	results := resp.Results()
	for i, de := range group.Execs {
		r := results[i]
		if r.Err != nil {
			de.Receiver.Fail(r.Err)
			continue
		}
		if err := de.Receiver.Row(core.Row{core.Int(r.RowCount)}); err != nil {
			de.Receiver.Fail(err)
			continue
		}
		de.Receiver.Finish()
	}
}
