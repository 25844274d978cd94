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
	"strconv"
	"sync"

	"github.com/shardsql/core/core"
)

// BulkResult is one index's outcome within a BulkResponse: spec.md
// §3's "fixed-length ordered sequence of (rowCount, optional failure)".
type BulkResult struct {
	RowCount int64
	Err      error
}

// BulkResponse is the fixed-length, per-index-ordered result of a bulk
// write execution. It is set exactly once per index.
type BulkResponse struct {
	results []BulkResult
	set     []bool
}

// NewBulkResponse allocates a response sized for n indices.
func NewBulkResponse(n int) *BulkResponse {
	return &BulkResponse{results: make([]BulkResult, n), set: make([]bool, n)}
}

// Set records the outcome for index i. Setting the same index twice is
// a programming error.
func (b *BulkResponse) Set(i int, rowCount int64, err error) {
	if b.set[i] {
		panic("jobexec: BulkResponse.Set called twice for the same index")
	}
	b.results[i] = BulkResult{RowCount: rowCount, Err: err}
	b.set[i] = true
}

// Results returns the per-index results in input order. Every entry
// must have been Set exactly once.
func (b *BulkResponse) Results() []BulkResult {
	for i, ok := range b.set {
		if !ok {
			panic("jobexec: BulkResponse read before index " + strconv.Itoa(i) + " was set")
		}
	}
	return b.results
}

// BulkArg is one unit of a bulk write: the index it targets and the
// rows to write.
type BulkArg struct {
	Index string
	Rows  []core.Row
}

// BulkExecutor writes one BulkArg to its target index, returning the
// number of rows written.
type BulkExecutor interface {
	ExecuteOne(ctx context.Context, arg BulkArg) (rowCount int64, err error)
}

// ExecuteBulk runs every arg concurrently through exec and returns a
// BulkResponse with one result per arg in input order, matching
// spec.md §4.D's bulk contract: "plan.executeBulk(executor, ctx,
// bulkArgs, subQueryResults) → BulkResponse". Built in the teacher's
// fan-out idiom (plan/exec.go's WaitGroup + per-index error slice),
// since the teacher itself has no bulk-write path to adapt directly.
func ExecuteBulk(ctx context.Context, exec BulkExecutor, args []BulkArg, parallel int) *BulkResponse {
	resp := NewBulkResponse(len(args))
	if len(args) == 0 {
		return resp
	}
	if parallel <= 0 || parallel > len(args) {
		parallel = len(args)
	}
	p := mkpool(parallel)
	defer close(p)

	var wg sync.WaitGroup
	wg.Add(len(args))
	for i := range args {
		p.do(i, func(i int) {
			defer wg.Done()
			n, err := exec.ExecuteOne(ctx, args[i])
			resp.Set(i, n, err)
		})
	}
	wg.Wait()
	return resp
}
