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

// Package jobexec implements JobPhaseRunner (spec.md §4.D): a plan
// compiled into ordered phases (collect on shards, merge on
// intermediate nodes, finalize on the coordinator), distributed across
// a node-id set per phase and fanned out with a pool of worker
// goroutines, directly adapted from plan/exec.go's executor/pool.
package jobexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/shardsql/core/core"
)

// Kind names the role a Phase plays in the pipeline.
type Kind uint8

const (
	Collect Kind = iota
	Merge
	Handler
)

func (k Kind) String() string {
	switch k {
	case Collect:
		return "collect"
	case Merge:
		return "merge"
	case Handler:
		return "handler"
	default:
		return "unknown"
	}
}

// Distribution says how rows move from this phase to the next.
type Distribution uint8

const (
	Broadcast Distribution = iota
	Gather
	HashByKey
)

// Projection is a pure function on a row batch, the open set described
// by spec.md §4.D (Group / Filter / LimitAndOffset / OrderedLimitAndOffset / Eval).
type Projection interface {
	Apply(rows []core.Row) ([]core.Row, error)
}

// ProjectionFunc adapts a plain function to Projection.
type ProjectionFunc func(rows []core.Row) ([]core.Row, error)

func (f ProjectionFunc) Apply(rows []core.Row) ([]core.Row, error) { return f(rows) }

// Phase is one stage of a compiled plan.
type Phase struct {
	ID           string
	Kind         Kind
	NodeIDs      []string
	Projections  []Projection
	Distribution Distribution
}

// apply runs every projection in order over rows.
func (p *Phase) apply(rows []core.Row) ([]core.Row, error) {
	var err error
	for _, proj := range p.Projections {
		rows, err = proj.Apply(rows)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Apply runs p's projection chain over rows. Exported for the
// transport package's server side, which holds a pre-registered
// *Phase (keyed by phase ID, per the node's copy of the compiled plan)
// and must invoke its projection chain on behalf of a remote request.
func (p *Phase) Apply(rows []core.Row) ([]core.Row, error) { return p.apply(rows) }

// NodeDispatcher is jobexec's view of the transport layer: run one
// phase's local projection chain on a specific remote node against the
// rows that phase receives from its upstream. The transport package's
// Dispatcher implements this over the wire; a localDispatcher (below)
// runs the chain in-process for single-node execution and tests.
type NodeDispatcher interface {
	RunPhase(ctx context.Context, nodeID string, ph *Phase, input []core.Row) ([]core.Row, error)
}

// localDispatcher runs a phase's projection chain in the calling
// process, ignoring nodeID. Used when a phase's node set is the
// coordinator itself, or in tests that don't exercise transport.
type localDispatcher struct{}

func (localDispatcher) RunPhase(_ context.Context, _ string, ph *Phase, input []core.Row) ([]core.Row, error) {
	return ph.apply(input)
}

// LocalDispatcher returns a NodeDispatcher that executes phases
// in-process.
func LocalDispatcher() NodeDispatcher { return localDispatcher{} }

// Runner drives a multi-phase plan to completion: collect runs on every
// node of its phase, merge gathers all collect outputs and runs on its
// own node set, and handler does the same for the final stage before
// handing rows to the caller.
type Runner struct {
	dispatcher NodeDispatcher
	parallel   int
}

// NewRunner returns a Runner that fans node-level phase execution out
// across up to parallel goroutines; parallel <= 0 is treated as 1.
func NewRunner(dispatcher NodeDispatcher, parallel int) *Runner {
	if parallel <= 0 {
		parallel = 1
	}
	return &Runner{dispatcher: dispatcher, parallel: parallel}
}

// RunCollect runs ph (a Collect-kind phase) on every one of its
// NodeIDs, each receiving the same input (typically nil; shard-local
// phases source their own rows via storedrow/groupby), and returns the
// concatenation of every node's output rows.
func (r *Runner) RunCollect(ctx context.Context, ph *Phase, input []core.Row) ([]core.Row, error) {
	if ph.Kind != Collect {
		panic("jobexec: RunCollect called on a non-collect phase")
	}
	return r.fanOut(ctx, ph, input)
}

// RunMerge runs ph (a Merge-kind phase) once per node in its node set,
// each receiving the full gathered input from the upstream phase.
func (r *Runner) RunMerge(ctx context.Context, ph *Phase, input []core.Row) ([]core.Row, error) {
	if ph.Kind != Merge {
		panic("jobexec: RunMerge called on a non-merge phase")
	}
	return r.fanOut(ctx, ph, input)
}

// RunHandler runs ph (the single coordinator-side Handler phase) and
// returns its final rows, ready to stream to the session's
// RowReceiver.
func (r *Runner) RunHandler(ctx context.Context, ph *Phase, input []core.Row) ([]core.Row, error) {
	if ph.Kind != Handler {
		panic("jobexec: RunHandler called on a non-handler phase")
	}
	if len(ph.NodeIDs) != 1 {
		panic("jobexec: handler phase must name exactly one node")
	}
	return r.dispatcher.RunPhase(ctx, ph.NodeIDs[0], ph, input)
}

// fanOut dispatches ph to every node in ph.NodeIDs in parallel, using a
// worker pool sized to r.parallel, and concatenates their outputs in
// node order, adapted from plan/exec.go's executor.run/runtask.
func (r *Runner) fanOut(ctx context.Context, ph *Phase, input []core.Row) ([]core.Row, error) {
	n := len(ph.NodeIDs)
	if n == 0 {
		return nil, nil
	}
	parallel := r.parallel
	if parallel > n {
		parallel = n
	}
	p := mkpool(parallel)
	defer close(p)

	results := make([][]core.Row, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range ph.NodeIDs {
		p.do(i, func(i int) {
			defer wg.Done()
			rows, err := r.dispatcher.RunPhase(ctx, ph.NodeIDs[i], ph, input)
			results[i] = rows
			errs[i] = err
		})
	}
	wg.Wait()
	if err := appenderrs(nil, errs); err != nil {
		return nil, fmt.Errorf("phase %s: %w", ph.ID, err)
	}
	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]core.Row, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
