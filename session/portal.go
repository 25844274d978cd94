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
	"sync"
	"time"

	"github.com/shardsql/core/core"
)

// RowReceiver is the caller-supplied sink execute() streams rows to.
// Row delivery, suspension and termination are all routed through it;
// Session never buffers a statement's full result set.
type RowReceiver interface {
	Row(core.Row) error
	Finish()
	Fail(err error)
}

// consumer tracks one RowReceiver's remaining row quota across a
// portal's execute calls. It suspends once maxRows rows have been
// delivered (spec.md §5: "a portal consumer suspends when it reaches
// maxRows"), and a later execute either resumes it with a fresh
// receiver/quota or closes it.
type consumer struct {
	receiver  RowReceiver
	maxRows   int // <= 0 means unlimited
	delivered int
	suspended bool
	once      sync.Once
}

func newConsumer(receiver RowReceiver, maxRows int) *consumer {
	return &consumer{receiver: receiver, maxRows: maxRows}
}

// quotaRemaining returns how many more rows this consumer may accept right
// now, or -1 for unlimited.
func (c *consumer) quotaRemaining() int {
	if c.maxRows <= 0 {
		return -1
	}
	return c.maxRows - c.delivered
}

// finish and fail deliver the consumer's terminal outcome exactly once,
// per spec.md §7: "the first terminal outcome is reported; subsequent
// errors are silently absorbed to avoid double delivery."
func (c *consumer) finish() { c.once.Do(c.receiver.Finish) }
func (c *consumer) fail(err error) {
	c.once.Do(func() { c.receiver.Fail(err) })
}

func (c *consumer) close() {
	if c == nil {
		return
	}
	c.fail(core.NewError(core.ErrCancelled, "portal closed", nil))
}

// Portal binds a PreparedStmt to parameter values and an optional
// active consumer (spec.md §3). A Portal derived from a DECLARE
// statement also carries its cursor hold attribute.
type Portal struct {
	Name          string
	Stmt          *PreparedStmt
	Params        []core.Value
	FormatCodes   []int
	consumer *consumer
	hold     Hold // meaningful only for a portal registered as a cursor

	// jobID is set while a read job is active or suspended for this
	// portal, so a resumed execute() continues the same job instead of
	// starting a fresh one; it is cleared once the job reaches a
	// terminal outcome.
	jobID core.JobID

	// execElapsed accumulates wall-clock time actually spent running
	// this job across suspended partial runs, so a resumed read's
	// statement-timeout budget shrinks by time already spent instead of
	// re-arming from the full timeout on every resume. It is cleared
	// alongside jobID once the job reaches a terminal outcome.
	execElapsed time.Duration
}

// Suspended reports whether the portal's active consumer hit its row
// quota and is waiting to be resumed or closed.
func (p *Portal) Suspended() bool {
	return p.consumer != nil && p.consumer.suspended
}

// Close releases the portal's active consumer, if any (spec.md §3:
// "Closing a portal must close its consumer").
func (p *Portal) Close() {
	p.consumer.close()
	p.consumer = nil
}
