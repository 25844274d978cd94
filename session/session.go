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
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	"github.com/shardsql/core/clusterblock"
	"github.com/shardsql/core/concurrent"
	"github.com/shardsql/core/core"
)

// DefaultStatementMaxLength bounds raw statement text length accepted
// by parse(), per spec.md §3's "Enforces statementMaxLength."
const DefaultStatementMaxLength = 1 << 20

var errQuotaReached = errors.New("session: portal row quota reached")

// Session is the extended-query state machine (spec.md §3, §4.E). It is
// single-threaded: callers must not invoke its methods concurrently,
// except quickExec-style read-only settings access (spec.md §5). The
// zero value is not usable; construct with NewSession.
type Session struct {
	ID                 int64
	Secret             uint32
	ConnDescriptor     *string // nil means a system session
	ReadOnly           bool
	Settings           Settings
	StatementMaxLength int

	Analyzer      Analyzer
	Reader        ReadExecutor
	Writer        WriteExecutor
	WriteParallel int

	// Logger receives a line for timeouts, cancellations and execution
	// failures/completions, keyed by job ID (cmd/snellerd's
	// "query ID %s ..." idiom). A nil Logger is valid and disables logging.
	Logger *log.Logger

	blocks atomic.Pointer[clusterblock.Blocks]

	transaction TransactionState

	statements map[string]*PreparedStmt
	portals    map[string]*Portal
	cursors    map[string]*Portal

	deferred *deferredQueue

	activeExecution *concurrent.Future[struct{}]
	mostRecentJobID core.JobID
	activeCancel    func(reason string) // cancels whichever read is currently running, if any
}

// NewSession builds an empty session ready to accept parse/bind calls.
func NewSession(id int64, readOnly bool, settings Settings, analyzer Analyzer, reader ReadExecutor, writer WriteExecutor, writeParallel int) *Session {
	if writeParallel <= 0 {
		writeParallel = 1
	}
	return &Session{
		ID:                 id,
		ReadOnly:           readOnly,
		Settings:           settings,
		StatementMaxLength: DefaultStatementMaxLength,
		Analyzer:           analyzer,
		Reader:             reader,
		Writer:             writer,
		WriteParallel:      writeParallel,
		statements:         make(map[string]*PreparedStmt),
		portals:            make(map[string]*Portal),
		cursors:            make(map[string]*Portal),
		deferred:           newDeferredQueue(),
		activeExecution:    concurrent.Completed(struct{}{}),
	}
}

// SetBlocks installs the current cluster-block admission snapshot.
// Cluster-state updates originate from a separate "master" goroutine
// (spec.md §5), so this uses an atomic pointer rather than Session's
// single-threaded-caller discipline.
func (s *Session) SetBlocks(b *clusterblock.Blocks) { s.blocks.Store(b) }

// Transaction returns the current transaction state.
func (s *Session) Transaction() TransactionState { return s.transaction }

// MostRecentJobID returns the job id most recently submitted for
// execution, for cancellation (spec.md §3, §6).
func (s *Session) MostRecentJobID() core.JobID { return s.mostRecentJobID }

func (s *Session) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *Session) checkAdmission(an *AnalyzedStatement) error {
	b := s.blocks.Load()
	if b == nil {
		return nil
	}
	res := b.Check(an.AdmissionLevel, an.IndexID)
	if !res.Blocked {
		return nil
	}
	return core.NewError(core.ErrAdmission, fmt.Sprintf("blocked by %d cluster block(s) at %s", len(res.Reasons), an.AdmissionLevel), nil)
}

// Parse tokenizes and analyzes text, replacing any prior binding under
// statementName (spec.md §4.E).
func (s *Session) Parse(statementName, text string, paramTypes []core.Kind) error {
	max := s.StatementMaxLength
	if max <= 0 {
		max = DefaultStatementMaxLength
	}
	if len(text) > max {
		return core.NewError(core.ErrParse, "statement exceeds max length", nil)
	}

	var an *AnalyzedStatement
	if text == "" {
		an = EmptyStatement
	} else {
		var err error
		an, err = s.Analyzer.Analyze(text)
		if err != nil {
			return core.NewError(core.ErrParse, "failed to parse/analyze statement", err)
		}
	}
	if len(paramTypes) > 0 {
		cp := *an
		cp.ParamTypes = paramTypes
		an = &cp
	}

	if old, ok := s.statements[statementName]; ok {
		s.closeStatement(old)
	}
	timeout := core.NewTimeoutToken(time.Duration(s.Settings.StatementTimeout))
	s.statements[statementName] = newPreparedStmt(statementName, text, an, timeout)
	return nil
}

// closeStatement drops stmt and closes every portal (and cursor,
// deferred execution) derived from it, since a PreparedStmt is shared
// read-only with its derived portals (spec.md §5).
func (s *Session) closeStatement(stmt *PreparedStmt) {
	for name, p := range s.portals {
		if p.Stmt == stmt {
			p.Close()
			delete(s.portals, name)
		}
	}
	for name, p := range s.cursors {
		if p.Stmt == stmt {
			p.Close()
			delete(s.cursors, name)
		}
	}
	for _, de := range s.deferred.drop(stmt) {
		de.Receiver.Fail(core.NewError(core.ErrCancelled, "statement deallocated", nil))
		de.Portal.Close()
	}
}

// Bind installs a Portal, closing any previous consumer under
// portalName. DECLARE statements additionally register a portal under
// the declared cursor name (spec.md §4.E).
func (s *Session) Bind(portalName, statementName string, params []core.Value, resultFormatCodes []int) error {
	stmt, ok := s.statements[statementName]
	if !ok {
		return core.NewError(core.ErrNotFound, "unknown prepared statement "+statementName, nil)
	}
	if old, ok := s.portals[portalName]; ok {
		old.Close()
	}
	p := &Portal{Name: portalName, Stmt: stmt, Params: params, FormatCodes: resultFormatCodes}
	s.portals[portalName] = p

	if stmt.Analyzed.Kind == KindDeclare {
		p.hold = stmt.Analyzed.DeclaredHold
		cname := stmt.Analyzed.DeclaredCursorName
		if old, ok := s.cursors[cname]; ok {
			old.Close()
		}
		s.cursors[cname] = p
	}
	return nil
}

// Describe returns the parameter types, output columns and (for a
// single-table SELECT) origin table of the named prepared statement
// ('S') or portal ('P').
func (s *Session) Describe(kind byte, name string) ([]core.Kind, []OutputColumn, string, error) {
	var stmt *PreparedStmt
	switch kind {
	case 'S':
		found, ok := s.statements[name]
		if !ok {
			return nil, nil, "", core.NewError(core.ErrNotFound, "unknown prepared statement "+name, nil)
		}
		stmt = found
	case 'P':
		p, ok := s.portals[name]
		if !ok {
			return nil, nil, "", core.NewError(core.ErrNotFound, "unknown portal "+name, nil)
		}
		stmt = p.Stmt
	default:
		panic("session: describe kind must be 'P' or 'S'")
	}
	return stmt.ParamTypes(), stmt.Analyzed.Outputs, stmt.Analyzed.OriginTable, nil
}

// Execute dispatches portalName's bound statement by analyzed kind
// (spec.md §4.E). Read executions chain after any currently active
// execution; write executions are queued for the bulk path triggered
// by flush/sync.
func (s *Session) Execute(ctx context.Context, portalName string, maxRows int, receiver RowReceiver) error {
	p, ok := s.portals[portalName]
	if !ok {
		return core.NewError(core.ErrNotFound, "unknown portal "+portalName, nil)
	}
	an := p.Stmt.Analyzed

	switch an.Kind {
	case KindEmpty:
		receiver.Finish()
		return nil
	case KindBegin:
		s.transaction = InTransaction
		receiver.Finish()
		return nil
	case KindCommit:
		s.transaction = Idle
		s.closeCursorsWithHold(HoldWithout)
		receiver.Finish()
		return nil
	case KindRollback:
		s.transaction = Idle
		s.closeAllCursors()
		receiver.Finish()
		return nil
	case KindDeallocate:
		if stmt, ok := s.statements[an.DeallocateTarget]; ok {
			s.closeStatement(stmt)
			delete(s.statements, an.DeallocateTarget)
		}
		receiver.Finish()
		return nil
	case KindDeallocateAll:
		for _, stmt := range maps.Values(s.statements) {
			s.closeStatement(stmt)
		}
		s.statements = make(map[string]*PreparedStmt)
		receiver.Finish()
		return nil
	case KindDiscardAll:
		s.discardAll()
		receiver.Finish()
		return nil
	case KindCloseCursor:
		if cur, ok := s.cursors[an.CloseCursorTarget]; ok {
			cur.Close()
			delete(s.cursors, an.CloseCursorTarget)
			delete(s.portals, cur.Name)
		}
		receiver.Finish()
		return nil
	case KindDeclare:
		receiver.Finish()
		return nil
	case KindWrite:
		if s.ReadOnly {
			return core.NewError(core.ErrReadOnly, p.Stmt.Text, nil)
		}
		if err := s.checkAdmission(an); err != nil {
			return err
		}
		s.deferred.push(p.Stmt, &DeferredExecution{Portal: p, Params: p.Params, MaxRows: maxRows, Receiver: receiver})
		return nil
	case KindRead:
		if err := s.checkAdmission(an); err != nil {
			return err
		}
		if p.consumer != nil && p.consumer.suspended {
			p.consumer.receiver = receiver
			p.consumer.maxRows = maxRows
			p.consumer.delivered = 0
			p.consumer.suspended = false
		} else {
			p.consumer = newConsumer(receiver, maxRows)
		}
		s.chainRead(ctx, p)
		return nil
	default:
		panic("session: unhandled statement kind")
	}
}

func (s *Session) closeCursorsWithHold(h Hold) {
	for name, cur := range s.cursors {
		if cur.hold == h {
			cur.Close()
			delete(s.cursors, name)
			delete(s.portals, cur.Name)
		}
	}
}

func (s *Session) closeAllCursors() {
	for name, cur := range s.cursors {
		cur.Close()
		delete(s.cursors, name)
		delete(s.portals, cur.Name)
	}
}

// discardAll closes the whole session's portal/cursor/statement state,
// per spec.md §4.E's "DISCARD ALL -> close whole session state."
func (s *Session) discardAll() {
	for _, p := range s.portals {
		p.Close()
	}
	s.portals = make(map[string]*Portal)
	s.cursors = make(map[string]*Portal)
	s.statements = make(map[string]*PreparedStmt)
	for _, de := range s.deferred.drain() {
		for _, e := range de.Execs {
			e.Receiver.Fail(core.NewError(core.ErrCancelled, "session discarded", nil))
			e.Portal.Close()
		}
	}
}

// chainRead queues p's read execution after the session's current
// active execution (spec.md §4.E: "read-path executions chain via
// then(_ -> nextExec)").
func (s *Session) chainRead(ctx context.Context, p *Portal) {
	var job core.JobID
	if p.jobID.IsZero() {
		job = core.NewJobID()
		p.jobID = job
	} else {
		job = p.jobID
	}
	s.mostRecentJobID = job

	tok := p.Stmt.Timeout
	elapsed := tok.Disable()
	remaining := tok.Timeout() - elapsed - p.execElapsed

	s.activeExecution = concurrent.ThenCompose(s.activeExecution, func(struct{}) *concurrent.Future[struct{}] {
		return s.runRead(ctx, job, p, tok, remaining)
	})
}

func (s *Session) runRead(parent context.Context, job core.JobID, p *Portal, tok *core.TimeoutToken, remaining time.Duration) *concurrent.Future[struct{}] {
	future := concurrent.NewFuture[struct{}](nil)
	cons := p.consumer

	start := time.Now()
	runCtx, cancel := context.WithCancel(parent)
	s.activeCancel = func(reason string) {
		s.logf("query ID %s canceled: %s", job, reason)
		cons.fail(core.NewError(core.ErrCancelled, reason, nil))
		cancel()
	}

	var timer *time.Timer
	if tok.Timeout() > 0 {
		if remaining < 0 {
			remaining = 0
		}
		timer = time.AfterFunc(remaining, func() {
			s.logf("query ID %s canceled after %s: statement_timeout (%s)", job, time.Since(start), tok.Timeout())
			cons.fail(core.NewError(core.ErrTimeout, fmt.Sprintf("statement_timeout (%s)", tok.Timeout()), nil))
			cancel()
		})
	}

	go func() {
		err := s.Reader.Execute(runCtx, job, p.Stmt, p.Params, cons.maxRows, &trackingReceiver{consumer: cons})
		if timer != nil {
			timer.Stop()
		}
		cancel()
		s.activeCancel = nil

		switch {
		case errors.Is(err, errQuotaReached):
			cons.suspended = true
			p.execElapsed += time.Since(start)
			future.Complete(struct{}{})
		case err != nil:
			s.logf("query ID %s failed after %s: %s", job, time.Since(start), err)
			cons.fail(err)
			p.jobID = core.JobID{}
			p.execElapsed = 0
			future.CompleteExceptionally(err)
		default:
			s.logf("query ID %s duration %s rows %d", job, time.Since(start), cons.delivered)
			cons.finish()
			p.jobID = core.JobID{}
			p.execElapsed = 0
			future.Complete(struct{}{})
		}
	}()
	return future
}

// trackingReceiver wraps a portal's consumer so the ReadExecutor can be
// told to stop once the row quota is reached, without the executor
// needing to know about Portal/consumer bookkeeping itself.
type trackingReceiver struct {
	consumer *consumer
}

func (t *trackingReceiver) Row(r core.Row) error {
	if err := t.consumer.receiver.Row(r); err != nil {
		return err
	}
	t.consumer.delivered++
	if t.consumer.quotaRemaining() == 0 {
		return errQuotaReached
	}
	return nil
}

func (t *trackingReceiver) Finish() {}
func (t *trackingReceiver) Fail(error) {}

// Flush triggers execution of pending deferred (write) executions
// without acknowledging ready-for-query (spec.md §4.E).
func (s *Session) Flush(ctx context.Context) {
	if s.deferred.empty() {
		return
	}
	groups := s.deferred.drain()
	s.activeExecution = concurrent.ThenCompose(s.activeExecution, func(struct{}) *concurrent.Future[struct{}] {
		future := concurrent.NewFuture[struct{}](nil)
		go func() {
			for _, g := range groups {
				runBulkGroup(ctx, s.Writer, g.Stmt.Name, g, s.WriteParallel)
			}
			future.Complete(struct{}{})
		}()
		return future
	})
}

// Sync flushes any pending deferred executions (unconditionally;
// forceBulk only affects whether a caller wants bulk grouping even for
// a single pending item, which this implementation always does) and
// returns a future completing when the current and any just-flushed
// executions finish (spec.md §4.E).
func (s *Session) Sync(ctx context.Context, forceBulk bool) *concurrent.Future[struct{}] {
	_ = forceBulk
	s.Flush(ctx)
	return s.activeExecution
}

// CancelCurrentJob cancels mostRecentJobID's run in progress, if any, by
// cancelling the context.Context it was started with; callers wire this
// to a kill-jobs RPC for distributed phases (spec.md §3, §6). If no read
// is currently running (the session is idle, or a queued-but-not-yet-
// started execution is still waiting its turn on the chain), this is a
// no-op: there is nothing in progress to signal.
func (s *Session) CancelCurrentJob(requestedBy string) {
	if s.activeCancel != nil {
		s.activeCancel(fmt.Sprintf("Cancellation request by: %s", requestedBy))
	}
}

// ResetDeferredExecutions drains and closes all queued deferred
// executions' portals without running them (spec.md §3).
func (s *Session) ResetDeferredExecutions() {
	for _, g := range s.deferred.drain() {
		for _, de := range g.Execs {
			de.Receiver.Fail(core.NewError(core.ErrCancelled, "deferred execution reset", nil))
			de.Portal.Close()
		}
	}
}

// Close cancels the current job, closes all portals and consumers, and
// clears statements and cursors (spec.md §4.E).
func (s *Session) Close() {
	s.CancelCurrentJob(s.Settings.Identity)
	s.ResetDeferredExecutions()
	for _, p := range s.portals {
		p.Close()
	}
	s.portals = make(map[string]*Portal)
	s.cursors = make(map[string]*Portal)
	s.statements = make(map[string]*PreparedStmt)
}
