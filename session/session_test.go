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
	"sync"
	"testing"
	"time"

	"github.com/shardsql/core/clusterblock"
	"github.com/shardsql/core/core"
	"github.com/shardsql/core/jobexec"
)

// mapAnalyzer resolves statement text to a preset AnalyzedStatement,
// mirroring the fake-collaborator style jobexec's tests already use.
type mapAnalyzer map[string]*AnalyzedStatement

func (m mapAnalyzer) Analyze(text string) (*AnalyzedStatement, error) {
	an, ok := m[text]
	if !ok {
		return nil, core.NewError(core.ErrParse, "no analysis registered for: "+text, nil)
	}
	return an, nil
}

// rowsExecutor is a ReadExecutor that streams a fixed row set, tracking
// per-job position so a suspended portal resumes where it left off.
type rowsExecutor struct {
	mu   sync.Mutex
	rows []core.Row
	pos  map[core.JobID]int
}

func newRowsExecutor(rows ...core.Row) *rowsExecutor {
	return &rowsExecutor{rows: rows, pos: make(map[core.JobID]int)}
}

func (e *rowsExecutor) Execute(ctx context.Context, job core.JobID, _ *PreparedStmt, _ []core.Value, _ int, receiver RowReceiver) error {
	e.mu.Lock()
	start := e.pos[job]
	e.mu.Unlock()
	for i := start; i < len(e.rows); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := receiver.Row(e.rows[i]); err != nil {
			e.mu.Lock()
			e.pos[job] = i + 1
			e.mu.Unlock()
			return err
		}
	}
	e.mu.Lock()
	e.pos[job] = len(e.rows)
	e.mu.Unlock()
	return nil
}

// blockingExecutor never returns until ctx is cancelled, for exercising
// statement-timeout and explicit-cancellation paths.
type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ core.JobID, _ *PreparedStmt, _ []core.Value, _ int, _ RowReceiver) error {
	<-ctx.Done()
	return ctx.Err()
}

// recordingWriteExecutor records every BulkArg it sees and reports the
// row's own int parameter back as the row count, so a test can match a
// result to the specific bind that produced it even though
// jobexec.ExecuteBulk fans calls out concurrently (arrival order is not
// bind order; only the result-array position is).
type recordingWriteExecutor struct {
	mu   sync.Mutex
	seen []jobexec.BulkArg
}

func (w *recordingWriteExecutor) ExecuteOne(_ context.Context, arg jobexec.BulkArg) (int64, error) {
	w.mu.Lock()
	w.seen = append(w.seen, arg)
	w.mu.Unlock()
	return arg.Rows[0][0].Int(), nil
}

// recordingReceiver is a RowReceiver that records every delivered row
// and the terminal outcome, closing done exactly once.
type recordingReceiver struct {
	mu       sync.Mutex
	rows     []core.Row
	err      error
	finished bool
	done     chan struct{}
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{done: make(chan struct{})}
}

func (r *recordingReceiver) Row(row core.Row) error {
	r.mu.Lock()
	r.rows = append(r.rows, row)
	r.mu.Unlock()
	return nil
}

func (r *recordingReceiver) Finish() {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
	close(r.done)
}

func (r *recordingReceiver) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

func (r *recordingReceiver) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never reached a terminal outcome")
	}
}

func readStatement(outputs ...OutputColumn) *AnalyzedStatement {
	return &AnalyzedStatement{Kind: KindRead, ParamTypes: []core.Kind{core.KindInt}, Outputs: outputs, OriginTable: "widgets"}
}

// TestExtendedQueryHappyPath is scenario E1: parse, bind, describe by
// both 'S' and 'P', execute, and observe every row plus a clean finish.
func TestExtendedQueryHappyPath(t *testing.T) {
	an := readStatement(OutputColumn{Name: "id", Type: core.KindInt})
	analyzer := mapAnalyzer{"SELECT id FROM widgets WHERE id = $1": an}
	reader := newRowsExecutor(core.Row{core.Int(1)}, core.Row{core.Int(2)})

	s := NewSession(1, false, Settings{}, analyzer, reader, nil, 1)
	if err := s.Parse("stmt1", "SELECT id FROM widgets WHERE id = $1", nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Bind("portal1", "stmt1", []core.Value{core.Int(7)}, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}

	paramTypes, outputs, origin, err := s.Describe('S', "stmt1")
	if err != nil || len(paramTypes) != 1 || len(outputs) != 1 || origin != "widgets" {
		t.Fatalf("describe(S): got %v %v %q err=%v", paramTypes, outputs, origin, err)
	}
	if _, _, _, err := s.Describe('P', "portal1"); err != nil {
		t.Fatalf("describe(P): %v", err)
	}

	recv := newRecordingReceiver()
	if err := s.Execute(context.Background(), "portal1", 0, recv); err != nil {
		t.Fatalf("execute: %v", err)
	}
	recv.wait(t)
	if len(recv.rows) != 2 || !recv.finished || recv.err != nil {
		t.Fatalf("unexpected receiver state: rows=%d finished=%v err=%v", len(recv.rows), recv.finished, recv.err)
	}
}

// TestBulkInsertPreservesBindOrder is scenario E2: three binds of the
// same write statement must report their row counts, in bind order,
// only once flush/sync triggers the bulk path.
func TestBulkInsertPreservesBindOrder(t *testing.T) {
	analyzer := mapAnalyzer{"INSERT INTO widgets VALUES ($1)": {Kind: KindWrite, ParamTypes: []core.Kind{core.KindInt}}}
	writer := &recordingWriteExecutor{}
	s := NewSession(1, false, Settings{}, analyzer, nil, writer, 2)

	if err := s.Parse("ins", "INSERT INTO widgets VALUES ($1)", nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	receivers := make([]*recordingReceiver, 3)
	for i := 0; i < 3; i++ {
		portal := "p" + string(rune('a'+i))
		if err := s.Bind(portal, "ins", []core.Value{core.Int(int64(i))}, nil); err != nil {
			t.Fatalf("bind %d: %v", i, err)
		}
		receivers[i] = newRecordingReceiver()
		if err := s.Execute(context.Background(), portal, 0, receivers[i]); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	fut := s.Sync(context.Background(), false)
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	for i, r := range receivers {
		r.wait(t)
		if !r.finished || r.err != nil {
			t.Fatalf("execution %d: finished=%v err=%v", i, r.finished, r.err)
		}
		want := core.Int(int64(i))
		if len(r.rows) != 1 || !r.rows[0][0].Equal(want) {
			t.Fatalf("execution %d: expected its own bind's row count (%d), got %v", i, i, r.rows)
		}
	}
	if len(writer.seen) != 3 {
		t.Fatalf("expected 3 bulk args, got %d", len(writer.seen))
	}
}

// TestStatementTimeoutFailsExecution is scenario E3: a read that
// outlives its statement_timeout is failed with ErrTimeout, and the
// scheduled kill cancels the context the ReadExecutor was given.
func TestStatementTimeoutFailsExecution(t *testing.T) {
	analyzer := mapAnalyzer{"SELECT * FROM widgets": readStatement()}
	s := NewSession(1, false, Settings{StatementTimeout: int64(20 * time.Millisecond)}, analyzer, blockingExecutor{}, nil, 1)

	if err := s.Parse("stmt1", "SELECT * FROM widgets", nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Bind("portal1", "stmt1", nil, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}

	recv := newRecordingReceiver()
	if err := s.Execute(context.Background(), "portal1", 0, recv); err != nil {
		t.Fatalf("execute: %v", err)
	}
	recv.wait(t)
	if recv.err == nil || core.KindOf(recv.err) != core.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", recv.err)
	}
}

// TestClusterBlockAdmissionBlocksWriteNotRead is scenario E4: a global
// METADATA_WRITE block rejects a write statement carrying that
// admission level while leaving a plain read unaffected.
func TestClusterBlockAdmissionBlocksWriteNotRead(t *testing.T) {
	analyzer := mapAnalyzer{
		"UPDATE widgets SET x = 1": {Kind: KindWrite, AdmissionLevel: clusterblock.MetadataWrite},
		"SELECT * FROM widgets":    {Kind: KindRead, AdmissionLevel: clusterblock.Read, Outputs: nil},
	}
	s := NewSession(1, false, Settings{}, analyzer, newRowsExecutor(), &recordingWriteExecutor{}, 1)
	blocks := clusterblock.NewBuilder().
		AddGlobal(&clusterblock.Block{ID: "cluster-ro", Levels: []clusterblock.Level{clusterblock.MetadataWrite}}).
		Build()
	s.SetBlocks(blocks)

	if err := s.Parse("w", "UPDATE widgets SET x = 1", nil); err != nil {
		t.Fatalf("parse write: %v", err)
	}
	if err := s.Bind("wp", "w", nil, nil); err != nil {
		t.Fatalf("bind write: %v", err)
	}
	err := s.Execute(context.Background(), "wp", 0, newRecordingReceiver())
	if err == nil || core.KindOf(err) != core.ErrAdmission {
		t.Fatalf("expected write to be blocked with ErrAdmission, got %v", err)
	}

	if err := s.Parse("r", "SELECT * FROM widgets", nil); err != nil {
		t.Fatalf("parse read: %v", err)
	}
	if err := s.Bind("rp", "r", nil, nil); err != nil {
		t.Fatalf("bind read: %v", err)
	}
	recv := newRecordingReceiver()
	if err := s.Execute(context.Background(), "rp", 0, recv); err != nil {
		t.Fatalf("read should not be blocked: %v", err)
	}
	recv.wait(t)
	if recv.err != nil {
		t.Fatalf("unexpected read failure: %v", recv.err)
	}
}

// TestCancelCurrentJobStopsRunningRead exercises explicit user-requested
// cancellation: it must reach the specific goroutine currently running,
// regardless of how chainRead wraps it in a fresh future each call.
func TestCancelCurrentJobStopsRunningRead(t *testing.T) {
	analyzer := mapAnalyzer{"SELECT * FROM widgets": readStatement()}
	s := NewSession(1, false, Settings{}, analyzer, blockingExecutor{}, nil, 1)
	if err := s.Parse("stmt1", "SELECT * FROM widgets", nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Bind("portal1", "stmt1", nil, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}

	recv := newRecordingReceiver()
	if err := s.Execute(context.Background(), "portal1", 0, recv); err != nil {
		t.Fatalf("execute: %v", err)
	}
	s.CancelCurrentJob("test-user")
	recv.wait(t)
	if recv.err == nil || core.KindOf(recv.err) != core.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", recv.err)
	}
}

// TestPortalSuspendAndResume is §8's universal suspend/resume invariant:
// a portal that hits its row quota suspends without a terminal outcome,
// then resumes from where it left off on the next execute.
func TestPortalSuspendAndResume(t *testing.T) {
	analyzer := mapAnalyzer{"SELECT * FROM widgets": readStatement()}
	reader := newRowsExecutor(core.Row{core.Int(1)}, core.Row{core.Int(2)}, core.Row{core.Int(3)}, core.Row{core.Int(4)}, core.Row{core.Int(5)})
	s := NewSession(1, false, Settings{}, analyzer, reader, nil, 1)
	if err := s.Parse("stmt1", "SELECT * FROM widgets", nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Bind("portal1", "stmt1", nil, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}

	first := newRecordingReceiver()
	if err := s.Execute(context.Background(), "portal1", 2, first); err != nil {
		t.Fatalf("execute 1: %v", err)
	}
	if _, err := s.activeExecution.Wait(context.Background()); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if len(first.rows) != 2 || first.finished || first.err != nil {
		t.Fatalf("expected a suspended 2-row chunk, got rows=%d finished=%v err=%v", len(first.rows), first.finished, first.err)
	}
	p := s.portals["portal1"]
	if !p.Suspended() {
		t.Fatal("expected portal to be suspended after hitting maxRows")
	}

	second := newRecordingReceiver()
	if err := s.Execute(context.Background(), "portal1", 0, second); err != nil {
		t.Fatalf("execute 2: %v", err)
	}
	second.wait(t)
	if len(second.rows) != 3 || !second.finished || second.err != nil {
		t.Fatalf("expected remaining 3 rows and a finish, got rows=%d finished=%v err=%v", len(second.rows), second.finished, second.err)
	}
}

// TestReadOnlySessionRejectsWrite covers spec.md §4.E's read-only write
// rejection; it is synchronous, unlike a read's chained execution.
func TestReadOnlySessionRejectsWrite(t *testing.T) {
	analyzer := mapAnalyzer{"INSERT INTO widgets VALUES ($1)": {Kind: KindWrite}}
	s := NewSession(1, true, Settings{}, analyzer, nil, &recordingWriteExecutor{}, 1)
	if err := s.Parse("ins", "INSERT INTO widgets VALUES ($1)", nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Bind("p", "ins", []core.Value{core.Int(1)}, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	err := s.Execute(context.Background(), "p", 0, newRecordingReceiver())
	if err == nil || core.KindOf(err) != core.ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

// TestDeallocateDropsDeferredExecutions checks that DEALLOCATE fails any
// deferred execution still queued against the target statement and that
// a subsequent sync sees no deferred work.
func TestDeallocateDropsDeferredExecutions(t *testing.T) {
	analyzer := mapAnalyzer{
		"INSERT INTO widgets VALUES ($1)": {Kind: KindWrite},
		"DEALLOCATE ins":                  {Kind: KindDeallocate, DeallocateTarget: "ins"},
	}
	s := NewSession(1, false, Settings{}, analyzer, nil, &recordingWriteExecutor{}, 1)
	if err := s.Parse("ins", "INSERT INTO widgets VALUES ($1)", nil); err != nil {
		t.Fatalf("parse insert: %v", err)
	}
	if err := s.Bind("p", "ins", []core.Value{core.Int(1)}, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	queued := newRecordingReceiver()
	if err := s.Execute(context.Background(), "p", 0, queued); err != nil {
		t.Fatalf("execute (queue): %v", err)
	}

	if err := s.Parse("dealloc", "DEALLOCATE ins", nil); err != nil {
		t.Fatalf("parse deallocate: %v", err)
	}
	if err := s.Bind("dp", "dealloc", nil, nil); err != nil {
		t.Fatalf("bind deallocate: %v", err)
	}
	ack := newRecordingReceiver()
	if err := s.Execute(context.Background(), "dp", 0, ack); err != nil {
		t.Fatalf("execute deallocate: %v", err)
	}
	ack.wait(t)
	queued.wait(t)
	if queued.err == nil || core.KindOf(queued.err) != core.ErrCancelled {
		t.Fatalf("expected queued execution to be cancelled, got %v", queued.err)
	}
	if !s.deferred.empty() {
		t.Fatal("expected no deferred work after deallocate")
	}
	fut := s.Sync(context.Background(), false)
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("sync after deallocate: %v", err)
	}
}

// TestTransactionDispatchBranches covers BEGIN/COMMIT/ROLLBACK,
// DEALLOCATE ALL, DISCARD ALL and CLOSE cursor, including hold-based
// cursor survival across COMMIT.
func TestTransactionDispatchBranches(t *testing.T) {
	analyzer := mapAnalyzer{
		"BEGIN":               {Kind: KindBegin},
		"COMMIT":              {Kind: KindCommit},
		"ROLLBACK":            {Kind: KindRollback},
		"DEALLOCATE ALL":      {Kind: KindDeallocateAll},
		"DISCARD ALL":         {Kind: KindDiscardAll},
		"CLOSE c":             {Kind: KindCloseCursor, CloseCursorTarget: "c"},
		"DECLARE wh CURSOR":   {Kind: KindDeclare, DeclaredCursorName: "wh", DeclaredHold: HoldWith},
		"DECLARE nowh CURSOR": {Kind: KindDeclare, DeclaredCursorName: "nowh", DeclaredHold: HoldWithout},
	}
	s := NewSession(1, false, Settings{}, analyzer, newRowsExecutor(), nil, 1)

	exec := func(name string) {
		t.Helper()
		if err := s.Parse(name, name, nil); err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if err := s.Bind(name, name, nil, nil); err != nil {
			t.Fatalf("bind %q: %v", name, err)
		}
		recv := newRecordingReceiver()
		if err := s.Execute(context.Background(), name, 0, recv); err != nil {
			t.Fatalf("execute %q: %v", name, err)
		}
		recv.wait(t)
	}

	exec("BEGIN")
	if s.Transaction() != InTransaction {
		t.Fatalf("expected IN_TRANSACTION, got %s", s.Transaction())
	}

	exec("DECLARE wh CURSOR")
	exec("DECLARE nowh CURSOR")
	if len(s.cursors) != 2 {
		t.Fatalf("expected 2 cursors registered, got %d", len(s.cursors))
	}

	exec("COMMIT")
	if s.Transaction() != Idle {
		t.Fatalf("expected IDLE after commit, got %s", s.Transaction())
	}
	if _, ok := s.cursors["nowh"]; ok {
		t.Fatal("WITHOUT HOLD cursor should be closed on commit")
	}
	if _, ok := s.cursors["wh"]; !ok {
		t.Fatal("WITH HOLD cursor should survive commit")
	}

	exec("CLOSE c")
	if _, ok := s.cursors["c"]; ok {
		t.Fatal("CLOSE should have removed an unrelated/absent cursor without panicking")
	}

	exec("ROLLBACK")
	if len(s.cursors) != 0 {
		t.Fatalf("expected ROLLBACK to close every cursor, got %d remaining", len(s.cursors))
	}

	exec("DEALLOCATE ALL")
	if len(s.statements) != 0 { // DEALLOCATE ALL resets the statements map unconditionally, including itself
		t.Fatalf("expected DEALLOCATE ALL to drop every statement, got %d left", len(s.statements))
	}

	exec("DISCARD ALL")
	if len(s.portals) != 0 || len(s.statements) != 0 { // discardAll resets all three maps unconditionally, including its own
		t.Fatalf("expected DISCARD ALL to clear all session state, got portals=%d statements=%d", len(s.portals), len(s.statements))
	}
}

// TestSyncWithNoDeferredWorkCompletesImmediately exercises the idle
// case: resetting an empty queue and syncing an idle session must not
// block on anything.
func TestSyncWithNoDeferredWorkCompletesImmediately(t *testing.T) {
	s := NewSession(1, false, Settings{}, mapAnalyzer{}, nil, nil, 1)
	s.ResetDeferredExecutions()
	fut := s.Sync(context.Background(), false)
	select {
	case <-fut.Done():
	default:
		t.Fatal("expected an idle session's sync future to already be resolved")
	}
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
