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

// Package session implements the extended-query state machine:
// parse/bind/describe/execute/flush/sync/close over prepared statements,
// portals, cursors and deferred bulk executions, per spec.md §4.E.
//
// SQL tokenizing, analysis and planning are external collaborators
// (spec.md §1 Non-goals); a Session is constructed with an Analyzer, a
// ReadExecutor and a WriteExecutor that provide those. The state machine itself only ever
// dispatches on the AnalyzedStatement's Kind.
package session

import (
	"github.com/google/uuid"

	"github.com/shardsql/core/clusterblock"
	"github.com/shardsql/core/core"
)

// TransactionState is one of IDLE, IN_TRANSACTION, FAILED.
type TransactionState uint8

const (
	Idle TransactionState = iota
	InTransaction
	Failed
)

func (s TransactionState) String() string {
	switch s {
	case InTransaction:
		return "IN_TRANSACTION"
	case Failed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

// StatementKind is the analyzed-statement dispatch tag execute() and
// bind() switch on, per spec.md §4.E and §9's "tagged variant +
// exhaustive match" redesign note.
type StatementKind uint8

const (
	KindEmpty StatementKind = iota
	KindRead
	KindWrite
	KindBegin
	KindCommit
	KindRollback
	KindDeallocate
	KindDeallocateAll
	KindDiscardAll
	KindCloseCursor
	KindDeclare
)

// Hold is a cursor's transaction-scoping attribute (spec.md §3).
type Hold uint8

const (
	HoldWithout Hold = iota
	HoldWith
)

// OutputColumn describes one column of a statement's result shape.
type OutputColumn struct {
	Name string
	Type core.Kind
}

// AnalyzedStatement is the pluggable analyzer's output: everything the
// session state machine needs to know about a parsed statement without
// understanding SQL itself.
type AnalyzedStatement struct {
	Kind StatementKind

	// ParamTypes has one entry per $i placeholder, 0-based internally
	// (spec.md §3: "indices are 1-based at the wire level but 0-based
	// internally").
	ParamTypes []core.Kind

	Outputs     []OutputColumn
	OriginTable string // populated only for a SELECT on a single table

	// DeallocateTarget names the statement DEALLOCATE drops; empty with
	// Kind == KindDeallocateAll.
	DeallocateTarget string

	// DeclaredCursorName and DeclaredHold are populated when Kind ==
	// KindDeclare.
	DeclaredCursorName string
	DeclaredHold       Hold

	// CloseCursorTarget names the cursor CLOSE drops.
	CloseCursorTarget string

	// AdmissionLevel is the clusterblock.Level a KindRead/KindWrite
	// statement requires (spec.md §4.A/§4.E); the analyzer sets it
	// (e.g. a schema-changing write sets MetadataWrite instead of the
	// plain Write a row-level INSERT would carry).
	AdmissionLevel clusterblock.Level
	// IndexID is the single index/table this statement targets, if the
	// analyzer could determine one; nil means only the global block set
	// is consulted.
	IndexID *uuid.UUID
}

// EmptyStatement is substituted for empty parse() text, per spec.md
// §4.E ("on empty text substitutes an empty-result sentinel
// statement") and §6 ("the empty-query text must be accepted and
// produce a result with zero columns").
var EmptyStatement = &AnalyzedStatement{Kind: KindEmpty}

// Analyzer tokenizes and analyzes raw statement text. It is the
// session's one required external collaborator for SQL understanding
// (spec.md §1: "SQL grammar, optimizer ... are external collaborators;
// the core depends on narrow interfaces into them").
type Analyzer interface {
	Analyze(text string) (*AnalyzedStatement, error)
}

// Settings holds the session-level, immutable-during-quickExec config
// spec.md §3 lists alongside the Session's mutable state.
type Settings struct {
	SearchPath       []string
	StatementTimeout int64 // nanoseconds; <= 0 means no timeout
	Identity         string
}
