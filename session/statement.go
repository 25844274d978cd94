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

// PreparedStmt is immutable after creation (spec.md §3): the analyzed
// statement, raw text, its parameter-type vector, and a timeout token
// capturing elapsed parse/analyze time. A PreparedStmt is shared
// read-only between the statements map and every Portal derived from
// it (spec.md §5), so closing it must close every derived Portal.
type PreparedStmt struct {
	Name     string
	Text     string
	Analyzed *AnalyzedStatement
	Timeout  *core.TimeoutToken
}

func newPreparedStmt(name, text string, an *AnalyzedStatement, timeout *core.TimeoutToken) *PreparedStmt {
	return &PreparedStmt{Name: name, Text: text, Analyzed: an, Timeout: timeout}
}

// ParamTypes returns the statement's positional parameter types.
func (p *PreparedStmt) ParamTypes() []core.Kind { return p.Analyzed.ParamTypes }

// IsReadOnly reports whether executing this statement only reads data,
// for spec.md §4.E's read-only-session write rejection and §7's
// ErrReadOnly.
func (p *PreparedStmt) IsReadOnly() bool {
	switch p.Analyzed.Kind {
	case KindRead, KindEmpty, KindBegin, KindCommit, KindRollback,
		KindDeallocate, KindDeallocateAll, KindDiscardAll, KindCloseCursor, KindDeclare:
		return true
	default:
		return false
	}
}
