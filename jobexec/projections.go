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
	"github.com/shardsql/core/core"
	"github.com/shardsql/core/heap"
	"github.com/shardsql/core/sorting"
)

// Filter keeps rows matching Predicate; used both as a WHERE and a
// HAVING clause depending on which phase it sits in.
type Filter struct {
	Predicate func(core.Row) bool
}

func (f Filter) Apply(rows []core.Row) ([]core.Row, error) {
	out := rows[:0:0]
	for _, r := range rows {
		if f.Predicate(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// LimitAndOffset implements an unordered LIMIT/OFFSET, via
// sorting.Limit.FinalRange.
type LimitAndOffset struct {
	Limit, Offset int
}

func (l LimitAndOffset) Apply(rows []core.Row) ([]core.Row, error) {
	lim := sorting.Limit{Limit: l.Limit, Offset: l.Offset}
	rng := lim.FinalRange(len(rows))
	if rng.End() < rng.Start() || rng.Start() >= len(rows) {
		return nil, nil
	}
	return rows[rng.Start() : rng.End()+1], nil
}

// SortKey names one ORDER BY column, by its index into the row tuple.
type SortKey struct {
	Column int
	Desc   bool
}

// OrderedLimitAndOffset sorts rows by SortKeys and applies LIMIT/OFFSET
// using a bounded max-heap (its root is the last-ordered row kept) so
// peak memory is O(limit+offset), not
// O(len(rows)), grounded on the teacher's dropped sorting/ktop.go
// top-k-via-heap design (heap.PushSlice/PopSlice, github.com/shardsql/core/heap).
type OrderedLimitAndOffset struct {
	SortKeys []SortKey
	Limit    int
	Offset   int
}

func (o OrderedLimitAndOffset) less(a, b core.Row) bool {
	for _, k := range o.SortKeys {
		c := compareValues(a[k.Column], b[k.Column])
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (o OrderedLimitAndOffset) Apply(rows []core.Row) ([]core.Row, error) {
	if o.Limit <= 0 {
		return topoSortAll(rows, o.less), nil
	}
	k := o.Limit + o.Offset
	greater := func(a, b core.Row) bool { return o.less(b, a) }

	var h []core.Row
	for _, r := range rows {
		if len(h) < k {
			heap.PushSlice(&h, r, greater)
			continue
		}
		if greater(h[0], r) {
			heap.PopSlice(&h, greater)
			heap.PushSlice(&h, r, greater)
		}
	}
	sorted := topoSortAll(h, o.less)
	lim := sorting.Limit{Limit: o.Limit, Offset: o.Offset}
	rng := lim.FinalRange(len(sorted))
	if rng.End() < rng.Start() || rng.Start() >= len(sorted) {
		return nil, nil
	}
	return sorted[rng.Start() : rng.End()+1], nil
}

// topoSortAll sorts a row slice in place with a plain insertion sort.
// On the limited path the slice is already heap-bounded to
// limit+offset, so O(n^2) is cheap and avoids pulling in a second sort
// dependency for a handful of elements; with Limit <= 0 it sorts the
// whole input.
func topoSortAll(rows []core.Row, less func(a, b core.Row) bool) []core.Row {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && less(rows[j], rows[j-1]); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	return rows
}

func compareValues(a, b core.Value) int {
	if a.Kind() != b.Kind() {
		if a.Kind() < b.Kind() {
			return -1
		}
		return 1
	}
	switch a.Kind() {
	case core.KindInt, core.KindTimestamp:
		switch {
		case a.Int() < b.Int():
			return -1
		case a.Int() > b.Int():
			return 1
		}
		return 0
	case core.KindFloat:
		switch {
		case a.Float() < b.Float():
			return -1
		case a.Float() > b.Float():
			return 1
		}
		return 0
	case core.KindString:
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	default:
		if a.Equal(b) {
			return 0
		}
		return 1
	}
}

// Eval applies a pure row-to-row expression transform, e.g. projecting
// a subset/renamed set of columns.
type Eval struct {
	Fn func(core.Row) (core.Row, error)
}

func (e Eval) Apply(rows []core.Row) ([]core.Row, error) {
	out := make([]core.Row, len(rows))
	for i, r := range rows {
		v, err := e.Fn(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
