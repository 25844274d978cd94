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
	"testing"

	"github.com/shardsql/core/core"
)

func rowsOf(ints ...int64) []core.Row {
	out := make([]core.Row, len(ints))
	for i, v := range ints {
		out[i] = core.Row{core.Int(v)}
	}
	return out
}

func TestLimitAndOffset(t *testing.T) {
	rows := rowsOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	out, err := (LimitAndOffset{Limit: 3, Offset: 2}).Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 3, 4}
	if len(out) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(out))
	}
	for i, v := range want {
		if out[i][0].Int() != v {
			t.Fatalf("row %d: expected %d, got %d", i, v, out[i][0].Int())
		}
	}
}

func TestLimitAndOffsetBeyondRows(t *testing.T) {
	out, err := (LimitAndOffset{Limit: 5, Offset: 100}).Apply(rowsOf(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no rows, got %d", len(out))
	}
}

func TestLimitAndOffsetEmptyInput(t *testing.T) {
	out, err := (LimitAndOffset{Limit: 5, Offset: 0}).Apply(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no rows, got %d", len(out))
	}
}

func TestOrderedLimitAndOffsetDescending(t *testing.T) {
	rows := rowsOf(5, 3, 9, 1, 7, 2, 8, 0, 6, 4)
	olo := OrderedLimitAndOffset{
		SortKeys: []SortKey{{Column: 0, Desc: true}},
		Limit:    3,
		Offset:   0,
	}
	out, err := olo.Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{9, 8, 7}
	if len(out) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(out))
	}
	for i, v := range want {
		if out[i][0].Int() != v {
			t.Fatalf("row %d: expected %d, got %d", i, v, out[i][0].Int())
		}
	}
}

func TestOrderedLimitAndOffsetWithOffset(t *testing.T) {
	rows := rowsOf(5, 3, 9, 1, 7, 2, 8, 0, 6, 4)
	olo := OrderedLimitAndOffset{
		SortKeys: []SortKey{{Column: 0}},
		Limit:    3,
		Offset:   2,
	}
	out, err := olo.Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 3, 4}
	if len(out) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(out))
	}
	for i, v := range want {
		if out[i][0].Int() != v {
			t.Fatalf("row %d: expected %d, got %d", i, v, out[i][0].Int())
		}
	}
}

func TestFilterKeepsOnlyMatching(t *testing.T) {
	rows := rowsOf(1, 2, 3, 4)
	out, err := (Filter{Predicate: func(r core.Row) bool { return r[0].Int()%2 == 0 }}).Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0][0].Int() != 2 || out[1][0].Int() != 4 {
		t.Fatalf("unexpected filter result: %+v", out)
	}
}

func TestEvalTransformsEachRow(t *testing.T) {
	rows := rowsOf(1, 2, 3)
	out, err := Eval{Fn: func(r core.Row) (core.Row, error) {
		return core.Row{core.Int(r[0].Int() * 10)}, nil
	}}.Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range []int64{10, 20, 30} {
		if out[i][0].Int() != v {
			t.Fatalf("row %d: expected %d got %d", i, v, out[i][0].Int())
		}
	}
}
