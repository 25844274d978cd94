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

func TestGroupMergesPartialSums(t *testing.T) {
	// Three shards each contributed a partial (key, count) row for key "a",
	// and one for key "b"; the merge phase must fold them into two rows.
	rows := []core.Row{
		{core.String("a"), core.Int(3)},
		{core.String("b"), core.Int(1)},
		{core.String("a"), core.Int(4)},
		{core.String("a"), core.Int(2)},
	}
	g := Group{KeyColumns: []int{0}, AggColumns: []int{1}, Combine: []Combine{SumCombine}}
	out, err := g.Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 merged groups, got %d", len(out))
	}
	got := map[string]int64{}
	for _, r := range out {
		got[r[0].String()] = r[1].Int()
	}
	if got["a"] != 9 || got["b"] != 1 {
		t.Fatalf("unexpected merged sums: %+v", got)
	}
}

func TestGroupMaxCombine(t *testing.T) {
	rows := []core.Row{
		{core.String("a"), core.Int(3)},
		{core.String("a"), core.Int(9)},
		{core.String("a"), core.Int(5)},
	}
	g := Group{KeyColumns: []int{0}, AggColumns: []int{1}, Combine: []Combine{MaxCombine}}
	out, err := g.Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0][1].Int() != 9 {
		t.Fatalf("expected max=9, got %+v", out)
	}
}

func TestGroupPreservesFirstSeenKeyOrder(t *testing.T) {
	rows := []core.Row{
		{core.String("b"), core.Int(1)},
		{core.String("a"), core.Int(1)},
		{core.String("b"), core.Int(1)},
	}
	g := Group{KeyColumns: []int{0}, AggColumns: []int{1}, Combine: []Combine{SumCombine}}
	out, err := g.Apply(rows)
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0].String() != "b" || out[1][0].String() != "a" {
		t.Fatalf("expected first-seen key order b,a; got %v,%v", out[0][0].String(), out[1][0].String())
	}
}
