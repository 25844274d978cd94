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

package sorting

import "testing"

func TestLimitFinalRange(t *testing.T) {
	cases := []struct {
		limit, offset int
		rowsCount     int
		start, end    int
	}{
		{limit: 10, offset: 0, rowsCount: 100, start: 0, end: 9},
		{limit: 10, offset: 5, rowsCount: 100, start: 5, end: 14},
		{limit: 10, offset: 95, rowsCount: 100, start: 95, end: 99},
		{limit: 10, offset: 100, rowsCount: 100, start: 100, end: 100},
		{limit: 10, offset: 200, rowsCount: 100, start: 100, end: 100},
		{limit: 1000, offset: 0, rowsCount: 3, start: 0, end: 2},
	}

	for i, c := range cases {
		l := Limit{Limit: c.limit, Offset: c.offset}
		r := l.FinalRange(c.rowsCount)
		if r.Start() != c.start || r.End() != c.end {
			t.Errorf("case %d: got [%d, %d], want [%d, %d]", i, r.Start(), r.End(), c.start, c.end)
		}
	}
}

func TestIndicesRangeContains(t *testing.T) {
	r := indicesRange{start: 5, end: 10}
	for _, x := range []int{5, 7, 10} {
		if !r.contains(x) {
			t.Errorf("expected range to contain %d", x)
		}
	}
	for _, x := range []int{4, 11, -1} {
		if r.contains(x) {
			t.Errorf("expected range to not contain %d", x)
		}
	}
}
