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
	"encoding/binary"
	"math"

	"github.com/shardsql/core/core"
)

// Combine merges two partial aggregate values of the same aggregate
// column into one.
type Combine func(a, b core.Value) core.Value

// SumCombine, MaxCombine and MinCombine are the combiners for the
// aggregates that can be partially computed per shard and finalized by
// merging: sum/count reduce by addition, min/max by their own relation.
func SumCombine(a, b core.Value) core.Value { return core.Int(a.Int() + b.Int()) }

func MaxCombine(a, b core.Value) core.Value {
	if compareValues(a, b) >= 0 {
		return a
	}
	return b
}

func MinCombine(a, b core.Value) core.Value {
	if compareValues(a, b) <= 0 {
		return a
	}
	return b
}

// Group is the "partial→final" variant of spec.md §4.D's Group
// projection: it merges rows that already carry one partial aggregate
// state per column (produced upstream by a shard-local
// groupby.Table/groupby.Run pass) into one final row per distinct key.
type Group struct {
	KeyColumns []int
	AggColumns []int
	Combine    []Combine
}

type groupBucket struct {
	key  core.Row
	vals []core.Value
}

func (g Group) Apply(rows []core.Row) ([]core.Row, error) {
	order := make([]string, 0, len(rows))
	buckets := make(map[string]*groupBucket, len(rows))
	for _, r := range rows {
		key := make(core.Row, len(g.KeyColumns))
		for i, c := range g.KeyColumns {
			key[i] = r[c]
		}
		k := encodeKey(key)
		b, ok := buckets[k]
		if !ok {
			vals := make([]core.Value, len(g.AggColumns))
			for i, c := range g.AggColumns {
				vals[i] = r[c]
			}
			buckets[k] = &groupBucket{key: key, vals: vals}
			order = append(order, k)
			continue
		}
		for i, c := range g.AggColumns {
			b.vals[i] = g.Combine[i](b.vals[i], r[c])
		}
	}
	out := make([]core.Row, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		row := make(core.Row, 0, len(b.key)+len(b.vals))
		row = append(row, b.key...)
		row = append(row, b.vals...)
		out = append(out, row)
	}
	return out, nil
}

// encodeKey renders a key row to a comparable map key. Unlike
// groupby.hashRow this doesn't need collision resistance across
// adversarial input (it's an in-process exact map key, not a bucket
// hash), so a straightforward tagged encoding is enough.
func encodeKey(key core.Row) string {
	buf := make([]byte, 0, 16*len(key))
	for _, v := range key {
		buf = append(buf, byte(v.Kind()), 0)
		switch v.Kind() {
		case core.KindBool, core.KindInt, core.KindTimestamp:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(v.Int()))
			buf = append(buf, tmp[:]...)
		case core.KindFloat:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.Float()))
			buf = append(buf, tmp[:]...)
		case core.KindString:
			buf = append(buf, v.String()...)
		case core.KindBytes:
			buf = append(buf, v.Bytes()...)
		}
		buf = append(buf, 0)
	}
	return string(buf)
}
