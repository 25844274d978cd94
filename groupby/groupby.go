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

// Package groupby implements DocValuesGroupBy (spec.md §4.C): a
// single-shard, single-pass `SELECT key(s), agg(s)… GROUP BY key(s)`
// operator driven entirely off doc-value readers, with a cancellable,
// memory-accounted open-addressed hash table.
package groupby

import (
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"

	"github.com/shardsql/core/core"
)

// DocSet enumerates the doc ids matching a shard-local WHERE clause.
type DocSet interface {
	Next() (docID uint32, ok bool)
}

// KeyReader reads the group-by key (single or composite) for a docID via
// its doc-value column(s). len(row) == 1 is the single-key path; a
// longer row is the many-key (composite) path.
type KeyReader interface {
	Key(docID uint32) (key core.Row, ok bool)
}

// Aggregator drives one aggregate column's per-slot state, advanced by
// a doc-value iterator over a single column.
type Aggregator interface {
	// StateSize is the number of bytes this aggregator needs per slot.
	StateSize() int
	// Init zeroes/primes a freshly allocated state slice.
	Init(state []byte)
	// Advance folds docID's value into state.
	Advance(state []byte, docID uint32)
	// Finish reduces state to its final output value.
	Finish(state []byte) core.Value
}

// Accountant tracks memory usage against an external budget. Reserve
// returns false once the budget is exhausted.
type Accountant interface {
	Reserve(n int64) bool
}

// Canceller is polled between docs; ok is true once cancellation has
// tripped, with reason explaining why (killed / timed_out / closed).
type Canceller interface {
	Cancelled() (reason string, ok bool)
}

type slot struct {
	used  bool
	key   core.Row
	state []byte
}

// Table is the open-addressed hash table underlying DocValuesGroupBy.
// It is keyed by a siphash of the key row's encoded bytes, with linear
// probing on collision, mirroring the bucket-table idiom of
// vm/hash_aggregate.go's aggtable without its bytecode/SIMD layer.
type Table struct {
	buckets []slot
	count   int
	aggs    []Aggregator
	stride  int
	acct    Accountant
}

// NewTable returns an empty group-by table sized for an initial
// capacity hint, with one state slot per Aggregator.
func NewTable(aggs []Aggregator, capacityHint int, acct Accountant) *Table {
	stride := 0
	for _, a := range aggs {
		stride += a.StateSize()
	}
	n := nextPow2(capacityHint)
	if n < 16 {
		n = 16
	}
	return &Table{
		buckets: make([]slot, n),
		aggs:    aggs,
		stride:  stride,
		acct:    acct,
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Row is one emitted output row: the group key followed by each
// aggregate's finished value, in order.
type Row struct {
	Key  core.Row
	Aggs []core.Value
}

// Run drives the operator to completion over ds, per spec.md §4.C:
// look up or insert a slot per key, advance every aggregator's state,
// polling cancel between docs. Returns rows in hash-iteration order.
func Run(ds DocSet, keys KeyReader, aggs []Aggregator, acct Accountant, cancel Canceller) ([]Row, error) {
	t := NewTable(aggs, 1024, acct)
	for {
		if cancel != nil {
			if reason, ok := cancel.Cancelled(); ok {
				return nil, core.NewError(core.ErrCancelled, reason, nil)
			}
		}
		docID, ok := ds.Next()
		if !ok {
			break
		}
		key, ok := keys.Key(docID)
		if !ok {
			continue
		}
		state, err := t.getOrInsert(key)
		if err != nil {
			return nil, err
		}
		off := 0
		for i, a := range aggs {
			a.Advance(state[off:off+a.StateSize()], docID)
			off += aggs[i].StateSize()
		}
	}
	return t.emit(), nil
}

func (t *Table) getOrInsert(key core.Row) ([]byte, error) {
	if t.count*2 >= len(t.buckets) {
		t.grow()
	}
	h := hashRow(key)
	mask := uint64(len(t.buckets) - 1)
	i := h & mask
	for {
		s := &t.buckets[i]
		if !s.used {
			size := int64(t.stride)
			if t.acct != nil && !t.acct.Reserve(size) {
				return nil, core.NewError(core.ErrResourceExhausted, "group-by hash table exhausted its memory budget", nil)
			}
			s.used = true
			s.key = key.Clone()
			s.state = make([]byte, t.stride)
			off := 0
			for _, a := range t.aggs {
				a.Init(s.state[off : off+a.StateSize()])
				off += a.StateSize()
			}
			t.count++
			return s.state, nil
		}
		if rowEqual(s.key, key) {
			return s.state, nil
		}
		i = (i + 1) & mask
	}
}

func (t *Table) grow() {
	old := t.buckets
	t.buckets = make([]slot, len(old)*2)
	mask := uint64(len(t.buckets) - 1)
	for _, s := range old {
		if !s.used {
			continue
		}
		h := hashRow(s.key)
		i := h & mask
		for t.buckets[i].used {
			i = (i + 1) & mask
		}
		t.buckets[i] = s
	}
}

// emit walks the buckets in storage order, spec.md §4.C's
// "hash-iteration order".
func (t *Table) emit() []Row {
	out := make([]Row, 0, t.count)
	for _, s := range t.buckets {
		if !s.used {
			continue
		}
		vals := make([]core.Value, len(t.aggs))
		off := 0
		for i, a := range t.aggs {
			vals[i] = a.Finish(s.state[off : off+a.StateSize()])
			off += a.StateSize()
		}
		out = append(out, Row{Key: s.key, Aggs: vals})
	}
	return out
}

func rowEqual(a, b core.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// hashRow hashes a key row's byte encoding with SipHash-2-4, grounded on
// vm/interphash.go's bchashvaluego (github.com/dchest/siphash).
func hashRow(key core.Row) uint64 {
	var buf []byte
	for _, v := range key {
		buf = appendKeyBytes(buf, v)
	}
	lo, _ := siphash.Hash128(0, 0, buf)
	return lo
}

func appendKeyBytes(buf []byte, v core.Value) []byte {
	buf = append(buf, byte(v.Kind()))
	switch v.Kind() {
	case core.KindNull:
	case core.KindBool:
		if v.Bool() {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case core.KindInt:
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
	case core.KindTimestamp:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.Int()))
		buf = append(buf, tmp[:]...)
	default:
		panic("groupby: unknown value kind in group-by key")
	}
	return buf
}
