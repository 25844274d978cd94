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

// Package storedrow implements StoredRowLookup (spec.md §4.B):
// reconstructing a logical row from stored source bytes plus per-column
// doc values, with at most one decode per (reader, docId).
//
// Two Reader variants are supported: Full, which decodes a single
// compressed source document per row (older shard layout), and
// Partial, which loads only the registered columns from per-column
// stored fields and doc-value readers (newer shard layout). Both are
// driven through the same Reader interface so Lookup doesn't need to
// know which variant it's talking to.
package storedrow

import (
	"fmt"

	"github.com/shardsql/core/compr"
	"github.com/shardsql/core/core"
	"github.com/shardsql/core/ion"
)

// Variant distinguishes the two stored-row reconstruction strategies.
type Variant uint8

const (
	Full Variant = iota
	Partial
)

// Reader is the storage-layer contract a Lookup reconstructs rows
// from. Implementations are expected to be single-shard, single-reader
// objects: spec.md's invariant that "a StoredRow does not mutate the
// underlying reader; its (reader, doc) becomes invalid once the reader
// is closed by its owner" is the caller's responsibility to uphold.
type Reader interface {
	// Variant reports whether this reader is Full or Partial.
	Variant() Variant

	// RawSource returns the Full-variant's compressed source document
	// for docID, the codec used to compress it ("" meaning stored
	// uncompressed), and the decompressed length.
	RawSource(docID uint32) (data []byte, codec string, decompressedLen int, err error)

	// Column returns the decoded value at path for docID, reading
	// either a stored field or a doc-value column as appropriate.
	// ok=false means the column has no value for this doc.
	Column(path []string, docID uint32) (val ion.Datum, ok bool, err error)

	// PartitionValue returns the path at which a partition-key value
	// must be injected and its value; ok=false if the table isn't
	// partitioned.
	PartitionValue(docID uint32) (path []string, val ion.Datum, ok bool)
}

// Doc is the tree-shaped result of StoredRow.AsMap: values are either
// ion.Datum (leaf) or Doc (nested object).
type Doc map[string]any

// StoredRow materializes a single (reader, docId) into a logical row on
// demand, memoizing both the mapped and raw forms so repeated calls are
// free (spec.md §4.B: "Both methods are idempotent per (reader, doc)").
type StoredRow struct {
	reader Reader
	docID  uint32
	cols   *Columns

	haveMap bool
	doc     Doc
	mapErr  error

	haveRaw bool
	raw     []byte
	rawErr  error
}

// AsMap returns the nested map keyed by original column names, with any
// partition value injected at the table's partitioned-by path.
func (s *StoredRow) AsMap() (Doc, error) {
	if s.haveMap {
		return s.doc, s.mapErr
	}
	s.haveMap = true
	switch s.reader.Variant() {
	case Full:
		s.doc, s.mapErr = s.fullAsMap()
	case Partial:
		s.doc, s.mapErr = s.partialAsMap()
	default:
		panic(fmt.Sprintf("storedrow: unknown variant %d", s.reader.Variant()))
	}
	if s.mapErr == nil {
		s.injectPartition()
	}
	return s.doc, s.mapErr
}

// AsRaw returns a JSON encoding of the stored document merged with any
// doc-value-only columns.
func (s *StoredRow) AsRaw() ([]byte, error) {
	if s.haveRaw {
		return s.raw, s.rawErr
	}
	s.haveRaw = true
	doc, err := s.AsMap()
	if err != nil {
		s.rawErr = err
		return nil, err
	}
	s.raw, s.rawErr = marshalDoc(doc)
	return s.raw, s.rawErr
}

func (s *StoredRow) fullAsMap() (Doc, error) {
	compressed, codec, dlen, err := s.reader.RawSource(s.docID)
	if err != nil {
		return nil, core.NewError(core.ErrIO, "read stored source", err)
	}
	raw := compressed
	if codec != "" {
		dec := compr.Decompression(codec)
		if dec == nil {
			panic("storedrow: unknown compression codec " + codec)
		}
		buf := make([]byte, dlen)
		if err := dec.Decompress(compressed, buf); err != nil {
			return nil, core.NewError(core.ErrIO, "decompress stored source", err)
		}
		raw = buf
	}
	st := &ion.Symtab{}
	d, _, err := ion.ReadDatum(st, raw)
	if err != nil {
		return nil, core.NewError(core.ErrIO, "decode stored source", err)
	}
	return datumToDoc(d)
}

func (s *StoredRow) partialAsMap() (Doc, error) {
	doc := make(Doc)
	if s.cols == nil {
		return doc, nil
	}
	err := walkColumns(&s.cols.root, nil, func(path []string) error {
		val, ok, err := s.reader.Column(path, s.docID)
		if err != nil {
			return core.NewError(core.ErrIO, fmt.Sprintf("read column %v", path), err)
		}
		if ok {
			setPath(doc, path, val)
		}
		return nil
	})
	return doc, err
}

func (s *StoredRow) injectPartition() {
	path, val, ok := s.reader.PartitionValue(s.docID)
	if !ok {
		return
	}
	if s.doc == nil {
		s.doc = make(Doc)
	}
	setPath(s.doc, path, val)
}

// walkColumns visits every stored leaf path registered in the tree
// rooted at n (prefixed by prefix), depth-first.
func walkColumns(n *columnNode, prefix []string, visit func(path []string) error) error {
	if n.stored {
		p := append([]string(nil), prefix...)
		if err := visit(p); err != nil {
			return err
		}
	}
	for name, c := range n.children {
		if err := walkColumns(c, append(prefix, name), visit); err != nil {
			return err
		}
	}
	return nil
}

func setPath(doc Doc, path []string, val ion.Datum) {
	if len(path) == 0 {
		panic("storedrow: empty column path")
	}
	cur := doc
	for _, p := range path[:len(path)-1] {
		next, ok := cur[p].(Doc)
		if !ok {
			next = make(Doc)
			cur[p] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = val
}

func datumToDoc(d ion.Datum) (Doc, error) {
	st, ok := d.Struct()
	if !ok {
		panic("storedrow: Full-variant source document is not a struct")
	}
	return structToDoc(st)
}

func structToDoc(s ion.Struct) (Doc, error) {
	doc := make(Doc)
	err := s.Each(func(f ion.Field) bool {
		if sub, ok := f.Value.Struct(); ok {
			nested, _ := structToDoc(sub)
			doc[f.Label] = nested
			return true
		}
		doc[f.Label] = f.Value
		return true
	})
	return doc, err
}

// Lookup is the stateful getStoredRow(readerContext, docId) entry point
// of spec.md §4.B. It caches the last (reader, doc) pair so that
// repeated calls for the same row return the cached StoredRow without
// redoing any decode work; a new reader or a new doc re-initializes.
type Lookup struct {
	cols *Columns

	hasLast    bool
	lastReader Reader
	lastDoc    uint32
	lastRow    *StoredRow
}

// NewLookup returns a Lookup that reconstructs only the columns
// registered in cols (ignored entirely for the Full variant, which
// always decodes the whole source document).
func NewLookup(cols *Columns) *Lookup { return &Lookup{cols: cols} }

// GetStoredRow returns the StoredRow for (reader, docID), reusing the
// cached one if this is the same (reader, doc) as the previous call.
func (l *Lookup) GetStoredRow(reader Reader, docID uint32) *StoredRow {
	if l.hasLast && l.lastReader == reader && l.lastDoc == docID {
		return l.lastRow
	}
	row := &StoredRow{reader: reader, docID: docID, cols: l.cols}
	l.hasLast = true
	l.lastReader = reader
	l.lastDoc = docID
	l.lastRow = row
	return row
}

// marshalDoc renders doc as JSON, the raw form of spec.md §4.B's
// AsRaw(), mirroring ion/json.go's decode direction in reverse.
func marshalDoc(doc Doc) ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	first := true
	for k, v := range doc {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = appendJSONString(buf, k)
		buf = append(buf, ':')
		var err error
		buf, err = marshalValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func marshalValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case Doc:
		return marshalDoc(x)
	case ion.Datum:
		return marshalDatum(buf, x)
	default:
		panic(fmt.Sprintf("storedrow: unexpected doc value type %T", v))
	}
}

func marshalDatum(buf []byte, d ion.Datum) ([]byte, error) {
	if d.Null() {
		return append(buf, "null"...), nil
	}
	if s, ok := d.String(); ok {
		return appendJSONString(buf, s), nil
	}
	if b, ok := d.Bool(); ok {
		if b {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	}
	if i, ok := d.Int(); ok {
		return fmt.Appendf(buf, "%d", i), nil
	}
	if f, ok := d.Float(); ok {
		return fmt.Appendf(buf, "%g", f), nil
	}
	if st, ok := d.Struct(); ok {
		sub, err := structToDoc(st)
		if err != nil {
			return nil, err
		}
		return marshalDoc(sub)
	}
	if lst, ok := d.List(); ok {
		buf = append(buf, '[')
		items := lst.Items(nil)
		for i, it := range items {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = marshalDatum(buf, it)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	}
	return nil, core.NewError(core.ErrConversion, "cannot render ion datum as JSON", nil)
}

func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		default:
			buf = append(buf, string(r)...)
		}
	}
	return append(buf, '"')
}
