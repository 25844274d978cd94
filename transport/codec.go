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

package transport

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/shardsql/core/compr"
	"github.com/shardsql/core/core"
)

// encodeRows renders rows to a self-delimiting tagged byte encoding,
// the wire analog of jobexec/group.go's encodeKey (which only needs to
// be a comparable in-process map key, not unambiguous on the wire, so
// it can't be reused directly: string/bytes payloads here carry an
// explicit length instead of a NUL separator).
func encodeRows(rows []core.Row) []byte {
	buf := make([]byte, 8, 64*len(rows)+8)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(rows)))
	for _, row := range rows {
		buf = appendUint32(buf, uint32(len(row)))
		for _, v := range row {
			buf = appendValue(buf, v)
		}
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	return buf
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, n uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendValue(buf []byte, v core.Value) []byte {
	buf = append(buf, byte(v.Kind()))
	switch v.Kind() {
	case core.KindNull:
	case core.KindBool:
		b := byte(0)
		if v.Bool() {
			b = 1
		}
		buf = append(buf, b)
	case core.KindInt, core.KindTimestamp:
		buf = appendUint64(buf, uint64(v.Int()))
	case core.KindFloat:
		buf = appendUint64(buf, math.Float64bits(v.Float()))
	case core.KindString:
		s := v.String()
		buf = appendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	case core.KindBytes:
		b := v.Bytes()
		buf = appendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}
	return buf
}

// decodeRows is the inverse of encodeRows.
func decodeRows(buf []byte) ([]core.Row, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("transport: truncated row frame")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	body := buf[8:]
	rows := make([]core.Row, 0, n)
	for i := uint32(0); i < n; i++ {
		row, rest, err := decodeRow(body)
		if err != nil {
			return nil, fmt.Errorf("transport: decoding row %d: %w", i, err)
		}
		rows = append(rows, row)
		body = rest
	}
	return rows, nil
}

func decodeRow(buf []byte) (core.Row, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("truncated row header")
	}
	width := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	row := make(core.Row, 0, width)
	for i := uint32(0); i < width; i++ {
		v, rest, err := decodeValue(buf)
		if err != nil {
			return nil, nil, err
		}
		row = append(row, v)
		buf = rest
	}
	return row, buf, nil
}

func decodeValue(buf []byte) (core.Value, []byte, error) {
	if len(buf) < 1 {
		return core.Value{}, nil, fmt.Errorf("truncated value tag")
	}
	kind := core.Kind(buf[0])
	buf = buf[1:]
	switch kind {
	case core.KindNull:
		return core.Null(), buf, nil
	case core.KindBool:
		if len(buf) < 1 {
			return core.Value{}, nil, fmt.Errorf("truncated bool")
		}
		return core.Bool(buf[0] != 0), buf[1:], nil
	case core.KindInt:
		if len(buf) < 8 {
			return core.Value{}, nil, fmt.Errorf("truncated int")
		}
		return core.Int(int64(binary.LittleEndian.Uint64(buf[:8]))), buf[8:], nil
	case core.KindTimestamp:
		if len(buf) < 8 {
			return core.Value{}, nil, fmt.Errorf("truncated timestamp")
		}
		return core.TimestampNanos(int64(binary.LittleEndian.Uint64(buf[:8]))), buf[8:], nil
	case core.KindFloat:
		if len(buf) < 8 {
			return core.Value{}, nil, fmt.Errorf("truncated float")
		}
		return core.Float(math.Float64frombits(binary.LittleEndian.Uint64(buf[:8]))), buf[8:], nil
	case core.KindString:
		if len(buf) < 4 {
			return core.Value{}, nil, fmt.Errorf("truncated string length")
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return core.Value{}, nil, fmt.Errorf("truncated string payload")
		}
		return core.String(string(buf[:n])), buf[n:], nil
	case core.KindBytes:
		if len(buf) < 4 {
			return core.Value{}, nil, fmt.Errorf("truncated bytes length")
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return core.Value{}, nil, fmt.Errorf("truncated bytes payload")
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return core.Bytes(out), buf[n:], nil
	default:
		return core.Value{}, nil, fmt.Errorf("unknown value kind %d", kind)
	}
}

// chunkCompressor is the codec used for framed row payloads; s2 trades
// ratio for decode speed, appropriate for request/response chunks that
// are decompressed once and discarded (spec.md §6's GetStoreMetadataAction
// chunk-transfer path favors the same tradeoff in the teacher).
var chunkCompressor = compr.Compression("s2")
var chunkDecompressor = compr.Decompression("s2")

// compressChunk prefixes the s2-compressed payload with its original
// length, since compr.Decompressor.Decompress requires a correctly
// sized destination buffer.
func compressChunk(rows []core.Row) []byte {
	raw := encodeRows(rows)
	out := appendUint32(nil, uint32(len(raw)))
	return chunkCompressor.Compress(raw, out)
}

func decompressChunk(buf []byte) ([]core.Row, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("transport: truncated chunk")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	dst := make([]byte, n)
	if err := chunkDecompressor.Decompress(buf[4:], dst); err != nil {
		return nil, fmt.Errorf("transport: decompressing chunk: %w", err)
	}
	return decodeRows(dst)
}
