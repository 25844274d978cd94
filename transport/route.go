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
	"math"

	"github.com/dchest/siphash"

	"github.com/shardsql/core/core"
)

// PickNode selects which of nodeIDs a HashByKey-distributed row
// belongs on, hashing the row the same way groupby.hashRow hashes a
// group-by key (SipHash-2-4 over a tagged byte encoding), so a row
// with a given key routes to the same node on every phase that
// partitions by that key.
func PickNode(key core.Row, nodeIDs []string) string {
	if len(nodeIDs) == 0 {
		return ""
	}
	var buf []byte
	for _, v := range key {
		buf = appendRouteKey(buf, v)
	}
	lo, _ := siphash.Hash128(0, 0, buf)
	return nodeIDs[lo%uint64(len(nodeIDs))]
}

func appendRouteKey(buf []byte, v core.Value) []byte {
	buf = append(buf, byte(v.Kind()))
	switch v.Kind() {
	case core.KindBool, core.KindInt, core.KindTimestamp:
		buf = appendUint64(buf, uint64(v.Int()))
	case core.KindFloat:
		buf = appendUint64(buf, math.Float64bits(v.Float()))
	case core.KindString:
		buf = append(buf, v.String()...)
	case core.KindBytes:
		buf = append(buf, v.Bytes()...)
	}
	return buf
}
