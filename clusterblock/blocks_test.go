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

package clusterblock

import (
	"testing"

	"github.com/google/uuid"
)

// TestGlobalMetadataWriteBlock is spec.md scenario E4: a global block at
// METADATA_WRITE blocks any operation requiring that level, while READ
// succeeds.
func TestGlobalMetadataWriteBlock(t *testing.T) {
	b := NewBuilder().
		AddGlobal(&Block{ID: "cluster-ro", Levels: []Level{MetadataWrite}}).
		Build()

	if res := b.Check(MetadataWrite, nil); !res.Blocked {
		t.Fatal("expected METADATA_WRITE to be blocked")
	}
	if res := b.Check(Read, nil); res.Blocked {
		t.Fatalf("expected READ to be admitted, got blocked by %v", res.Reasons)
	}
}

func TestPerIndexUnion(t *testing.T) {
	idx := uuid.New()
	other := uuid.New()
	b := NewBuilder().
		AddGlobal(&Block{ID: "g", Levels: []Level{Read}}).
		AddIndex(idx, &Block{ID: "i", Levels: []Level{Read}}).
		Build()

	res := b.Check(Read, &idx)
	if !res.Blocked || len(res.Reasons) != 2 {
		t.Fatalf("expected union of global+per-index reasons, got %+v", res)
	}
	res = b.Check(Read, &other)
	if !res.Blocked || len(res.Reasons) != 1 {
		t.Fatalf("expected only the global reason for an unrelated index, got %+v", res)
	}
}

// TestAllowReleaseResources is spec.md §8 property 3: releasable check
// is false iff any block at METADATA_WRITE has AllowReleaseResources=false.
func TestAllowReleaseResources(t *testing.T) {
	idx := uuid.New()
	b := NewBuilder().
		AddIndex(idx, &Block{ID: "snapshot", Levels: []Level{MetadataWrite}, AllowReleaseResources: false}).
		Build()

	if res := b.AllowReleaseResources([]uuid.UUID{idx}); !res.Blocked {
		t.Fatal("expected release of resources to be blocked")
	}

	b2 := NewBuilder().
		AddIndex(idx, &Block{ID: "ok", Levels: []Level{MetadataWrite}, AllowReleaseResources: true}).
		Build()
	if res := b2.AllowReleaseResources([]uuid.UUID{idx}); res.Blocked {
		t.Fatalf("expected release to be allowed, got %+v", res)
	}
}

func TestFingerprintStableAcrossBuild(t *testing.T) {
	mk := func() *Blocks {
		return NewBuilder().
			AddGlobal(&Block{ID: "a", Levels: []Level{Read, Write}}).
			Build()
	}
	a, b := mk(), mk()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("expected identical snapshots to fingerprint identically")
	}
}
