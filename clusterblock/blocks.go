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

// Package clusterblock implements the cluster/index admission gate
// (spec.md §4.A): an immutable snapshot of global and per-index blocks,
// queried by level, that query execution consults before doing any
// read/write/metadata work.
//
// Snapshots are built with Builder and frozen with Build, mirroring the
// teacher's build-once-then-freeze discipline for plan.ExecParams.clone
// (plan/root.go) and ion.Symtab's CloneInto (share storage for anything
// that didn't change).
package clusterblock

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/google/uuid"
)

// Level is an admission level a block can apply to.
type Level uint8

const (
	Read Level = iota
	Write
	MetadataRead
	MetadataWrite
	numLevels
)

func (l Level) String() string {
	switch l {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case MetadataRead:
		return "METADATA_READ"
	case MetadataWrite:
		return "METADATA_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Block is a single admission constraint. It applies at one or more
// Levels, identified by an Id/Status pair for HasGlobalBlock lookups,
// and can optionally forbid resource release while held.
type Block struct {
	ID                    string
	Status                string
	Levels                []Level
	AllowReleaseResources bool
	Reason                string
}

func (b *Block) appliesTo(l Level) bool {
	for _, lv := range b.Levels {
		if lv == l {
			return true
		}
	}
	return false
}

// Result is the outcome of an admission check: either Ok, or Blocked
// with the union of reasons that caused the block.
type Result struct {
	Blocked bool
	Reasons []*Block
}

func ok() Result { return Result{} }

func blocked(reasons []*Block) Result {
	return Result{Blocked: true, Reasons: reasons}
}

// Blocks is an immutable snapshot of global blocks plus per-index-UUID
// blocks, indexed by Level for O(1)-plus-per-index-lookup admission
// checks (spec.md §4.A: "For each level the gate precomputes the subset
// of blocks containing that level").
type Blocks struct {
	byLevel     [numLevels][]*Block // global blocks containing this level
	perIndex    map[uuid.UUID]map[Level][]*Block
	fingerprint [blake2b.Size256]byte
}

// Fingerprint returns a content hash of the snapshot so that merge-phase
// nodes can cheaply detect an unchanged cluster-block snapshot and skip
// re-fetching it, the way cmd/snellerd/fsenv.go hashes blob metadata
// with blake2b for its ETag.
func (b *Blocks) Fingerprint() [blake2b.Size256]byte { return b.fingerprint }

// Check implements the ClusterBlockGate contract of spec.md §4.A:
// returns Ok, or Blocked with the union of global(level) and
// perIndex(level, index).
func (b *Blocks) Check(level Level, index *uuid.UUID) Result {
	reasons := append([]*Block(nil), b.byLevel[level]...)
	if index != nil {
		if m, ok := b.perIndex[*index]; ok {
			reasons = append(reasons, m[level]...)
		}
	}
	if len(reasons) == 0 {
		return ok()
	}
	return blocked(reasons)
}

// HasGlobalBlock reports whether any global block matches the given
// id/status pair, independent of level.
func (b *Blocks) HasGlobalBlock(id, status string) bool {
	for _, lvl := range b.byLevel {
		for _, blk := range lvl {
			if blk.ID == id && (status == "" || blk.Status == status) {
				return true
			}
		}
	}
	return false
}

// AllowReleaseResources reports Ok unless some METADATA_WRITE block
// across the given indices (or globally) has AllowReleaseResources ==
// false, per spec.md §8 property 3.
func (b *Blocks) AllowReleaseResources(indices []uuid.UUID) Result {
	var reasons []*Block
	for _, blk := range b.byLevel[MetadataWrite] {
		if !blk.AllowReleaseResources {
			reasons = append(reasons, blk)
		}
	}
	for _, idx := range indices {
		if m, ok := b.perIndex[idx]; ok {
			for _, blk := range m[MetadataWrite] {
				if !blk.AllowReleaseResources {
					reasons = append(reasons, blk)
				}
			}
		}
	}
	if len(reasons) == 0 {
		return ok()
	}
	return blocked(reasons)
}

// Builder accumulates global and per-index blocks before freezing them
// into an immutable Blocks snapshot via Build.
type Builder struct {
	global   []*Block
	perIndex map[uuid.UUID][]*Block
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{perIndex: make(map[uuid.UUID][]*Block)}
}

// AddGlobal adds a block that applies cluster-wide.
func (bld *Builder) AddGlobal(b *Block) *Builder {
	bld.global = append(bld.global, b)
	return bld
}

// AddIndex adds a block scoped to a single index UUID.
func (bld *Builder) AddIndex(index uuid.UUID, b *Block) *Builder {
	bld.perIndex[index] = append(bld.perIndex[index], b)
	return bld
}

// Build freezes the builder into an immutable Blocks snapshot, grouping
// blocks by Level up front so Check is O(1) plus a per-index map
// lookup, per spec.md §4.A.
func (bld *Builder) Build() *Blocks {
	b := &Blocks{perIndex: make(map[uuid.UUID]map[Level][]*Block, len(bld.perIndex))}
	for _, blk := range bld.global {
		for _, lvl := range blk.Levels {
			b.byLevel[lvl] = append(b.byLevel[lvl], blk)
		}
	}
	for idx, blks := range bld.perIndex {
		byLevel := make(map[Level][]*Block)
		for _, blk := range blks {
			for _, lvl := range blk.Levels {
				byLevel[lvl] = append(byLevel[lvl], blk)
			}
		}
		b.perIndex[idx] = byLevel
	}
	b.fingerprint = fingerprint(bld)
	return b
}

// fingerprint hashes a stable textual encoding of the builder's
// contents so equal snapshots (built independently on different nodes)
// compare equal.
func fingerprint(bld *Builder) [blake2b.Size256]byte {
	ids := make([]string, 0, len(bld.global))
	for _, b := range bld.global {
		ids = append(ids, fmt.Sprintf("g:%s:%s:%v:%t:%q", b.ID, b.Status, b.Levels, b.AllowReleaseResources, b.Reason))
	}
	for idx, blks := range bld.perIndex {
		for _, b := range blks {
			ids = append(ids, fmt.Sprintf("i:%s:%s:%s:%v:%t:%q", idx, b.ID, b.Status, b.Levels, b.AllowReleaseResources, b.Reason))
		}
	}
	sort.Strings(ids)
	h, _ := blake2b.New256(nil)
	for _, s := range ids {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}
