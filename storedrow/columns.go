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

package storedrow

// DocColumn is the pseudo-column name that, when registered, forces
// registration of every root column of the table (spec.md §4.B).
const DocColumn = "_doc"

// PathInfo describes one path segment's storage shape, as reported by
// the table's schema. Columns uses this to apply the
// upgrade-to-nearest-stored-parent rule without knowing about storage
// internals itself.
type PathInfo struct {
	IsObject      bool
	IsArray       bool
	ObjectIgnored bool // object-of-ignored-policy: children aren't individually stored
}

// SchemaWalker answers path-shape queries as Columns descends a column
// path, and enumerates the scalar leaves under an object path and the
// root columns of the table.
type SchemaWalker interface {
	Walk(path []string) PathInfo
	ScalarLeaves(path []string) [][]string

	// RootColumns lists every top-level column path of the table, used
	// to expand the _doc pseudo-column into a concrete registration of
	// each one.
	RootColumns() [][]string
}

// columnNode is one node of the registration tree.
type columnNode struct {
	stored   bool // this exact path must be read (doc-value or stored field)
	children map[string]*columnNode
}

func (n *columnNode) child(name string) *columnNode {
	if n.children == nil {
		n.children = make(map[string]*columnNode)
	}
	c, ok := n.children[name]
	if !ok {
		c = &columnNode{}
		n.children[name] = c
	}
	return c
}

// Columns is the registration tree of output columns a StoredRow
// reconstruction needs to materialize, built once before any lookups
// run (spec.md §4.B: "Registration of required columns before use").
type Columns struct {
	all  bool
	root columnNode
}

// NewColumns returns an empty registration tree.
func NewColumns() *Columns { return &Columns{} }

// RegisterAll marks every root column of the table as required,
// triggered by encountering the _doc pseudo-column: it both flags the
// whole-table fast path used by All()/Required() and registers each
// root column individually (applying the usual upgrade rule) so
// walkColumns-based reconstruction actually visits every one of them.
func (c *Columns) RegisterAll(w SchemaWalker) {
	c.all = true
	for _, root := range w.RootColumns() {
		c.Register(root, w)
	}
}

// All reports whether every root column must be registered.
func (c *Columns) All() bool { return c.all }

// Register adds path to the tree, applying the upgrade rule: if any
// proper prefix of path is an array or an object-of-ignored-policy, the
// nearest such prefix is registered (as a stored leaf) instead of the
// full path, and descent stops there. If path itself names an object
// type, every scalar leaf beneath it is registered individually.
func (c *Columns) Register(path []string, w SchemaWalker) {
	if len(path) == 1 && path[0] == DocColumn {
		c.RegisterAll(w)
		return
	}
	cur := &c.root
	for i := range path {
		prefix := path[:i+1]
		info := w.Walk(prefix)
		cur = cur.child(path[i])
		if info.IsArray || info.ObjectIgnored {
			cur.stored = true
			return
		}
	}
	leaf := w.Walk(path)
	if leaf.IsObject {
		for _, l := range w.ScalarLeaves(path) {
			c.Register(l, w)
		}
		return
	}
	cur.stored = true
}

// Required reports whether path (or an ancestor upgraded in its place)
// was registered.
func (c *Columns) Required(path []string) bool {
	if c.all {
		return true
	}
	cur := &c.root
	for _, p := range path {
		next, ok := cur.children[p]
		if !ok {
			return false
		}
		if next.stored {
			return true
		}
		cur = next
	}
	return cur.stored
}
