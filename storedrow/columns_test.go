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

import "testing"

// fakeSchema describes a table with one plain scalar column "a", an
// array column "tags", an ignored-policy object "blob", and a regular
// object "addr" with two scalar leaves.
type fakeSchema struct{}

func (fakeSchema) Walk(path []string) PathInfo {
	key := ""
	for _, p := range path {
		key += "/" + p
	}
	switch key {
	case "/tags":
		return PathInfo{IsArray: true}
	case "/blob":
		return PathInfo{IsObject: true, ObjectIgnored: true}
	case "/addr":
		return PathInfo{IsObject: true}
	default:
		return PathInfo{}
	}
}

func (fakeSchema) ScalarLeaves(path []string) [][]string {
	key := ""
	for _, p := range path {
		key += "/" + p
	}
	if key == "/addr" {
		return [][]string{{"addr", "city"}, {"addr", "zip"}}
	}
	return nil
}

func (fakeSchema) RootColumns() [][]string {
	return [][]string{{"a"}, {"tags"}, {"blob"}, {"addr"}}
}

func TestColumnsDocRegistersAll(t *testing.T) {
	c := NewColumns()
	c.Register([]string{DocColumn}, fakeSchema{})
	if !c.All() {
		t.Fatal("expected _doc to register all root columns")
	}
	for _, path := range [][]string{
		{"a"}, {"tags"}, {"blob"}, {"addr", "city"}, {"addr", "zip"},
	} {
		if !c.Required(path) {
			t.Fatalf("expected %v to be required after _doc registration", path)
		}
	}

	var visited [][]string
	err := walkColumns(&c.root, nil, func(path []string) error {
		visited = append(visited, append([]string(nil), path...))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"a": false, "tags": false, "blob": false, "addr/city": false, "addr/zip": false}
	for _, p := range visited {
		key := p[0]
		for _, s := range p[1:] {
			key += "/" + s
		}
		if _, ok := want[key]; !ok {
			t.Fatalf("unexpected visited path %v", p)
		}
		want[key] = true
	}
	for key, seen := range want {
		if !seen {
			t.Fatalf("expected walkColumns to visit %q after _doc registration", key)
		}
	}
}

func TestColumnsPlainScalar(t *testing.T) {
	c := NewColumns()
	c.Register([]string{"a"}, fakeSchema{})
	if !c.Required([]string{"a"}) {
		t.Fatal("expected a to be required")
	}
	if c.Required([]string{"b"}) {
		t.Fatal("expected unregistered column to be not required")
	}
}

func TestColumnsArrayUpgradesToParent(t *testing.T) {
	c := NewColumns()
	c.Register([]string{"tags", "0"}, fakeSchema{})
	if !c.Required([]string{"tags"}) {
		t.Fatal("expected descent into an array to register the array itself")
	}
}

func TestColumnsIgnoredObjectUpgradesToParent(t *testing.T) {
	c := NewColumns()
	c.Register([]string{"blob", "inner"}, fakeSchema{})
	if !c.Required([]string{"blob"}) {
		t.Fatal("expected descent into an ignored-policy object to register the object itself")
	}
	if !c.Required([]string{"blob", "inner"}) {
		t.Fatal("a path under a registered ignored-policy object is covered by its stored parent")
	}
}

func TestColumnsObjectRegistersScalarLeaves(t *testing.T) {
	c := NewColumns()
	c.Register([]string{"addr"}, fakeSchema{})
	if !c.Required([]string{"addr", "city"}) || !c.Required([]string{"addr", "zip"}) {
		t.Fatal("expected descending into a plain object to register its scalar leaves")
	}
}
