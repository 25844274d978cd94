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

/*
Package sorting holds the small row-windowing helpers shared by query
execution's result-limiting stages.

Limit turns a query's raw LIMIT/OFFSET values into the closed index
range of rows that should actually be emitted out of a larger result
set, clamping the range to the number of rows actually available.
jobexec's ordered-limit-and-offset projection uses it to decide how
much of a heap-selected, already-ordered batch to keep.
*/
package sorting
