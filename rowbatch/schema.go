// Copyright (C) 2022 Sneller, Inc.
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

// Package rowbatch implements the row batch: the bounded,
// columnar-flat, fixed-stride unit of tuple data that crosses every
// operator and network boundary in the system.
package rowbatch

import "fmt"

// ColumnType is the physical representation of one column's values.
type ColumnType int

const (
	// Int64 columns wrap silently on overflow, matching two's
	// complement addition/subtraction/multiplication semantics.
	Int64 ColumnType = iota
	// Float64 columns follow IEEE-754 arithmetic, including NaN and Inf.
	Float64
	// Bool columns occupy one byte in the row buffer (0 or 1).
	Bool
	// Bytes columns store an 8-byte (offset uint32, length uint32)
	// pair in the row buffer; the referenced bytes live in the arena.
	Bytes
)

func (t ColumnType) width() int {
	switch t {
	case Int64, Float64:
		return 8
	case Bool:
		return 1
	case Bytes:
		return 8
	default:
		panic(fmt.Sprintf("rowbatch: unknown column type %d", t))
	}
}

// Column describes one output column of a tuple schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is the fixed tuple layout shared by every row in a batch.
// It is established once, at fragment prepare time, and never
// renegotiated per batch.
type Schema struct {
	Columns []Column
	offsets []int
	stride  int
}

// NewSchema computes column byte offsets within a row and returns
// the resulting Schema.
func NewSchema(cols ...Column) *Schema {
	s := &Schema{Columns: cols, offsets: make([]int, len(cols))}
	off := 0
	for i, c := range cols {
		s.offsets[i] = off
		off += c.Type.width()
	}
	s.stride = off
	return s
}

// Stride is the fixed number of bytes one row occupies in the row buffer.
func (s *Schema) Stride() int { return s.stride }

// NumColumns returns the number of columns in the schema.
func (s *Schema) NumColumns() int { return len(s.Columns) }

// Offset returns the byte offset of column idx within a row.
func (s *Schema) Offset(idx int) int { return s.offsets[idx] }
