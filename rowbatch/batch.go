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

package rowbatch

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultBatchSize is the batch_size query option default.
const DefaultBatchSize = 1024

// Value is a single column value, tagged by which field is meaningful.
type Value struct {
	Null  bool
	I64   int64
	F64   float64
	Bool  bool
	Bytes []byte
}

// Batch is a bounded sequence of tuples sharing a Schema. It owns a
// flat row buffer sized batchSize*Stride(), a variable-length arena
// for Bytes columns, a NULL bitmap, and a row count.
type Batch struct {
	schema   *Schema
	rowCap   int
	arenaCap int

	rowBuf []byte
	arena  []byte
	nulls  []byte // bit vector, MSB-first within each byte: bit index = row*numCols+col
	count  int
}

// NewBatch allocates a batch for schema with room for up to rowCap
// rows and an arena capped at arenaCap bytes (0 means unbounded).
func NewBatch(schema *Schema, rowCap, arenaCap int) *Batch {
	if rowCap <= 0 {
		rowCap = DefaultBatchSize
	}
	n := schema.NumColumns()
	return &Batch{
		schema:   schema,
		rowCap:   rowCap,
		arenaCap: arenaCap,
		rowBuf:   make([]byte, rowCap*schema.Stride()),
		nulls:    make([]byte, (rowCap*n+7)/8),
	}
}

// Schema returns the batch's tuple schema.
func (b *Batch) Schema() *Schema { return b.schema }

// Count returns the number of tuples currently in the batch.
func (b *Batch) Count() int { return b.count }

// IsFull reports whether the batch has reached its row capacity or
// its arena has reached its configured cap.
func (b *Batch) IsFull() bool {
	if b.count >= b.rowCap {
		return true
	}
	return b.arenaCap > 0 && len(b.arena) >= b.arenaCap
}

// AllocateTuple returns the index of the next row slot, growing the
// batch's bookkeeping as needed. It returns -1 if the batch is full.
func (b *Batch) AllocateTuple() int {
	if b.IsFull() {
		return -1
	}
	slot := b.count
	b.count++
	return slot
}

func (b *Batch) bitIndex(slot, col int) int { return slot*b.schema.NumColumns() + col }

func (b *Batch) setNull(slot, col int, null bool) {
	idx := b.bitIndex(slot, col)
	byteIdx, bit := idx/8, uint(idx%8)
	mask := byte(1 << (7 - bit)) // MSB-first within each byte
	if null {
		b.nulls[byteIdx] |= mask
	} else {
		b.nulls[byteIdx] &^= mask
	}
}

// IsNull reports whether the value at (slot, col) is NULL.
func (b *Batch) IsNull(slot, col int) bool {
	idx := b.bitIndex(slot, col)
	byteIdx, bit := idx/8, uint(idx%8)
	mask := byte(1 << (7 - bit))
	return b.nulls[byteIdx]&mask != 0
}

// SetColumn writes v into row slot's column colIdx, computing the
// offset from the tuple schema. Bytes values are copied into the
// arena, growing it as needed; the row buffer stores only the
// (offset, length) pair.
func (b *Batch) SetColumn(slot, colIdx int, v Value) error {
	if slot < 0 || slot >= b.count {
		return fmt.Errorf("rowbatch: slot %d out of range [0,%d)", slot, b.count)
	}
	if colIdx < 0 || colIdx >= b.schema.NumColumns() {
		return fmt.Errorf("rowbatch: column %d out of range", colIdx)
	}
	b.setNull(slot, colIdx, v.Null)
	if v.Null {
		return nil
	}
	off := slot*b.schema.Stride() + b.schema.Offset(colIdx)
	switch b.schema.Columns[colIdx].Type {
	case Int64:
		binary.BigEndian.PutUint64(b.rowBuf[off:], uint64(v.I64))
	case Float64:
		binary.BigEndian.PutUint64(b.rowBuf[off:], math.Float64bits(v.F64))
	case Bool:
		if v.Bool {
			b.rowBuf[off] = 1
		} else {
			b.rowBuf[off] = 0
		}
	case Bytes:
		arenaOff := len(b.arena)
		b.arena = append(b.arena, v.Bytes...)
		binary.BigEndian.PutUint32(b.rowBuf[off:], uint32(arenaOff))
		binary.BigEndian.PutUint32(b.rowBuf[off+4:], uint32(len(v.Bytes)))
	default:
		return fmt.Errorf("rowbatch: unsupported column type %d", b.schema.Columns[colIdx].Type)
	}
	return nil
}

// GetColumn reads back the value written by SetColumn.
func (b *Batch) GetColumn(slot, colIdx int) (Value, error) {
	if slot < 0 || slot >= b.count {
		return Value{}, fmt.Errorf("rowbatch: slot %d out of range [0,%d)", slot, b.count)
	}
	if colIdx < 0 || colIdx >= b.schema.NumColumns() {
		return Value{}, fmt.Errorf("rowbatch: column %d out of range", colIdx)
	}
	if b.IsNull(slot, colIdx) {
		return Value{Null: true}, nil
	}
	off := slot*b.schema.Stride() + b.schema.Offset(colIdx)
	switch b.schema.Columns[colIdx].Type {
	case Int64:
		return Value{I64: int64(binary.BigEndian.Uint64(b.rowBuf[off:]))}, nil
	case Float64:
		return Value{F64: math.Float64frombits(binary.BigEndian.Uint64(b.rowBuf[off:]))}, nil
	case Bool:
		return Value{Bool: b.rowBuf[off] != 0}, nil
	case Bytes:
		arenaOff := binary.BigEndian.Uint32(b.rowBuf[off:])
		n := binary.BigEndian.Uint32(b.rowBuf[off+4:])
		return Value{Bytes: b.arena[arenaOff : arenaOff+n]}, nil
	default:
		return Value{}, fmt.Errorf("rowbatch: unsupported column type %d", b.schema.Columns[colIdx].Type)
	}
}

// WrappingAddInt64 adds two Int64 column values the way integer
// column arithmetic is specified to behave: silently wrapping on
// overflow. Go's int64 addition already wraps two's-complement, so
// this is a direct alias kept for call sites that want the intent
// documented at the use site (e.g. a running SUM aggregate).
func WrappingAddInt64(a, b int64) int64 { return a + b }
