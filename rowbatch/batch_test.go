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
	"bytes"
	"math"
	"testing"
)

func testSchema() *Schema {
	return NewSchema(
		Column{Name: "id", Type: Int64},
		Column{Name: "score", Type: Float64},
		Column{Name: "active", Type: Bool},
		Column{Name: "name", Type: Bytes},
	)
}

func fillBatch(t *testing.T, b *Batch, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		slot := b.AllocateTuple()
		if slot < 0 {
			t.Fatalf("AllocateTuple returned -1 at row %d", i)
		}
		if err := b.SetColumn(slot, 0, Value{I64: int64(i)}); err != nil {
			t.Fatal(err)
		}
		if err := b.SetColumn(slot, 1, Value{F64: float64(i) + 0.5}); err != nil {
			t.Fatal(err)
		}
		if err := b.SetColumn(slot, 2, Value{Bool: i%2 == 0}); err != nil {
			t.Fatal(err)
		}
		if i%5 == 0 {
			if err := b.SetColumn(slot, 3, Value{Null: true}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := b.SetColumn(slot, 3, Value{Bytes: []byte("row-" + string(rune('a'+i%26)))}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAllocateAndReadBack(t *testing.T) {
	schema := testSchema()
	b := NewBatch(schema, 16, 0)
	fillBatch(t, b, 10)

	for i := 0; i < 10; i++ {
		id, err := b.GetColumn(i, 0)
		if err != nil || id.I64 != int64(i) {
			t.Fatalf("row %d: id = %+v, err = %v", i, id, err)
		}
		if i%5 == 0 {
			name, err := b.GetColumn(i, 3)
			if err != nil || !name.Null {
				t.Fatalf("row %d: expected null name, got %+v", i, name)
			}
		}
	}
}

func TestIsFullOnRowCount(t *testing.T) {
	schema := testSchema()
	b := NewBatch(schema, 4, 0)
	for i := 0; i < 4; i++ {
		if b.IsFull() {
			t.Fatalf("batch reported full before reaching capacity at row %d", i)
		}
		if b.AllocateTuple() < 0 {
			t.Fatalf("AllocateTuple failed at row %d", i)
		}
	}
	if !b.IsFull() {
		t.Fatal("batch should report full at capacity")
	}
	if b.AllocateTuple() != -1 {
		t.Fatal("AllocateTuple should fail once full")
	}
}

func TestIsFullOnArenaCap(t *testing.T) {
	schema := NewSchema(Column{Name: "blob", Type: Bytes})
	b := NewBatch(schema, 1000, 8)
	slot := b.AllocateTuple()
	if err := b.SetColumn(slot, 0, Value{Bytes: make([]byte, 8)}); err != nil {
		t.Fatal(err)
	}
	if !b.IsFull() {
		t.Fatal("batch should report full once the arena cap is reached")
	}
}

func TestWireRoundTrip(t *testing.T) {
	schema := testSchema()
	b := NewBatch(schema, 16, 0)
	fillBatch(t, b, 13)

	wire := b.ToWire()
	got, err := FromWire(schema, 16, 0, wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.Count() != b.Count() {
		t.Fatalf("count = %d, want %d", got.Count(), b.Count())
	}
	if !bytes.Equal(got.arena, b.arena) {
		t.Fatal("arena bytes differ after round trip")
	}
	nb := nullBytes(b.count, schema.NumColumns())
	if !bytes.Equal(got.nulls[:nb], b.nulls[:nb]) {
		t.Fatal("null bitmap differs after round trip")
	}
	rowBufUsed := b.count * schema.Stride()
	if !bytes.Equal(got.rowBuf[:rowBufUsed], b.rowBuf[:rowBufUsed]) {
		t.Fatal("row buffer differs after round trip")
	}
	// and a second round trip must reproduce byte-for-byte identical wire bytes.
	wire2 := got.ToWire()
	if !bytes.Equal(wire, wire2) {
		t.Fatal("to_wire(from_wire(to_wire(b))) != to_wire(b)")
	}
}

func TestWireRoundTripEmptyBatch(t *testing.T) {
	schema := testSchema()
	b := NewBatch(schema, 16, 0)
	wire := b.ToWire()
	got, err := FromWire(schema, 16, 0, wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.Count() != 0 {
		t.Fatalf("count = %d, want 0", got.Count())
	}
}

func TestIntegerArithmeticWraps(t *testing.T) {
	got := WrappingAddInt64(math.MaxInt64, 1)
	if got != math.MinInt64 {
		t.Fatalf("MaxInt64+1 = %d, want wraparound to MinInt64 (%d)", got, math.MinInt64)
	}
}

func TestNullBitMSBFirst(t *testing.T) {
	schema := NewSchema(
		Column{Name: "a", Type: Int64}, Column{Name: "b", Type: Int64},
		Column{Name: "c", Type: Int64}, Column{Name: "d", Type: Int64},
		Column{Name: "e", Type: Int64}, Column{Name: "f", Type: Int64},
		Column{Name: "g", Type: Int64}, Column{Name: "h", Type: Int64},
	)
	b := NewBatch(schema, 1, 0)
	slot := b.AllocateTuple()
	// set column 0 (bit position 0, i.e. the MSB of byte 0) to null.
	if err := b.SetColumn(slot, 0, Value{Null: true}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 8; i++ {
		if err := b.SetColumn(slot, i, Value{I64: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if b.nulls[0] != 0b1000_0000 {
		t.Fatalf("null byte = %08b, want MSB set for column 0", b.nulls[0])
	}
}
