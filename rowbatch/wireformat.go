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
)

// batchMagic identifies a row-batch wire message; version is bumped
// whenever the header or section layout below changes incompatibly.
const (
	batchMagic   = 0x52420100 // "RB", header version 1, reserved byte
	batchVersion = 1
)

// nullBytes returns the number of bytes the NULL bitmap occupies for
// a batch with count rows over the given schema.
func nullBytes(count, numCols int) int { return (count*numCols + 7) / 8 }

// ToWire produces the length-prefixed wire form of the batch: a
// fixed header (magic, version, row_count, row_bytes, arena_bytes)
// followed by the row-buffer section (NULL bitmap then row buffer,
// both truncated to the rows actually in use) and the arena section.
//
// The schema itself is not included: it was already communicated
// once, out of band, at fragment prepare time.
func (b *Batch) ToWire() []byte {
	numCols := b.schema.NumColumns()
	nb := nullBytes(b.count, numCols)
	rowBufUsed := b.count * b.schema.Stride()
	rowBytes := nb + rowBufUsed

	out := make([]byte, 20+rowBytes+len(b.arena))
	binary.BigEndian.PutUint32(out[0:4], batchMagic)
	binary.BigEndian.PutUint32(out[4:8], batchVersion)
	binary.BigEndian.PutUint32(out[8:12], uint32(b.count))
	binary.BigEndian.PutUint32(out[12:16], uint32(rowBytes))
	binary.BigEndian.PutUint32(out[16:20], uint32(len(b.arena)))

	off := 20
	off += copy(out[off:], b.nulls[:nb])
	off += copy(out[off:], b.rowBuf[:rowBufUsed])
	copy(out[off:], b.arena)
	return out
}

// FromWire is the exact inverse of ToWire. The caller supplies the
// schema and capacities that were agreed out of band at prepare time;
// it must match the schema used to produce the wire bytes, or the
// decoded batch will be nonsense without FromWire itself detecting it
// (the wire format carries no schema negotiation, by design).
func FromWire(schema *Schema, rowCap, arenaCap int, data []byte) (*Batch, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("rowbatch: wire message too short: %d bytes", len(data))
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	version := binary.BigEndian.Uint32(data[4:8])
	if magic != batchMagic {
		return nil, fmt.Errorf("rowbatch: bad magic %#x", magic)
	}
	if version != batchVersion {
		return nil, fmt.Errorf("rowbatch: unsupported wire version %d", version)
	}
	count := int(binary.BigEndian.Uint32(data[8:12]))
	rowBytes := int(binary.BigEndian.Uint32(data[12:16]))
	arenaBytes := int(binary.BigEndian.Uint32(data[16:20]))

	body := data[20:]
	if len(body) != rowBytes+arenaBytes {
		return nil, fmt.Errorf("rowbatch: header declares %d body bytes, got %d", rowBytes+arenaBytes, len(body))
	}

	numCols := schema.NumColumns()
	nb := nullBytes(count, numCols)
	rowBufUsed := count * schema.Stride()
	if rowBytes != nb+rowBufUsed {
		return nil, fmt.Errorf("rowbatch: row section is %d bytes, expected %d for %d rows", rowBytes, nb+rowBufUsed, count)
	}

	if rowCap < count {
		rowCap = count
	}
	b := NewBatch(schema, rowCap, arenaCap)
	copy(b.nulls, body[:nb])
	copy(b.rowBuf, body[nb:nb+rowBufUsed])
	b.arena = append(b.arena[:0], body[nb+rowBufUsed:nb+rowBufUsed+arenaBytes]...)
	b.count = count
	return b, nil
}
