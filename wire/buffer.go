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

package wire

import (
	"encoding/binary"
	"math"
)

// type tags; each value in the stream begins with one of these.
const (
	tagNull = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBlob
	tagSymbol
	tagStruct
	tagList
)

// Buffer accumulates an encoded message. The zero value is ready to use.
type Buffer struct {
	buf   []byte
	stack []int // offsets of the 4-byte length placeholders for open struct/list
}

// Bytes returns the encoded message so far.
func (b *Buffer) Bytes() []byte { return b.buf }

// Reset clears the buffer for reuse.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.stack = b.stack[:0]
}

func (b *Buffer) pushLen() {
	b.stack = append(b.stack, len(b.buf))
	b.buf = append(b.buf, 0, 0, 0, 0)
}

func (b *Buffer) patchLen() {
	n := len(b.stack)
	off := b.stack[n-1]
	b.stack = b.stack[:n-1]
	bodyLen := len(b.buf) - off - 4
	binary.BigEndian.PutUint32(b.buf[off:off+4], uint32(bodyLen))
}

// BeginStruct opens a struct value. sizeHint is advisory and unused;
// it mirrors ion.Buffer.BeginStruct's signature.
func (b *Buffer) BeginStruct(sizeHint int) {
	b.buf = append(b.buf, tagStruct)
	b.pushLen()
}

// EndStruct closes the most recently opened struct.
func (b *Buffer) EndStruct() { b.patchLen() }

// BeginList opens a list value.
func (b *Buffer) BeginList() {
	b.buf = append(b.buf, tagList)
	b.pushLen()
}

// EndList closes the most recently opened list.
func (b *Buffer) EndList() { b.patchLen() }

// BeginField writes the label of the next struct field.
func (b *Buffer) BeginField(sym Symbol) {
	b.buf = appendUvarint(b.buf, uint64(sym))
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// WriteNull writes an explicit null/absent value.
func (b *Buffer) WriteNull() { b.buf = append(b.buf, tagNull) }

// WriteBool writes a boolean value.
func (b *Buffer) WriteBool(v bool) {
	b.buf = append(b.buf, tagBool)
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
}

// WriteInt writes a signed integer value.
func (b *Buffer) WriteInt(v int64) {
	b.buf = append(b.buf, tagInt)
	b.buf = appendUvarint(b.buf, zigzag(v))
}

// WriteUint writes an unsigned integer value.
func (b *Buffer) WriteUint(v uint64) {
	b.buf = append(b.buf, tagUint)
	b.buf = appendUvarint(b.buf, v)
}

// WriteFloat writes an IEEE-754 double value.
func (b *Buffer) WriteFloat(v float64) {
	b.buf = append(b.buf, tagFloat)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.buf = append(b.buf, tmp[:]...)
}

// WriteString writes a UTF-8 string value.
func (b *Buffer) WriteString(s string) {
	b.buf = append(b.buf, tagString)
	b.buf = appendUvarint(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
}

// WriteBlob writes an opaque byte-string value.
func (b *Buffer) WriteBlob(p []byte) {
	b.buf = append(b.buf, tagBlob)
	b.buf = appendUvarint(b.buf, uint64(len(p)))
	b.buf = append(b.buf, p...)
}

// WriteSymbol writes an interned-atom reference.
func (b *Buffer) WriteSymbol(sym Symbol) {
	b.buf = append(b.buf, tagSymbol)
	b.buf = appendUvarint(b.buf, uint64(sym))
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
