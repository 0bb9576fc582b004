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
	"fmt"
	"math"
)

// ReadLabel reads the field label that precedes every struct field value.
func ReadLabel(buf []byte) (Symbol, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, buf, fmt.Errorf("wire: truncated label")
	}
	return Symbol(v), buf[n:], nil
}

func readTag(buf []byte, want byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("wire: empty buffer")
	}
	if buf[0] != want {
		return nil, fmt.Errorf("wire: expected tag %d, got %d", want, buf[0])
	}
	return buf[1:], nil
}

// ReadBool reads a boolean value.
func ReadBool(buf []byte) (bool, []byte, error) {
	rest, err := readTag(buf, tagBool)
	if err != nil {
		return false, buf, err
	}
	if len(rest) == 0 {
		return false, buf, fmt.Errorf("wire: truncated bool")
	}
	return rest[0] != 0, rest[1:], nil
}

// ReadInt reads a signed integer value.
func ReadInt(buf []byte) (int64, []byte, error) {
	rest, err := readTag(buf, tagInt)
	if err != nil {
		return 0, buf, err
	}
	v, n := binary.Uvarint(rest)
	if n <= 0 {
		return 0, buf, fmt.Errorf("wire: truncated int")
	}
	return unzigzag(v), rest[n:], nil
}

// ReadUint reads an unsigned integer value.
func ReadUint(buf []byte) (uint64, []byte, error) {
	rest, err := readTag(buf, tagUint)
	if err != nil {
		return 0, buf, err
	}
	v, n := binary.Uvarint(rest)
	if n <= 0 {
		return 0, buf, fmt.Errorf("wire: truncated uint")
	}
	return v, rest[n:], nil
}

// ReadFloat reads an IEEE-754 double value.
func ReadFloat(buf []byte) (float64, []byte, error) {
	rest, err := readTag(buf, tagFloat)
	if err != nil {
		return 0, buf, err
	}
	if len(rest) < 8 {
		return 0, buf, fmt.Errorf("wire: truncated float")
	}
	return math.Float64frombits(binary.BigEndian.Uint64(rest[:8])), rest[8:], nil
}

// ReadString reads a UTF-8 string value, copying it out of buf.
func ReadString(buf []byte) (string, []byte, error) {
	rest, err := readTag(buf, tagString)
	if err != nil {
		return "", buf, err
	}
	n, k := binary.Uvarint(rest)
	if k <= 0 || uint64(len(rest)-k) < n {
		return "", buf, fmt.Errorf("wire: truncated string")
	}
	s := string(rest[k : uint64(k)+n])
	return s, rest[uint64(k)+n:], nil
}

// ReadBytesShared reads a blob value without copying; the returned
// slice aliases buf and is only valid as long as buf is not reused.
func ReadBytesShared(buf []byte) ([]byte, []byte, error) {
	rest, err := readTag(buf, tagBlob)
	if err != nil {
		return nil, buf, err
	}
	n, k := binary.Uvarint(rest)
	if k <= 0 || uint64(len(rest)-k) < n {
		return nil, buf, fmt.Errorf("wire: truncated blob")
	}
	return rest[k : uint64(k)+n], rest[uint64(k)+n:], nil
}

// ReadSymbol reads an interned-atom reference.
func ReadSymbol(buf []byte) (Symbol, []byte, error) {
	rest, err := readTag(buf, tagSymbol)
	if err != nil {
		return 0, buf, err
	}
	v, n := binary.Uvarint(rest)
	if n <= 0 {
		return 0, buf, fmt.Errorf("wire: truncated symbol")
	}
	return Symbol(v), rest[n:], nil
}

// ReadStruct reads the raw body bytes of a struct value so the caller
// can walk its BeginField/value pairs with ReadLabel and SizeOf.
func ReadStruct(buf []byte) (body []byte, rest []byte, err error) {
	return readContainer(buf, tagStruct)
}

// ReadList reads the raw body bytes of a list value.
func ReadList(buf []byte) (body []byte, rest []byte, err error) {
	return readContainer(buf, tagList)
}

func readContainer(buf []byte, want byte) ([]byte, []byte, error) {
	rest, err := readTag(buf, want)
	if err != nil {
		return nil, buf, err
	}
	if len(rest) < 4 {
		return nil, buf, fmt.Errorf("wire: truncated container length")
	}
	n := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) < uint64(n) {
		return nil, buf, fmt.Errorf("wire: truncated container body")
	}
	return rest[:n], rest[n:], nil
}

// SizeOf returns the number of bytes the next encoded value
// (tag plus payload) occupies at the head of buf, so a decoder
// that does not recognize a field label can skip over it.
func SizeOf(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	switch buf[0] {
	case tagNull:
		return 1
	case tagBool:
		return 2
	case tagFloat:
		return 9
	case tagInt, tagUint, tagSymbol:
		_, n := binary.Uvarint(buf[1:])
		if n <= 0 {
			return len(buf)
		}
		return 1 + n
	case tagString, tagBlob:
		v, n := binary.Uvarint(buf[1:])
		if n <= 0 {
			return len(buf)
		}
		return 1 + n + int(v)
	case tagStruct, tagList:
		if len(buf) < 5 {
			return len(buf)
		}
		n := binary.BigEndian.Uint32(buf[1:5])
		return 5 + int(n)
	default:
		return len(buf)
	}
}
