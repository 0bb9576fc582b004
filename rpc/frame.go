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

package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameMagic tags every frame so a misaligned reader fails fast
// instead of interpreting garbage as a length.
const frameMagic uint32 = 0xd15e7403

// maxFramePayload bounds a single frame, mirroring the batch wire
// format's use of a fixed-width length field to keep a hostile or
// confused peer from claiming an unbounded allocation.
const maxFramePayload = 256 << 20

// WriteFrame writes one magic-tagged, length-prefixed message to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], frameMagic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != frameMagic {
		return nil, fmt.Errorf("rpc: bad frame magic %#x", magic)
	}
	n := binary.BigEndian.Uint32(hdr[4:8])
	if n > maxFramePayload {
		return nil, fmt.Errorf("rpc: frame of %d bytes exceeds the %d byte limit", n, maxFramePayload)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
