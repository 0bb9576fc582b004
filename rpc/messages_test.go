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
	"testing"

	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/execid"
)

func TestTransmitBatchRequestRoundTrip(t *testing.T) {
	req := &TransmitBatchRequest{
		Version:     CurrentVersion,
		Key:         exchange.Key{QueryID: execid.NewQueryID(), DestInstanceID: execid.NewInstanceID(), NodeID: 3},
		SenderIdx:   2,
		Batch:       []byte("compressed-bytes"),
		Compression: "zstd",
		RawLen:      1234,
	}
	got, err := DecodeTransmitBatchRequest(req.Marshal())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SenderIdx != req.SenderIdx || got.Compression != req.Compression || got.RawLen != req.RawLen {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if string(got.Batch) != string(req.Batch) {
		t.Fatalf("batch mismatch: %q", got.Batch)
	}
	if got.Key != req.Key {
		t.Fatalf("key mismatch: %+v", got.Key)
	}
}

func TestTransmitBatchRequestDefaultsToNoCompression(t *testing.T) {
	req := &TransmitBatchRequest{Version: CurrentVersion, Batch: []byte("raw")}
	got, err := DecodeTransmitBatchRequest(req.Marshal())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Compression != "" || got.RawLen != 0 {
		t.Fatalf("expected zero compression fields, got %+v", got)
	}
}
