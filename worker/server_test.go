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

package worker

import (
	"context"
	"testing"

	"github.com/aveek0218/distribsql/compr"
	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/memtrack"
	"github.com/aveek0218/distribsql/rpc"
)

func TestTransmitBatchDecompressesCompressedPayload(t *testing.T) {
	mgr := exchange.NewManager()
	key := exchange.Key{QueryID: execid.NewQueryID(), DestInstanceID: execid.NewInstanceID(), NodeID: 0}
	mgr.CreateReceiver(key, 1, 1<<20, nil)

	s := NewServer(":0", mgr, nil, nil, memtrack.NewRoot("test", 0), nil)

	raw := []byte("this is an uncompressed rowbatch payload, repeated. this is an uncompressed rowbatch payload, repeated.")
	compressed := compr.Compression("s2").Compress(raw, nil)

	res := s.TransmitBatch(context.Background(), &rpc.TransmitBatchRequest{
		Version:     rpc.CurrentVersion,
		Key:         key,
		SenderIdx:   0,
		Batch:       compressed,
		Compression: "s2",
		RawLen:      len(raw),
	})
	if res.Code != "ok" {
		t.Fatalf("TransmitBatch: code=%s err=%s", res.Code, res.Err)
	}

	r, ok := mgr.Lookup(key)
	if !ok {
		t.Fatal("receiver not found")
	}
	got, eos, err := r.GetBatch(context.Background())
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if eos {
		t.Fatal("unexpected eos before any batch was read")
	}
	if string(got) != string(raw) {
		t.Fatalf("decompressed payload mismatch: got %q want %q", got, raw)
	}
}

func TestTransmitBatchRejectsUnknownCompression(t *testing.T) {
	mgr := exchange.NewManager()
	s := NewServer(":0", mgr, nil, nil, memtrack.NewRoot("test", 0), nil)

	res := s.TransmitBatch(context.Background(), &rpc.TransmitBatchRequest{
		Version:     rpc.CurrentVersion,
		Compression: "lz4",
		Batch:       []byte("x"),
	})
	if res.Code != "error" {
		t.Fatalf("expected error code for unknown compression, got %s", res.Code)
	}
}
