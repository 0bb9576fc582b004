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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aveek0218/distribsql/compr"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/exchange"
	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/scheduler"
)

// exchangeSendSink implements executor.Sink by transmitting each
// batch to one or more destination instances over the worker-to-worker
// RPC surface. A HashPartitionedSink routes row by row: each row's
// partition key is the serialized values of its sink.PartitionExprs
// columns (plain output-column names, since expression evaluation
// itself is planner territory this module treats as an external
// collaborator), hashed with scheduler.PartitionOf.
type exchangeSendSink struct {
	client       rpc.WorkerClient
	queryID      execid.QueryID
	senderIdx    int
	sink         planfrag.Sink
	destinations []planfrag.Destination
	compression  string
	compressor   compr.Compressor
}

func newExchangeSendSink(client rpc.WorkerClient, queryID execid.QueryID, senderIdx int, sink planfrag.Sink, destinations []planfrag.Destination, compression string) *exchangeSendSink {
	s := &exchangeSendSink{client: client, queryID: queryID, senderIdx: senderIdx, sink: sink, destinations: destinations, compression: compression}
	if compression != "" {
		s.compressor = compr.Compression(compression)
	}
	return s
}

func (s *exchangeSendSink) transmitTo(rt *executor.Runtime, d planfrag.Destination, wireBytes []byte, rawLen int) error {
	key := keyFor(s.queryID, d)
	req := &rpc.TransmitBatchRequest{Version: rpc.CurrentVersion, Key: key, SenderIdx: s.senderIdx, Batch: wireBytes, Compression: s.compression, RawLen: rawLen}
	res, err := s.client.TransmitBatch(rt.Context, d.WorkerAddr, req)
	if err != nil {
		return fmt.Errorf("worker: transmitting batch to %s: %w", d.WorkerAddr, err)
	}
	switch res.Code {
	case "ok":
		return nil
	case "closed":
		return nil // receiver already done; nothing further to send it
	case "cancelled":
		return fmt.Errorf("worker: destination %s cancelled the query", d.WorkerAddr)
	default:
		return fmt.Errorf("worker: destination %s rejected transmit: %s", d.WorkerAddr, res.Err)
	}
}

// encodeAndTransmit wire-encodes batch, applies the sink's configured
// compression if any, and transmits the result to d.
func (s *exchangeSendSink) encodeAndTransmit(rt *executor.Runtime, d planfrag.Destination, batch *rowbatch.Batch) error {
	raw := batch.ToWire()
	wireBytes := raw
	rawLen := 0
	if s.compressor != nil {
		wireBytes = s.compressor.Compress(raw, nil)
		rawLen = len(raw)
	}
	return s.transmitTo(rt, d, wireBytes, rawLen)
}

func (s *exchangeSendSink) Send(rt *executor.Runtime, batch *rowbatch.Batch) error {
	switch s.sink.Kind {
	case planfrag.BroadcastSink:
		for _, d := range s.destinations {
			if err := s.encodeAndTransmit(rt, d, batch); err != nil {
				return err
			}
		}
		return nil
	case planfrag.UnpartitionedSink:
		if len(s.destinations) == 0 {
			return fmt.Errorf("worker: unpartitioned sink has no destination")
		}
		return s.encodeAndTransmit(rt, s.destinations[0], batch)
	case planfrag.HashPartitionedSink:
		return s.sendHashPartitioned(rt, batch)
	default:
		return fmt.Errorf("worker: sink kind %d not handled by the exchange sink", s.sink.Kind)
	}
}

// sendHashPartitioned splits batch into one sub-batch per destination
// by hashing each row's partition-key column values, then transmits
// every non-empty sub-batch. A batch whose rows are already
// homogeneous in their key (the common case directly downstream of a
// blocking Aggregate) produces exactly one non-empty sub-batch.
func (s *exchangeSendSink) sendHashPartitioned(rt *executor.Runtime, batch *rowbatch.Batch) error {
	if len(s.destinations) == 0 {
		return fmt.Errorf("worker: hash-partitioned sink has no destinations")
	}
	schema := batch.Schema()
	keyCols, err := partitionKeyColumns(schema, s.sink.PartitionExprs)
	if err != nil {
		return err
	}
	numDest := len(s.destinations)
	out := make([]*rowbatch.Batch, numDest)
	for slot := 0; slot < batch.Count(); slot++ {
		key, err := rowPartitionKey(batch, slot, keyCols)
		if err != nil {
			return err
		}
		idx := scheduler.PartitionOf(key, numDest)
		if out[idx] == nil {
			out[idx] = rowbatch.NewBatch(schema, batch.Count(), 0)
		}
		if err := copyRow(batch, slot, out[idx]); err != nil {
			return err
		}
	}
	for idx, sub := range out {
		if sub == nil || sub.Count() == 0 {
			continue
		}
		if err := s.encodeAndTransmit(rt, s.destinations[idx], sub); err != nil {
			return err
		}
	}
	return nil
}

// partitionKeyColumns resolves a hash-partitioned sink's partition
// expressions to column indices in schema. PartitionExprs name plain
// output columns here, the same as Fragment.OutputPartitionCols.
func partitionKeyColumns(schema *rowbatch.Schema, exprs []string) ([]int, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("worker: hash-partitioned sink declares no partition key columns")
	}
	idxs := make([]int, len(exprs))
	for i, name := range exprs {
		found := -1
		for c, col := range schema.Columns {
			if col.Name == name {
				found = c
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("worker: partition key column %q not found in output schema", name)
		}
		idxs[i] = found
	}
	return idxs, nil
}

// rowPartitionKey serializes slot's key-column values into bytes
// suitable for scheduler.PartitionOf: a presence tag byte per column
// followed by a type-appropriate encoding of non-NULL values, so two
// rows sharing the same key columns always hash identically.
func rowPartitionKey(batch *rowbatch.Batch, slot int, keyCols []int) ([]byte, error) {
	schema := batch.Schema()
	var buf []byte
	for _, col := range keyCols {
		v, err := batch.GetColumn(slot, col)
		if err != nil {
			return nil, err
		}
		if v.Null {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		switch schema.Columns[col].Type {
		case rowbatch.Int64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.I64))
			buf = append(buf, b[:]...)
		case rowbatch.Float64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v.F64))
			buf = append(buf, b[:]...)
		case rowbatch.Bool:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case rowbatch.Bytes:
			buf = append(buf, v.Bytes...)
		default:
			return nil, fmt.Errorf("worker: unsupported partition key column type %d", schema.Columns[col].Type)
		}
	}
	return buf, nil
}

// copyRow appends src's row slot to dst, which must share src's schema.
func copyRow(src *rowbatch.Batch, slot int, dst *rowbatch.Batch) error {
	n := src.Schema().NumColumns()
	dstSlot := dst.AllocateTuple()
	if dstSlot < 0 {
		return fmt.Errorf("worker: destination partition batch unexpectedly full")
	}
	for col := 0; col < n; col++ {
		v, err := src.GetColumn(slot, col)
		if err != nil {
			return err
		}
		if err := dst.SetColumn(dstSlot, col, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *exchangeSendSink) Close() error {
	for _, d := range s.destinations {
		key := keyFor(s.queryID, d)
		req := &rpc.TransmitEOSRequest{Version: rpc.CurrentVersion, Key: key, SenderIdx: s.senderIdx}
		// best-effort: a destination that is gone or cancelled simply
		// never needed the eos marker
		_ = s.client.TransmitEOS(context.Background(), d.WorkerAddr, req)
	}
	return nil
}

func keyFor(queryID execid.QueryID, d planfrag.Destination) exchange.Key {
	return exchange.Key{QueryID: queryID, DestInstanceID: d.DestInstanceID, NodeID: d.NodeID}
}
