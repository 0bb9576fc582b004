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

	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/planfrag"
	"github.com/aveek0218/distribsql/rowbatch"
	"github.com/aveek0218/distribsql/rpc"
	"github.com/aveek0218/distribsql/scheduler"
)

// recordingWorkerClient counts TransmitBatch calls per destination
// address, so tests can check
// which destinations a hash-partitioned sink actually used without
// standing up real RPC transport.
type recordingWorkerClient struct {
	transmits map[string]int // addr -> number of TransmitBatch calls
}

func newRecordingWorkerClient() *recordingWorkerClient {
	return &recordingWorkerClient{transmits: make(map[string]int)}
}

func (c *recordingWorkerClient) Prepare(ctx context.Context, addr string, req *rpc.PrepareRequest) error {
	return nil
}
func (c *recordingWorkerClient) Exec(ctx context.Context, addr string, req *rpc.InstanceRequest) error {
	return nil
}
func (c *recordingWorkerClient) Cancel(ctx context.Context, addr string, req *rpc.InstanceRequest) error {
	return nil
}
func (c *recordingWorkerClient) TransmitBatch(ctx context.Context, addr string, req *rpc.TransmitBatchRequest) (*rpc.TransmitResult, error) {
	c.transmits[addr]++
	return &rpc.TransmitResult{Code: "ok"}, nil
}
func (c *recordingWorkerClient) TransmitEOS(ctx context.Context, addr string, req *rpc.TransmitEOSRequest) error {
	return nil
}

func groupKeySchema() *rowbatch.Schema {
	return rowbatch.NewSchema(
		rowbatch.Column{Name: "k", Type: rowbatch.Int64},
		rowbatch.Column{Name: "v", Type: rowbatch.Int64},
	)
}

func destinationsFor(n int) []planfrag.Destination {
	dests := make([]planfrag.Destination, n)
	for i := range dests {
		dests[i] = planfrag.Destination{WorkerAddr: string(rune('a' + i)), DestInstanceID: execid.NewInstanceID(), NodeID: i}
	}
	return dests
}

// TestHashPartitionedSinkRoutesByKeyNotSequence verifies that two
// batches carrying the same key value route to the same destination,
// and that the routing matches scheduler.PartitionOf applied to the
// serialized key directly — i.e. the destination is a function of the
// row's data, not of how many batches have been sent so far.
func TestHashPartitionedSinkRoutesByKeyNotSequence(t *testing.T) {
	schema := groupKeySchema()
	dests := destinationsFor(4)

	makeBatch := func(key int64) *rowbatch.Batch {
		b := rowbatch.NewBatch(schema, 1, 0)
		slot := b.AllocateTuple()
		if err := b.SetColumn(slot, 0, rowbatch.Value{I64: key}); err != nil {
			t.Fatal(err)
		}
		if err := b.SetColumn(slot, 1, rowbatch.Value{I64: 7}); err != nil {
			t.Fatal(err)
		}
		return b
	}

	client := newRecordingWorkerClient()
	sink := newExchangeSendSink(client, execid.NewQueryID(), 0,
		planfrag.Sink{Kind: planfrag.HashPartitionedSink, PartitionExprs: []string{"k"}, NumPartitions: len(dests)},
		dests, "")

	rt := &executor.Runtime{Context: context.Background()}

	// Two batches with the same key must land on the same destination.
	if err := sink.Send(rt, makeBatch(42)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sink.Send(rt, makeBatch(42)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := dests[scheduler.PartitionOf(int64KeyBytes(t, 42), len(dests))].WorkerAddr
	got := 0
	for addr, n := range client.transmits {
		if addr != want && n != 0 {
			t.Fatalf("key 42 sent to unexpected destination %s (want %s); transmits=%v", addr, want, client.transmits)
		}
		got += n
	}
	if got != 2 {
		t.Fatalf("expected 2 transmits for repeated key 42, got %d (%v)", got, client.transmits)
	}
}

// TestHashPartitionedSinkSplitsMixedKeysAcrossDestinations verifies a
// single batch holding rows with different key values is split so
// each destination only receives the rows whose key hashes to it.
func TestHashPartitionedSinkSplitsMixedKeysAcrossDestinations(t *testing.T) {
	schema := groupKeySchema()
	dests := destinationsFor(4)

	b := rowbatch.NewBatch(schema, 8, 0)
	keys := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	for _, k := range keys {
		slot := b.AllocateTuple()
		if err := b.SetColumn(slot, 0, rowbatch.Value{I64: k}); err != nil {
			t.Fatal(err)
		}
		if err := b.SetColumn(slot, 1, rowbatch.Value{I64: k * 10}); err != nil {
			t.Fatal(err)
		}
	}

	client := newRecordingWorkerClient()
	sink := newExchangeSendSink(client, execid.NewQueryID(), 0,
		planfrag.Sink{Kind: planfrag.HashPartitionedSink, PartitionExprs: []string{"k"}, NumPartitions: len(dests)},
		dests, "")
	rt := &executor.Runtime{Context: context.Background()}

	if err := sink.Send(rt, b); err != nil {
		t.Fatalf("Send: %v", err)
	}

	total := 0
	for _, n := range client.transmits {
		total += n
	}
	if total == 0 {
		t.Fatal("expected at least one destination to receive a sub-batch")
	}
	if total == len(keys) {
		t.Fatalf("every row produced its own transmit call; expected rows to be grouped per destination sub-batch, got transmits=%v", client.transmits)
	}
}

func TestHashPartitionedSinkRequiresPartitionExprs(t *testing.T) {
	schema := groupKeySchema()
	dests := destinationsFor(2)
	b := rowbatch.NewBatch(schema, 1, 0)
	slot := b.AllocateTuple()
	_ = b.SetColumn(slot, 0, rowbatch.Value{I64: 1})
	_ = b.SetColumn(slot, 1, rowbatch.Value{I64: 1})

	client := newRecordingWorkerClient()
	sink := newExchangeSendSink(client, execid.NewQueryID(), 0,
		planfrag.Sink{Kind: planfrag.HashPartitionedSink, NumPartitions: len(dests)},
		dests, "")
	rt := &executor.Runtime{Context: context.Background()}

	if err := sink.Send(rt, b); err == nil {
		t.Fatal("expected an error for a hash-partitioned sink with no partition key columns")
	}
}

func int64KeyBytes(t *testing.T, k int64) []byte {
	t.Helper()
	schema := groupKeySchema()
	b := rowbatch.NewBatch(schema, 1, 0)
	slot := b.AllocateTuple()
	if err := b.SetColumn(slot, 0, rowbatch.Value{I64: k}); err != nil {
		t.Fatal(err)
	}
	if err := b.SetColumn(slot, 1, rowbatch.Value{I64: 0}); err != nil {
		t.Fatal(err)
	}
	key, err := rowPartitionKey(b, slot, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	return key
}
