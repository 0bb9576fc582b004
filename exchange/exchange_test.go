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

package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/aveek0218/distribsql/execid"
)

func testKey() Key {
	return Key{QueryID: execid.NewQueryID(), DestInstanceID: execid.NewInstanceID(), NodeID: 0}
}

func TestZeroSendersOpensAndReportsEOS(t *testing.T) {
	m := NewManager()
	key := testKey()
	r := m.CreateReceiver(key, 0, 1024, nil)
	_, eos, err := r.GetBatch(context.Background())
	if err != nil || !eos {
		t.Fatalf("eos = %v, err = %v, want eos=true err=nil", eos, err)
	}
}

func TestTransmitThenGetBatchInOrder(t *testing.T) {
	m := NewManager()
	key := testKey()
	r := m.CreateReceiver(key, 1, 1024, nil)

	if err := m.Transmit(key, 0, []byte("batch-1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Transmit(key, 0, []byte("batch-2")); err != nil {
		t.Fatal(err)
	}
	if err := m.TransmitEndOfStream(key, 0); err != nil {
		t.Fatal(err)
	}

	b1, eos, err := r.GetBatch(context.Background())
	if err != nil || eos || string(b1) != "batch-1" {
		t.Fatalf("first batch = %q eos=%v err=%v", b1, eos, err)
	}
	b2, eos, err := r.GetBatch(context.Background())
	if err != nil || eos || string(b2) != "batch-2" {
		t.Fatalf("second batch = %q eos=%v err=%v", b2, eos, err)
	}
	_, eos, err = r.GetBatch(context.Background())
	if err != nil || !eos {
		t.Fatalf("expected eos after both sends and close, got eos=%v err=%v", eos, err)
	}
}

func TestTransmitBlocksUntilSpaceThenBackpressureReleases(t *testing.T) {
	m := NewManager()
	key := testKey()
	r := m.CreateReceiver(key, 1, 8, nil) // tiny buffer

	if err := m.Transmit(key, 0, []byte("12345678")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Transmit(key, 0, []byte("x")) }()

	select {
	case <-done:
		t.Fatal("second transmit should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	if _, _, err := r.GetBatch(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("second transmit never unblocked after space freed")
	}
}

func TestCancelUnblocksPendingTransmitAndFetch(t *testing.T) {
	m := NewManager()
	key := testKey()
	r := m.CreateReceiver(key, 1, 4, nil)
	m.Transmit(key, 0, []byte("1234"))

	done := make(chan error, 1)
	go func() { done <- m.Transmit(key, 0, []byte("more")) }()
	time.Sleep(20 * time.Millisecond)

	m.Cancel(key.QueryID)

	select {
	case err := <-done:
		if err != ErrQueryCancelled {
			t.Fatalf("err = %v, want ErrQueryCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock pending transmit")
	}

	if _, _, err := r.GetBatch(context.Background()); err != ErrQueryCancelled {
		t.Fatalf("GetBatch after cancel = %v, want ErrQueryCancelled", err)
	}
}

func TestCloseUnblocksPendingTransmit(t *testing.T) {
	m := NewManager()
	key := testKey()
	r := m.CreateReceiver(key, 1, 4, nil)
	m.Transmit(key, 0, []byte("1234"))

	done := make(chan error, 1)
	go func() { done <- m.Transmit(key, 0, []byte("more")) }()
	time.Sleep(20 * time.Millisecond)

	r.Close()

	select {
	case err := <-done:
		if err != ErrReceiverClosed {
			t.Fatalf("err = %v, want ErrReceiverClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock pending transmit")
	}
}

func TestGetBatchRespectsContextCancellation(t *testing.T) {
	m := NewManager()
	key := testKey()
	r := m.CreateReceiver(key, 1, 1024, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := r.GetBatch(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
