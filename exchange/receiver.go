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

// Package exchange is the tuple-stream shuffle fabric: a per-worker
// registry of receivers keyed by (query_id, dest_instance_id, node_id)
// that accepts backpressured transmits from remote senders.
package exchange

import (
	"context"
	"errors"
	"sync"

	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/profile"
)

// Key identifies a receiver: together the three fields form the
// lookup used by both create_receiver and every transmit.
type Key struct {
	QueryID        execid.QueryID
	DestInstanceID execid.InstanceID
	NodeID         int
}

type receiverState int

const (
	stateOpen receiverState = iota
	stateDraining
	stateClosed
)

// ErrReceiverClosed is returned to a sender whose transmit targets a
// receiver that has already closed.
var ErrReceiverClosed = errors.New("exchange: receiver closed")

// ErrQueryCancelled is returned to callers once a receiver has
// observed cancellation.
var ErrQueryCancelled = errors.New("exchange: query cancelled")

// pendingBatch is one queued transmit, tagged with its sender for the
// strictly-increasing-per-sender-sequence testable property.
type pendingBatch struct {
	senderIdx int
	seq       int64
	bytes     []byte
}

// Receiver is the receiving side of one sender-group-to-instance
// shuffle edge. Its queue is bounded in bytes, not batch count, and
// guarded by a dedicated mutex+condvar pair so producers and the
// consumer can block independently of every other receiver.
type Receiver struct {
	key Key

	mu   sync.Mutex
	cond *sync.Cond

	state       receiverState
	cancelled   bool
	bufferBytes int64
	queueBytes  int64
	queue       []pendingBatch

	numSenders    int
	closedSenders map[int]bool
	nextSeq       []int64 // per-sender next sequence number to stamp on a queued batch

	profile *profile.Node
}

// NewReceiver constructs a receiver for key, expecting numSenders
// distinct senders to eventually transmit or close. A receiver with
// numSenders == 0 starts already draining: it has nothing to wait for.
func NewReceiver(key Key, numSenders int, bufferBytes int64, prof *profile.Node) *Receiver {
	r := &Receiver{
		key:           key,
		bufferBytes:   bufferBytes,
		numSenders:    numSenders,
		closedSenders: make(map[int]bool, numSenders),
		nextSeq:       make([]int64, numSenders),
		profile:       prof,
		state:         stateOpen,
	}
	r.cond = sync.NewCond(&r.mu)
	if numSenders == 0 {
		r.state = stateDraining
	}
	return r
}

// Key returns the receiver's lookup key.
func (r *Receiver) Key() Key { return r.key }

// push is called by the manager on a transmit. It blocks until there
// is room in the byte-bounded queue, the receiver closes, or the
// query is cancelled.
func (r *Receiver) push(senderIdx int, batch []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.queueBytes+int64(len(batch)) > r.bufferBytes && r.queueBytes > 0 {
		if r.state == stateClosed {
			return ErrReceiverClosed
		}
		if r.cancelled {
			return ErrQueryCancelled
		}
		r.cond.Wait()
	}
	if r.state == stateClosed {
		return ErrReceiverClosed
	}
	if r.cancelled {
		return ErrQueryCancelled
	}
	seq := r.nextSeq[senderIdx]
	r.nextSeq[senderIdx]++
	r.queue = append(r.queue, pendingBatch{senderIdx: senderIdx, seq: seq, bytes: batch})
	r.queueBytes += int64(len(batch))
	if r.profile != nil {
		r.profile.Counter("BytesReceived", profile.Bytes).Add(int64(len(batch)))
	}
	r.cond.Broadcast()
	return nil
}

// closeSender records the end-of-stream marker for one sender. It is
// idempotent: closing an already-closed sender index is a no-op.
func (r *Receiver) closeSender(senderIdx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closedSenders[senderIdx] {
		return
	}
	r.closedSenders[senderIdx] = true
	if len(r.closedSenders) >= r.numSenders {
		r.state = stateDraining
	}
	r.cond.Broadcast()
}

// cancel marks the receiver cancelled; blocked pushes and gets return
// ErrQueryCancelled, and further transmits return ErrQueryCancelled at
// once without queuing their batch, so no sender blocks.
func (r *Receiver) cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// GetBatch blocks until a batch is available, every sender has closed
// (eos == true, err == nil), the query is cancelled (err set), or ctx
// is done.
func (r *Receiver) GetBatch(ctx context.Context) (batch []byte, eos bool, err error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.cancelled {
			return nil, false, ErrQueryCancelled
		}
		if len(r.queue) > 0 {
			pb := r.queue[0]
			r.queue = r.queue[1:]
			r.queueBytes -= int64(len(pb.bytes))
			r.cond.Broadcast()
			return pb.bytes, false, nil
		}
		if r.state == stateDraining {
			r.state = stateClosed
			return nil, true, nil
		}
		if r.state == stateClosed {
			return nil, true, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		r.cond.Wait()
	}
}

// Close marks the receiver done; any sender currently blocked in push
// observes ErrReceiverClosed and may discard its batch.
func (r *Receiver) Close() {
	r.mu.Lock()
	r.state = stateClosed
	r.cond.Broadcast()
	r.mu.Unlock()
}
