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

package queryexec

import (
	"sync"

	"github.com/aveek0218/distribsql/executor"
	"github.com/aveek0218/distribsql/rowbatch"
)

// resultBuffer is the root fragment's sink on the coordinator: it
// implements executor.Sink and hands finished batches, wire-encoded,
// to whatever fetch call is waiting. It is deliberately unbounded on
// the producer side (the root instance always runs on the coordinator
// itself, so there is no network backpressure to apply here); a client
// that stops fetching simply leaves batches queued until close.
type resultBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	eos    bool
	closed bool
}

func newResultBuffer() *resultBuffer {
	b := &resultBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send implements executor.Sink.
func (b *resultBuffer) Send(rt *executor.Runtime, batch *rowbatch.Batch) error {
	wire := batch.ToWire()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errResultBufferClosed
	}
	b.queue = append(b.queue, wire)
	b.cond.Broadcast()
	return nil
}

// Close implements executor.Sink: it marks end of stream so a blocked
// fetch returns instead of waiting forever.
func (b *resultBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eos = true
	b.cond.Broadcast()
	return nil
}

// cancel unblocks any waiting fetch without producing more rows.
func (b *resultBuffer) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.eos = true
	b.cond.Broadcast()
}

// fetch drains up to maxBatches queued batches (the limit counts
// batches, not rows: a batch is the unit produced by Send) and reports whether end of stream has been reached. It blocks
// until at least one batch is queued, eos is reached, or cancel fires.
func (b *resultBuffer) fetch(maxBatches int) (batches [][]byte, eos bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.eos {
		b.cond.Wait()
	}
	if maxBatches <= 0 || maxBatches > len(b.queue) {
		maxBatches = len(b.queue)
	}
	batches = b.queue[:maxBatches]
	b.queue = b.queue[maxBatches:]
	return batches, b.eos && len(b.queue) == 0
}

var errResultBufferClosed = resultBufferClosedErr{}

type resultBufferClosedErr struct{}

func (resultBufferClosedErr) Error() string { return "queryexec: result buffer closed" }
