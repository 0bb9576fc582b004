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

// Package queryexec implements the client-facing exec/wait/fetch_rows/close
// handle that multiplexes the fetch protocol over a coordinator's output,
// the last of the dependency-ordered components: everything below it
// (coordinator, scheduler, exchange fabric, executor, plan fragments,
// profile, row batches, memory tracking) is driven through this handle.
package queryexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aveek0218/distribsql/coordinator"
	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/status"
)

// Handle is one submitted query's client-visible lifecycle: the
// exec/wait/fetch_rows/close operations, a single-writer/single-reader
// lock around fetch (only one fetch call may be in flight at a time,
// matching a client's own single-threaded cursor use), a reference
// count plus last-active timestamp driving idle expiration, and a
// sticky end-of-stream flag once the root sink has closed.
type Handle struct {
	QueryID execid.QueryID

	coord   *coordinator.Coordinator
	query   *coordinator.Query
	buffer  *resultBuffer
	idleTTL time.Duration

	fetchMu sync.Mutex // single-writer/single-reader: one fetch in flight

	mu         sync.Mutex
	refCount   int
	lastActive time.Time
	eos        bool
	closed     bool
}

func newHandle(coord *coordinator.Coordinator, queryID execid.QueryID, query *coordinator.Query, buffer *resultBuffer, idleTTL time.Duration) *Handle {
	return &Handle{
		QueryID:    queryID,
		coord:      coord,
		query:      query,
		buffer:     buffer,
		idleTTL:    idleTTL,
		refCount:   1,
		lastActive: time.Now(),
	}
}

func (h *Handle) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

// Idle reports whether the handle has seen no fetch activity for its
// configured idle timeout; a zero idleTTL disables idle expiration.
func (h *Handle) Idle(now time.Time) bool {
	if h.idleTTL <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Sub(h.lastActive) >= h.idleTTL
}

// Wait blocks until every fragment instance of the query has reported
// done, the context expires, or the query is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	return h.query.Wait(ctx)
}

// FetchRows returns up to maxBatches wire-encoded row batches (batch
// granularity, matching resultBuffer.fetch) plus whether end of
// stream has been reached. EOS is sticky: once observed true it stays
// true for every subsequent call. Only one FetchRows call may be in
// flight at a time.
func (h *Handle) FetchRows(ctx context.Context, maxBatches int) (batches [][]byte, eos bool, st status.Status, err error) {
	h.fetchMu.Lock()
	defer h.fetchMu.Unlock()
	h.touch()

	h.mu.Lock()
	if h.eos {
		h.mu.Unlock()
		return nil, true, h.query.Status(), nil
	}
	h.mu.Unlock()

	done := make(chan struct{})
	var gotBatches [][]byte
	var gotEOS bool
	go func() {
		gotBatches, gotEOS = h.buffer.fetch(maxBatches)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, false, status.Ok, ctx.Err()
	}

	if gotEOS {
		h.mu.Lock()
		h.eos = true
		h.mu.Unlock()
	}
	return gotBatches, gotEOS, h.query.Status(), nil
}

// Retain increments the handle's reference count; used when more than
// one session concurrently references the same query id (unusual, but
// matches the coordinator's invariant that close is only truly
// destructive at zero references).
func (h *Handle) Retain() {
	h.mu.Lock()
	h.refCount++
	h.mu.Unlock()
}

// Release decrements the reference count and reports whether it
// reached zero, meaning the caller should proceed to tear the handle
// down.
func (h *Handle) Release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refCount--
	return h.refCount <= 0
}

// Close cancels the underlying query, unblocks any in-flight fetch,
// and releases the coordinator's bookkeeping for it. It is idempotent.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.buffer.cancel()
	err := h.coord.Cancel(ctx, h.QueryID)
	h.coord.Forget(h.QueryID)
	if err != nil {
		return fmt.Errorf("queryexec: closing query %s: %w", h.QueryID, err)
	}
	return nil
}
