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

// Package memtrack implements the per-process, per-query, and
// per-fragment-instance memory tracker tree. Every allocator in the
// system consults its tracker with TryConsume before allocating and
// reports usage up the parent chain.
package memtrack

import (
	"sync"
	"sync/atomic"
)

// Tracker is one node in a tree of byte counters. The zero value is
// not usable; construct with NewRoot or Tracker.NewChild.
//
// consumption and peak are atomic counters, so Release and the
// Consumption/PeakConsumption readers take no lock; TryConsume holds
// the mutex of every tracker on its path while it checks limits and
// charges, so a concurrent SetLimit cannot race a checked limit.
type Tracker struct {
	label string
	limit int64 // <=0 means unlimited
	mu    sync.Mutex

	consumption int64
	peak        int64

	parent   *Tracker
	children sync.Map // int64 id -> *Tracker, for enumeration/debugging only
	nextID   int64
}

// NewRoot creates a process-level tracker with an optional byte
// limit. A limit of 0 means unlimited, matching the mem_limit=0
// query option semantics.
func NewRoot(label string, limit int64) *Tracker {
	return &Tracker{label: label, limit: limit}
}

// NewChild creates a child tracker whose consumption is also charged
// to every ancestor up to the root. A limit of 0 means unlimited at
// this node (ancestor limits still apply).
func (t *Tracker) NewChild(label string, limit int64) *Tracker {
	c := &Tracker{label: label, limit: limit, parent: t}
	id := atomic.AddInt64(&t.nextID, 1)
	t.children.Store(id, c)
	return c
}

// Label returns the name this tracker surfaces in MemLimitExceeded errors.
func (t *Tracker) Label() string { return t.label }

// Limit returns the tracker's local byte limit, or 0 if unlimited.
func (t *Tracker) Limit() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// SetLimit changes the tracker's local limit. A limit of 0 means unlimited.
func (t *Tracker) SetLimit(limit int64) {
	t.mu.Lock()
	t.limit = limit
	t.mu.Unlock()
}

// Consumption returns the tracker's current accounted bytes,
// including everything charged by its descendants.
func (t *Tracker) Consumption() int64 { return atomic.LoadInt64(&t.consumption) }

// PeakConsumption returns the tracker's high-water mark.
func (t *Tracker) PeakConsumption() int64 { return atomic.LoadInt64(&t.peak) }

// chain walks from t to the root, inclusive, returning the path in
// leaf-to-root order. It is allocated on every call by design: the
// call sites are try_consume/release, not a hot per-batch path.
func (t *Tracker) chain() []*Tracker {
	var path []*Tracker
	for n := t; n != nil; n = n.parent {
		path = append(path, n)
	}
	return path
}

// TryConsume attempts to account n additional bytes to t and every
// ancestor. If any ancestor's limit would be exceeded, no tracker on
// the path is modified and TryConsume returns false along with the
// label of the first (closest-to-leaf) tracker whose limit failed.
func (t *Tracker) TryConsume(n int64) (ok bool, failedLabel string) {
	if n == 0 {
		return true, ""
	}
	path := t.chain()
	// check bottom-up under each tracker's own lock so a concurrent
	// SetLimit cannot race a checked-then-violated limit.
	locked := make([]*Tracker, 0, len(path))
	defer func() {
		for _, n := range locked {
			n.mu.Unlock()
		}
	}()
	for _, node := range path {
		node.mu.Lock()
		locked = append(locked, node)
		cur := atomic.LoadInt64(&node.consumption)
		if node.limit > 0 && cur+n > node.limit {
			return false, node.label
		}
	}
	for _, node := range path {
		v := atomic.AddInt64(&node.consumption, n)
		for {
			peak := atomic.LoadInt64(&node.peak)
			if v <= peak || atomic.CompareAndSwapInt64(&node.peak, peak, v) {
				break
			}
		}
	}
	return true, ""
}

// Release is infallible and walks the same path as TryConsume,
// decrementing every tracker's consumption by n.
func (t *Tracker) Release(n int64) {
	if n == 0 {
		return
	}
	for _, node := range t.chain() {
		atomic.AddInt64(&node.consumption, -n)
	}
}

// AnyLimitExceeded is a conservative query, intended for periodic
// checks, that reports whether any tracker from t to the root is
// currently over its own limit.
func (t *Tracker) AnyLimitExceeded() bool {
	for _, node := range t.chain() {
		node.mu.Lock()
		lim := node.limit
		node.mu.Unlock()
		if lim > 0 && atomic.LoadInt64(&node.consumption) > lim {
			return true
		}
	}
	return false
}
