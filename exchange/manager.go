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
	"encoding/binary"
	"fmt"
	"hash/maphash"
	"sync"

	"github.com/aveek0218/distribsql/execid"
	"github.com/aveek0218/distribsql/profile"
)

const shardCount = 16

// Manager is the single process-wide registry of receivers, guarded
// by fine-grained per-shard locking rather than one global lock so
// that unrelated queries never contend on the same mutex.
type Manager struct {
	seed   maphash.Seed
	shards [shardCount]struct {
		mu   sync.RWMutex
		recv map[Key]*Receiver
	}
}

// NewManager constructs an empty receiver registry.
func NewManager() *Manager {
	m := &Manager{seed: maphash.MakeSeed()}
	for i := range m.shards {
		m.shards[i].recv = make(map[Key]*Receiver)
	}
	return m
}

func (m *Manager) shard(k Key) *struct {
	mu   sync.RWMutex
	recv map[Key]*Receiver
} {
	var h maphash.Hash
	h.SetSeed(m.seed)
	h.Write(k.QueryID[:])
	h.Write(k.DestInstanceID[:])
	var nodeIDBytes [8]byte
	binary.BigEndian.PutUint64(nodeIDBytes[:], uint64(k.NodeID))
	h.Write(nodeIDBytes[:])
	return &m.shards[h.Sum64()%shardCount]
}

// CreateReceiver registers and returns a new receiver for key. It is
// the caller's responsibility to ensure key is not already present;
// a duplicate create replaces the prior entry.
func (m *Manager) CreateReceiver(key Key, numSenders int, bufferBytes int64, prof *profile.Node) *Receiver {
	r := NewReceiver(key, numSenders, bufferBytes, prof)
	s := m.shard(key)
	s.mu.Lock()
	s.recv[key] = r
	s.mu.Unlock()
	return r
}

// Lookup returns the receiver registered for key, if any.
func (m *Manager) Lookup(key Key) (*Receiver, bool) {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recv[key]
	return r, ok
}

// Remove drops key from the registry, e.g. once its consumer calls Close.
func (m *Manager) Remove(key Key) {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.recv, key)
	s.mu.Unlock()
}

// Transmit delivers batchBytes from sender senderIdx to the receiver
// named by key, blocking until queue space is available. It is the
// worker-side handler for the coordinator's transmit_batch RPC.
func (m *Manager) Transmit(key Key, senderIdx int, batchBytes []byte) error {
	r, ok := m.Lookup(key)
	if !ok {
		return fmt.Errorf("exchange: no receiver registered for %+v", key)
	}
	return r.push(senderIdx, batchBytes)
}

// TransmitEndOfStream delivers the closed marker for senderIdx. It is
// idempotent within a query.
func (m *Manager) TransmitEndOfStream(key Key, senderIdx int) error {
	r, ok := m.Lookup(key)
	if !ok {
		return fmt.Errorf("exchange: no receiver registered for %+v", key)
	}
	r.closeSender(senderIdx)
	return nil
}

// Cancel marks every receiver belonging to queryID cancelled. Blocked
// pushes and fetches unblock with ErrQueryCancelled; further transmits
// return ErrQueryCancelled at once without queuing their batch, so no
// sender blocks.
func (m *Manager) Cancel(queryID execid.QueryID) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		var hit []*Receiver
		for k, r := range s.recv {
			if k.QueryID == queryID {
				hit = append(hit, r)
			}
		}
		s.mu.RUnlock()
		for _, r := range hit {
			r.cancel()
		}
	}
}
