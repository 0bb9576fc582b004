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

// Package profile implements the runtime profile: a hierarchical tree
// of named counters attached to every operator and fragment, mutated
// in place during execution and merged across workers at the
// coordinator.
package profile

import "sync"

// CounterKind selects a counter's merge behavior.
type CounterKind int

const (
	// Bytes is a monotonically increasing byte count; matching
	// counters sum on merge.
	Bytes CounterKind = iota
	// TimeNanos is a monotonically increasing nanosecond duration;
	// matching counters sum on merge.
	TimeNanos
	// HighWater is a maximum-so-far value; matching counters take
	// the larger value on merge.
	HighWater
	// Derived is computed on read from a callback rather than stored;
	// it is local to the node that defined it and is not merged.
	Derived
	// TimeSeries is an ordered list of samples; matching counters
	// concatenate on merge.
	TimeSeries
)

// Counter is one named measurement in a profile Node.
type Counter struct {
	Name string
	Kind CounterKind

	mu      sync.Mutex
	value   int64
	derive  func() int64
	samples []int64
}

// Add increments a Bytes or TimeNanos counter by delta.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

// Set records a new sample for a HighWater counter, keeping the
// larger of the current value and v.
func (c *Counter) Set(v int64) {
	c.mu.Lock()
	if v > c.value {
		c.value = v
	}
	c.mu.Unlock()
}

// Sample appends a reading to a TimeSeries counter.
func (c *Counter) Sample(v int64) {
	c.mu.Lock()
	c.samples = append(c.samples, v)
	c.mu.Unlock()
}

// Value returns the counter's current value: the stored value for
// Bytes/TimeNanos/HighWater, the callback's result for Derived, or
// the most recent sample for TimeSeries (0 if no samples yet).
func (c *Counter) Value() int64 {
	if c.Kind == Derived {
		if c.derive == nil {
			return 0
		}
		return c.derive()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Kind == TimeSeries {
		if len(c.samples) == 0 {
			return 0
		}
		return c.samples[len(c.samples)-1]
	}
	return c.value
}

// Samples returns a copy of a TimeSeries counter's recorded values.
func (c *Counter) Samples() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.samples))
	copy(out, c.samples)
	return out
}

// Node is one labelled point in the profile tree: a fragment, an
// operator, or any other executable unit the caller wants to measure.
type Node struct {
	Name string

	mu         sync.Mutex
	counters   []*Counter
	counterIdx map[string]int
	infoOrder  []string
	infoVal    map[string]string
	children   []*Node
	childIdx   map[string]int
	mergedFrom map[*Node]bool
}

// NewNode creates a detached profile node.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Child returns the named child, creating it (and recording its
// insertion order) if it does not already exist.
func (n *Node) Child(name string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.childIdx == nil {
		n.childIdx = make(map[string]int)
	}
	if i, ok := n.childIdx[name]; ok {
		return n.children[i]
	}
	c := NewNode(name)
	n.childIdx[name] = len(n.children)
	n.children = append(n.children, c)
	return c
}

// Children returns the node's children in insertion order.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Counter returns the named counter of the given kind, creating it if
// it does not already exist at this node. Adding a counter is
// idempotent on its (node, name) key: a second call with the same
// name returns the counter created by the first call, regardless of
// the kind argument on the second call.
func (n *Node) Counter(name string, kind CounterKind) *Counter {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.counterIdx == nil {
		n.counterIdx = make(map[string]int)
	}
	if i, ok := n.counterIdx[name]; ok {
		return n.counters[i]
	}
	c := &Counter{Name: name, Kind: kind}
	n.counterIdx[name] = len(n.counters)
	n.counters = append(n.counters, c)
	return c
}

// DerivedCounter registers a Derived counter computed by fn on every read.
func (n *Node) DerivedCounter(name string, fn func() int64) *Counter {
	c := n.Counter(name, Derived)
	c.derive = fn
	return c
}

// Counters returns the node's own counters in insertion order.
func (n *Node) Counters() []*Counter {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Counter, len(n.counters))
	copy(out, n.counters)
	return out
}

// SetInfoString upserts a keyed info string: a later call with the
// same key overrides the value but keeps the key's original position
// in iteration order.
func (n *Node) SetInfoString(key, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.infoVal == nil {
		n.infoVal = make(map[string]string)
	}
	if _, ok := n.infoVal[key]; !ok {
		n.infoOrder = append(n.infoOrder, key)
	}
	n.infoVal[key] = value
}

// InfoStrings returns the node's info strings as ordered key/value pairs.
func (n *Node) InfoStrings() []KV {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]KV, len(n.infoOrder))
	for i, k := range n.infoOrder {
		out[i] = KV{Key: k, Value: n.infoVal[k]}
	}
	return out
}

// KV is an ordered info-string entry.
type KV struct{ Key, Value string }
