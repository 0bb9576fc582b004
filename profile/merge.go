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

package profile

// Merge combines other into n: matching Bytes/TimeNanos counters sum,
// matching HighWater counters take the larger value, matching
// TimeSeries counters concatenate, Derived counters are skipped
// (they are local to the node that defined the callback), info
// strings upsert with other's value winning, and children are
// matched and merged recursively by name (an unmatched child of
// other is appended, preserving its insertion order).
//
// Merge remembers the identity (pointer) of every source node it has
// already applied and is a no-op on a repeat: n.Merge(p).Merge(p)
// leaves n identical to a single n.Merge(p). Two distinct nodes with
// equal contents, such as two decodings of the same status report,
// are both applied.
func (n *Node) Merge(other *Node) {
	n.mu.Lock()
	if n.mergedFrom == nil {
		n.mergedFrom = make(map[*Node]bool)
	}
	if n.mergedFrom[other] {
		n.mu.Unlock()
		return
	}
	n.mergedFrom[other] = true
	n.mu.Unlock()

	for _, oc := range other.Counters() {
		nc := n.Counter(oc.Name, oc.Kind)
		switch oc.Kind {
		case Bytes, TimeNanos:
			nc.Add(oc.Value())
		case HighWater:
			nc.Set(oc.Value())
		case TimeSeries:
			for _, s := range oc.Samples() {
				nc.Sample(s)
			}
		case Derived:
			// local to its defining node; nothing to combine.
		}
	}

	for _, kv := range other.InfoStrings() {
		n.SetInfoString(kv.Key, kv.Value)
	}

	for _, oChild := range other.Children() {
		n.Child(oChild.Name).Merge(oChild)
	}
}
