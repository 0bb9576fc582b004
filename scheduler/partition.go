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

package scheduler

import "github.com/dchest/siphash"

// partitionKey0/partitionKey1 are fixed random siphash keys, matching
// the source's locality-placement hash (two constant 64-bit keys
// rather than a per-process random seed, so placement is reproducible
// across coordinator restarts).
const (
	partitionKey0 = uint64(0x5d1ec810)
	partitionKey1 = uint64(0xfebed702)
)

// PartitionOf returns which of numPartitions a hash-partitioned
// exchange sink should route key to: the siphash of key modulo
// numPartitions. Scan-range assignment does not use it; AssignScanRanges
// places ranges round-robin.
func PartitionOf(key []byte, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	h := siphash.Hash(partitionKey0, partitionKey1, key)
	return int(h % uint64(numPartitions))
}
