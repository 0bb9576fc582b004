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

package memtrack

import (
	"fmt"
	"os"
	"runtime"

	"github.com/aveek0218/distribsql/cgroup"
)

// hostMemTotal is the total usable DRAM, read once from
// /proc/meminfo on Linux. It remains zero on other platforms.
var hostMemTotal int64

func init() {
	if runtime.GOOS != "linux" {
		return
	}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()
	for {
		var kb int64
		n, err := fmt.Fscanf(f, "MemTotal: %d kB\n", &kb)
		if err != nil {
			return
		}
		if n > 0 {
			hostMemTotal = kb * 1024
			return
		}
	}
}

// ProcessLimit returns a default byte limit for a process-level
// tracker: the cgroup memory.max if the process is confined to one,
// otherwise 80% of total host DRAM, otherwise 0 (unlimited). The
// workerd and coordinatord daemons do not call it; their root
// tracker's limit is their -mem-limit flag.
func ProcessLimit() int64 {
	if lim, ok := cgroup.MemoryMax(); ok {
		return lim
	}
	if hostMemTotal > 0 {
		// leave headroom for the runtime, page cache, and other tenants.
		return hostMemTotal * 8 / 10
	}
	return 0
}
