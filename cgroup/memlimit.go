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

package cgroup

import (
	"os"
	"strconv"
	"strings"
)

// MemoryMax returns the byte limit set in this process's cgroup's
// memory.max file. It returns (0, false) if the process is not
// confined to a cgroup2 hierarchy or the limit is "max" (unlimited).
//
// memtrack.ProcessLimit uses it as its first choice of a default
// byte limit for a process-level tracker.
func MemoryMax() (int64, bool) {
	self, err := Self()
	if err != nil {
		return 0, false
	}
	raw, err := os.ReadFile(self.join("memory.max"))
	if err != nil {
		return 0, false
	}
	text := strings.TrimSpace(string(raw))
	if text == "max" || text == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
