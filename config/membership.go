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

package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Worker is one entry of the cluster membership list: a host name and
// the address workers/coordinators dial to reach it.
type Worker struct {
	Host string `json:"host"`
	Addr string `json:"addr"`
}

// Membership is the human-edited cluster membership file. In
// production this module expects the actual membership list to arrive
// over a gossip subscription (an external collaborator); this file
// form exists for static clusters and for tests.
type Membership struct {
	Workers []Worker `json:"workers"`
}

// LoadMembershipFile reads and parses a YAML or JSON membership file.
func LoadMembershipFile(path string) (*Membership, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading membership file: %w", err)
	}
	var m Membership
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parsing membership file %s: %w", path, err)
	}
	return &m, nil
}

// HostAddr returns the dial address for host, or ("", false) if host
// is not a member.
func (m *Membership) HostAddr(host string) (string, bool) {
	for _, w := range m.Workers {
		if w.Host == host {
			return w.Addr, true
		}
	}
	return "", false
}
