// Copyright (C) 2024 The ShardSQL Authors.
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

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/shardsql/core/transport"
)

// Config is coordinatord's static configuration file: pool sizes, the
// default statement timeout applied to a session that doesn't set its
// own, and this node's transport identity/peers. Parsed with
// sigs.k8s.io/yaml so operators can write either YAML or JSON
// (sigs.k8s.io/yaml round-trips through encoding/json, unlike
// gopkg.in/yaml.v2, so the same struct tags serve both).
type Config struct {
	// Pools names the concurrent.Pool sizes for this node's worker
	// pools, keyed by name (spec.md §5: LOGICAL_REPLICATION, WRITE,
	// MANAGEMENT).
	Pools map[string]int `json:"pools"`

	// StatementTimeoutDefault applies to a session whose client never
	// sets statement_timeout explicitly.
	StatementTimeoutDefault time.Duration `json:"statementTimeoutDefault"`

	// WriteParallel bounds jobexec.ExecuteBulk's fan-out per Session.Flush.
	WriteParallel int `json:"writeParallel"`

	// NodeID is this node's own identity in the transport node-id
	// space (jobexec.Phase.NodeIDs / transport.NodeID).
	NodeID string `json:"nodeID"`

	// Listen is the address this node's transport.Server accepts
	// inbound phase requests on.
	Listen string `json:"listen"`

	// KeyHex is the hex-encoded transport.Key shared by every node in
	// the cluster, authenticating the handshake.
	KeyHex string `json:"keyHex"`

	// Peers maps a peer node ID to its dial address.
	Peers map[string]PeerConfig `json:"peers"`
}

// PeerConfig is one entry of Config.Peers.
type PeerConfig struct {
	Net     string        `json:"net"`
	Addr    string        `json:"addr"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultPools supplies the size of every pool that a config's pools
// section does not set (all of them when the section is omitted).
var DefaultPools = map[string]int{
	"LOGICAL_REPLICATION": 4,
	"WRITE":               8,
	"MANAGEMENT":          1,
}

// LoadConfig reads and parses a YAML (or JSON) config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coordinatord: reading config %s: %w", path, err)
	}
	pools := make(map[string]int, len(DefaultPools))
	for name, size := range DefaultPools {
		pools[name] = size
	}
	cfg := &Config{Pools: pools, WriteParallel: 4}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("coordinatord: parsing config %s: %w", path, err)
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("coordinatord: config %s: nodeID is required", path)
	}
	if cfg.Listen == "" {
		return nil, fmt.Errorf("coordinatord: config %s: listen is required", path)
	}
	return cfg, nil
}

// key decodes the configured hex key, or returns the zero Key if none
// was set (valid for tests and single-node deployments).
func (c *Config) key() (transport.Key, error) {
	var key transport.Key
	if c.KeyHex == "" {
		return key, nil
	}
	b, err := hex.DecodeString(c.KeyHex)
	if err != nil {
		return key, fmt.Errorf("coordinatord: keyHex: %w", err)
	}
	if len(b) != len(key) {
		return key, fmt.Errorf("coordinatord: keyHex: want %d bytes, got %d", len(key), len(b))
	}
	copy(key[:], b)
	return key, nil
}

// peers converts the config's peer map to the form transport.Dispatcher
// expects.
func (c *Config) peers() map[transport.NodeID]transport.Peer {
	out := make(map[transport.NodeID]transport.Peer, len(c.Peers))
	for id, p := range c.Peers {
		net := p.Net
		if net == "" {
			net = "tcp"
		}
		out[transport.NodeID(id)] = transport.Peer{
			ID:      transport.NodeID(id),
			Net:     net,
			Addr:    p.Addr,
			Timeout: p.Timeout,
		}
	}
	return out
}
