/*
Copyright (C) 2026  kvmesh contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config holds the mutable runtime settings, grounded on
// storage/settings.go's SettingsT/Settings/InitSettings shape but kept in
// a per-node Manager instead of a package-level variable. Byte-size fields (segment/buffer thresholds) parse human strings
// ("64MB") via docker/go-units rather than requiring raw integers, and the
// config file is watched for hot reload via fsnotify, matching the
// teacher's practice of registering cleanup through dc0d/onexit.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dc0d/onexit"
	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
)

// Settings is the full set of runtime-tunable parameters for one kvmesh
// node. Fields map directly onto spec.md's per-module option groups.
type Settings struct {
	NodeID   uint64 `json:"node_id"`
	ShardCount int  `json:"shard_count"`

	// persistence / object store
	ObjectStoreKind     string `json:"object_store_kind"` // "localfs", "s3", "ceph", "simulated"
	LocalFSPath         string `json:"localfs_path"`
	S3Bucket            string `json:"s3_bucket"`
	S3Region            string `json:"s3_region"`
	S3Endpoint          string `json:"s3_endpoint"`
	S3ForcePathStyle    bool   `json:"s3_force_path_style"`
	CephConfigFile      string `json:"ceph_config_file"`
	CephPool            string `json:"ceph_pool"`
	SegmentMaxBytes     string `json:"segment_max_bytes"`     // parsed via go-units, e.g. "64MB"
	WriteBufferMaxBytes string `json:"write_buffer_max_bytes"`
	WriteBufferMaxAgeMs int64  `json:"write_buffer_max_age_ms"` // seal a non-empty buffer even under threshold once this old
	CompactionInterval  string `json:"compaction_interval"`     // duration string, e.g. "5m"
	CompactionMaxInFlight int  `json:"compaction_max_in_flight"`

	// replication
	GossipFanout      int      `json:"gossip_fanout"`
	GossipInterval    string   `json:"gossip_interval"`
	AntiEntropyPeriod string   `json:"anti_entropy_period"`
	HotKeyThreshold   uint32   `json:"hot_key_threshold"` // count-min estimate per decay window
	HotKeyRFBase      int      `json:"hot_key_rf_base"`
	HotKeyRFMax       int      `json:"hot_key_rf_max"`
	HotKeyDecayPeriod string   `json:"hot_key_decay_period"`
	PeerAddrs         []string `json:"peer_addrs"` // ws://host:port of other cluster members
	PeerListenAddr    string   `json:"peer_listen_addr"`

	// server
	ListenAddr string `json:"listen_addr"`

	// logging
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
}

// Default returns the baseline configuration applied before any config
// file override, mirroring the teacher's pre-populated Settings package
// var. Environment variables are not consulted.
func Default() Settings {
	return Settings{
		NodeID:              1,
		ShardCount:          16,
		ObjectStoreKind:     "localfs",
		LocalFSPath:         "./data",
		SegmentMaxBytes:     "64MB",
		WriteBufferMaxBytes: "8MB",
		WriteBufferMaxAgeMs: 1000,
		CompactionInterval:  "5m",
		CompactionMaxInFlight: 4,
		GossipFanout:        3,
		GossipInterval:      "200ms",
		AntiEntropyPeriod:   "30s",
		HotKeyThreshold:     1000,
		HotKeyRFBase:        3,
		HotKeyRFMax:         5,
		HotKeyDecayPeriod:   "10s",
		PeerListenAddr:      ":7380",
		ListenAddr:          ":6380",
		LogLevel:            "info",
		LogJSON:             true,
	}
}

// SegmentMaxBytesParsed parses SegmentMaxBytes via go-units. RAMInBytes
// accepts both "64MB" and "64MiB" spellings and reads either one as a
// binary multiple (64*1024*1024).
func (s Settings) SegmentMaxBytesParsed() (int64, error) {
	return units.RAMInBytes(s.SegmentMaxBytes)
}

// WriteBufferMaxBytesParsed parses WriteBufferMaxBytes the same way.
func (s Settings) WriteBufferMaxBytesParsed() (int64, error) {
	return units.RAMInBytes(s.WriteBufferMaxBytes)
}

// LoadFile reads settings from a JSON file, starting from Default() so
// unspecified fields keep their defaults.
func LoadFile(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}

// Manager holds the live Settings value and notifies subscribers of hot
// reloads triggered by fsnotify watching the config file path. Unlike the
// teacher's single package-level Settings var, each node constructs its
// own Manager so tests can run independent configurations concurrently.
type Manager struct {
	path string

	mu      sync.RWMutex
	current Settings

	subMu sync.Mutex
	subs  []func(Settings)

	watcher *fsnotify.Watcher
	closed  atomic.Bool
}

// NewManager loads path once and returns a Manager wrapping it. Call
// Watch to start hot-reloading on file changes.
func NewManager(path string) (*Manager, error) {
	s, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, current: s}, nil
}

// Get returns a snapshot of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers fn to be called with every reloaded Settings value.
func (m *Manager) Subscribe(fn func(Settings)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// Watch starts an fsnotify watch on the config file and reloads it on
// every write event, registering a cleanup hook via onexit so the watcher
// goroutine stops on process shutdown.
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(m.path); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", m.path, err)
	}
	m.watcher = w

	go m.watchLoop()
	onexit.Register(func() { m.Close() })
	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s, err := LoadFile(m.path)
			if err != nil {
				continue
			}
			m.mu.Lock()
			m.current = s
			m.mu.Unlock()
			m.notify(s)
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (m *Manager) notify(s Settings) {
	m.subMu.Lock()
	subs := append([]func(Settings){}, m.subs...)
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
