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
package crdt

import "fmt"

// Clock is a Lamport logical timestamp: a scalar counter with a node-id
// tiebreak. Total order is counter first, NodeID second.
type Clock struct {
	Counter uint64 `json:"counter"`
	NodeID  uint64 `json:"node_id"`
}

// Less reports whether c sorts strictly before other under the Lamport
// total order.
func (c Clock) Less(other Clock) bool {
	if c.Counter != other.Counter {
		return c.Counter < other.Counter
	}
	return c.NodeID < other.NodeID
}

// After reports whether c sorts strictly after other.
func (c Clock) After(other Clock) bool {
	return other.Less(c)
}

// Equal reports whether c and other are the same logical timestamp.
func (c Clock) Equal(other Clock) bool {
	return c.Counter == other.Counter && c.NodeID == other.NodeID
}

// Max returns the greater of c and other under the Lamport total order.
func (c Clock) Max(other Clock) Clock {
	if c.Less(other) {
		return other
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("(%d,%d)", c.Counter, c.NodeID)
}

// ClockSource hands out locally-advancing Lamport clocks for one node.
// It is the single place "now" in logical time is read; every write on
// that node's shards goes through Tick or Observe so the counter is
// monotonically non-decreasing, per the StoredEntry invariant in §3.
type ClockSource struct {
	nodeID  uint64
	counter uint64
}

// NewClockSource creates a clock source for the given node id, starting
// the counter at zero.
func NewClockSource(nodeID uint64) *ClockSource {
	return &ClockSource{nodeID: nodeID}
}

// Tick advances the local counter by one and returns the new clock. It is
// used for locally originated writes (SET, INCR, ...). Not safe for
// concurrent use from multiple goroutines; callers own a ClockSource
// per-shard, matching the single-owner-actor concurrency model of §5.
func (s *ClockSource) Tick() Clock {
	s.counter++
	return Clock{Counter: s.counter, NodeID: s.nodeID}
}

// Observe folds a received remote clock into the local counter per the
// Lamport rule counter = max(local, received) + 1, and returns the new
// local clock. Used when applying an inbound gossip delta.
func (s *ClockSource) Observe(remote Clock) Clock {
	if remote.Counter > s.counter {
		s.counter = remote.Counter
	}
	s.counter++
	return Clock{Counter: s.counter, NodeID: s.nodeID}
}

// NodeID returns the node id this clock source stamps writes with.
func (s *ClockSource) NodeID() uint64 {
	return s.nodeID
}
