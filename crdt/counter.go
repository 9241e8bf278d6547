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

import "sort"

// GCounter is a grow-only counter: one non-decreasing tally per node id.
// Join takes the componentwise max; the observed value is the sum (§4.3).
type GCounter struct {
	Counts map[uint64]uint64 `json:"counts"`
}

// NewGCounterEmpty allocates an empty grow-only counter.
func NewGCounterEmpty() *GCounter {
	return &GCounter{Counts: make(map[uint64]uint64)}
}

// Increment adds delta to this node's own component. delta must be >= 0;
// GCounter never decreases per-node (that is PNCounter's job).
func (c *GCounter) Increment(nodeID uint64, delta uint64) {
	if c.Counts == nil {
		c.Counts = make(map[uint64]uint64)
	}
	c.Counts[nodeID] += delta
}

// Value returns the sum of all per-node components.
func (c *GCounter) Value() uint64 {
	if c == nil {
		return 0
	}
	var total uint64
	for _, v := range c.Counts {
		total += v
	}
	return total
}

// Join returns the componentwise max of c and other.
func (c *GCounter) Join(other *GCounter) *GCounter {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	out := &GCounter{Counts: make(map[uint64]uint64, len(c.Counts)+len(other.Counts))}
	for k, v := range c.Counts {
		out.Counts[k] = v
	}
	for k, v := range other.Counts {
		if v > out.Counts[k] {
			out.Counts[k] = v
		}
	}
	return out
}

// Equal reports whether c and other carry identical per-node components.
func (c *GCounter) Equal(other *GCounter) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.Counts) != len(other.Counts) {
		return false
	}
	for k, v := range c.Counts {
		if other.Counts[k] != v {
			return false
		}
	}
	return true
}

func (c *GCounter) fingerprint() uint64 {
	if c == nil {
		return 0
	}
	ids := make([]uint64, 0, len(c.Counts))
	for k := range c.Counts {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var h uint64 = 14695981039346656037
	for _, id := range ids {
		h = fnvMix(h, id)
		h = fnvMix(h, c.Counts[id])
	}
	return h
}

func fnvMix(h uint64, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= (v >> (8 * i)) & 0xff
		h *= 1099511628211
	}
	return h
}

// PNCounter is a positive-negative counter built from two GCounters: value
// is Sum(pos) - Sum(neg). This is the CRDT type backing INCR/DECR (§3).
type PNCounter struct {
	Pos *GCounter `json:"pos"`
	Neg *GCounter `json:"neg"`
}

// NewPNCounterEmpty allocates a zero-valued PN-counter.
func NewPNCounterEmpty() *PNCounter {
	return &PNCounter{Pos: NewGCounterEmpty(), Neg: NewGCounterEmpty()}
}

// Add applies a signed delta to the counter, incrementing Pos for positive
// deltas and Neg for negative ones.
func (c *PNCounter) Add(nodeID uint64, delta int64) {
	if delta >= 0 {
		c.Pos.Increment(nodeID, uint64(delta))
	} else {
		c.Neg.Increment(nodeID, uint64(-delta))
	}
}

// Value returns Sum(pos) - Sum(neg) as a signed 64-bit integer.
func (c *PNCounter) Value() int64 {
	if c == nil {
		return 0
	}
	return int64(c.Pos.Value()) - int64(c.Neg.Value())
}

// Join returns the componentwise join of both underlying GCounters.
func (c *PNCounter) Join(other *PNCounter) *PNCounter {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	return &PNCounter{Pos: c.Pos.Join(other.Pos), Neg: c.Neg.Join(other.Neg)}
}

// Equal reports whether c and other carry identical pos/neg components.
func (c *PNCounter) Equal(other *PNCounter) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Pos.Equal(other.Pos) && c.Neg.Equal(other.Neg)
}

func (c *PNCounter) fingerprint() uint64 {
	if c == nil {
		return 0
	}
	return fnvMix(c.Pos.fingerprint(), c.Neg.fingerprint())
}
