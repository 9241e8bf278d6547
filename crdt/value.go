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

// Package crdt implements the per-key CRDT value layer of §4.3: a tagged
// union of lattice types (LWW register, G-Counter, PN-Counter, OR-Set) with
// a single dispatched Join operation, plus the Lamport and vector clocks
// used to order writes. Per the design notes in spec.md §9, the value type
// is a closed tagged union rather than an open interface hierarchy, so a
// Value round-trips through the segment codec without registering a type
// table.
package crdt

import "fmt"

// Kind tags which CRDT variant a Value currently holds.
type Kind uint8

const (
	KindLWW Kind = iota
	KindGCounter
	KindPNCounter
	KindORSet
)

func (k Kind) String() string {
	switch k {
	case KindLWW:
		return "lww"
	case KindGCounter:
		return "gcounter"
	case KindPNCounter:
		return "pncounter"
	case KindORSet:
		return "orset"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the tagged-union storage cell for one key. Exactly one of the
// pointer fields matching Kind is populated; the rest are nil. Collection
// types (hash/list/zset) are layered on top of Value by the shard/command
// layer, which wraps the whole serialized collection in one LWW register
// (§4.3's eventual mode); there is no mode that keeps one Value per
// field/member.
type Value struct {
	Kind      Kind
	LWW       *LWWRegister `json:"lww,omitempty"`
	GCounter  *GCounter    `json:"gcounter,omitempty"`
	PNCounter *PNCounter   `json:"pncounter,omitempty"`
	ORSet     *ORSet       `json:"orset,omitempty"`
}

// NewLWW wraps a byte string in a fresh LWW-tagged Value.
func NewLWW(bytes []byte, clock Clock) Value {
	return Value{Kind: KindLWW, LWW: &LWWRegister{Bytes: bytes, Clock: clock}}
}

// NewGCounter wraps a grow-only counter in a fresh Value.
func NewGCounter(c *GCounter) Value {
	return Value{Kind: KindGCounter, GCounter: c}
}

// NewPNCounter wraps a PN-counter in a fresh Value.
func NewPNCounter(c *PNCounter) Value {
	return Value{Kind: KindPNCounter, PNCounter: c}
}

// NewORSet wraps an OR-Set in a fresh Value.
func NewORSet(s *ORSet) Value {
	return Value{Kind: KindORSet, ORSet: s}
}

// Join computes the lattice join of v and other. It panics if the two
// values carry different Kinds. A key's CRDT variant can change (SET over
// a counter, INCR over a numeric string), so callers (the shard actor, the
// gossip apply path, recovery and compaction) replace the old value instead
// of joining when the Kinds differ.
//
// Join is commutative, associative and idempotent for every Kind
// implemented here; that is the central correctness property of the
// system (spec.md §4.3, P1/P5).
func (v Value) Join(other Value) Value {
	if v.Kind != other.Kind {
		panic(fmt.Sprintf("crdt: cannot join mismatched kinds %s and %s", v.Kind, other.Kind))
	}
	switch v.Kind {
	case KindLWW:
		return Value{Kind: KindLWW, LWW: v.LWW.Join(other.LWW)}
	case KindGCounter:
		return Value{Kind: KindGCounter, GCounter: v.GCounter.Join(other.GCounter)}
	case KindPNCounter:
		return Value{Kind: KindPNCounter, PNCounter: v.PNCounter.Join(other.PNCounter)}
	case KindORSet:
		return Value{Kind: KindORSet, ORSet: v.ORSet.Join(other.ORSet)}
	default:
		panic(fmt.Sprintf("crdt: unknown kind %d", v.Kind))
	}
}

// Equal reports whether v and other represent the same converged state.
// Used by the gossip apply path to decide whether a persistence delta must
// be re-emitted after a join (§4.4 step 4).
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindLWW:
		return v.LWW.Equal(other.LWW)
	case KindGCounter:
		return v.GCounter.Equal(other.GCounter)
	case KindPNCounter:
		return v.PNCounter.Equal(other.PNCounter)
	case KindORSet:
		return v.ORSet.Equal(other.ORSet)
	default:
		return false
	}
}

// Fingerprint returns a short, order-independent summary used by the
// Merkle anti-entropy tree (§4.5) to detect divergence without shipping
// full values.
func (v Value) Fingerprint() uint64 {
	switch v.Kind {
	case KindLWW:
		return v.LWW.fingerprint()
	case KindGCounter:
		return v.GCounter.fingerprint()
	case KindPNCounter:
		return v.PNCounter.fingerprint()
	case KindORSet:
		return v.ORSet.fingerprint()
	default:
		return 0
	}
}
