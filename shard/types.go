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

// Package shard is the sharded execution engine of spec.md §4.1: each
// Shard owns an exclusive partition of the keyspace behind a single
// actor goroutine (no locking on the map itself), and Dispatcher routes
// commands to their owning shard by stable key hash.
package shard

import "github.com/launix-de/kvmesh/crdt"

// Kind tags which representation a StoredEntry currently holds. String
// and Counter values are backed by the crdt tagged union (LWWRegister,
// GCounter/PNCounter); collection types (hash/list/set/zset) are native
// Go structures, per spec.md §3's "structured forms with their own merge
// rules" — under eventual mode (the default and the only mode this
// package implements; see DESIGN.md's resolution of the corresponding
// Open Question) they replicate as whole-value LWW rather than
// element-level CRDTs.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindCounter
	KindHash
	KindList
	KindSet
	KindZSet
)

// StoredEntry is the per-key record a shard holds, matching spec.md §3's
// StoredEntry: value, lamport, optional expiry, optional vector clock.
// VC has room for a vector clock, but no code path sets it: only eventual
// replication exists, there is no causal mode, and every entry relies on
// Lamport alone.
type StoredEntry struct {
	Kind Kind

	Str     *crdt.Value // KindString: LWWRegister
	Counter *crdt.Value // KindCounter: GCounter or PNCounter
	Set     *crdt.ORSet // KindSet: add-wins set, natively a CRDT already

	// Hash/List/ZSet are native Go structures for fast local access.
	// Snapshot mirrors the same content JSON-encoded inside an
	// LWWRegister, the whole-value representation used on the wire
	// (gossip deltas, segment records): spec.md §4.3 allows treating
	// these "in eventual mode as opaque LWW values", which is what this
	// package implements (see DESIGN.md for the Open Question
	// resolution). Snapshot is kept in lockstep with the native field by
	// every mutating command.
	Hash     map[string]string
	List     []string
	ZSet     map[string]float64
	Snapshot *crdt.Value

	Lamport crdt.Clock
	VC      crdt.VectorClock // never set; always nil
}

