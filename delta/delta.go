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

// Package delta defines the Delta record, the single unit of both
// replication and persistence (spec.md §3). Every shard mutation produces
// exactly one Delta, which is fanned out to the gossip layer and appended
// to the persistence write buffer.
package delta

import "github.com/launix-de/kvmesh/crdt"

// Op identifies which shard-level operation produced a Delta. It doubles
// as the op tag written into the segment codec.
type Op uint8

const (
	OpSet Op = iota
	OpDel
	OpIncr
	OpHset
	OpHdel
	OpSadd
	OpSrem
	OpZadd
	OpZrem
	OpExpire
	OpPersist
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpIncr:
		return "INCR"
	case OpHset:
		return "HSET"
	case OpHdel:
		return "HDEL"
	case OpSadd:
		return "SADD"
	case OpSrem:
		return "SREM"
	case OpZadd:
		return "ZADD"
	case OpZrem:
		return "ZREM"
	case OpExpire:
		return "EXPIRE"
	case OpPersist:
		return "PERSIST"
	default:
		return "UNKNOWN"
	}
}

// Delta is the wire/segment record for one shard mutation (spec.md §3).
// NewValue is nil for Del, and for Expire and Persist (which only set or
// clear expiry).
type Delta struct {
	ShardID   uint32           `json:"shard_id"`
	Key       []byte           `json:"key"`
	Op        Op               `json:"op"`
	NewValue  *crdt.Value      `json:"new_value,omitempty"`
	Lamport   crdt.Clock       `json:"lamport"`
	VC        crdt.VectorClock `json:"vc,omitempty"`
	ExpiryMs  int64            `json:"expiry_ms,omitempty"` // absolute virtual-time epoch; 0 = no expiry
	Timestamp int64            `json:"timestamp"`

	// EntryKind mirrors shard.Kind: which StoredEntry representation
	// NewValue's whole-value snapshot belongs to (String/Counter/Hash/
	// List/Set/ZSet). Zero (the default) means String, so pre-existing
	// String-only deltas remain valid without this field set.
	EntryKind uint8 `json:"entry_kind,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a second consumer (a
// gossip peer queue and the persistence buffer both receive the same
// logical delta but must not alias its mutable Key/VC slices across
// goroutines).
func (d Delta) Clone() Delta {
	out := d
	if d.Key != nil {
		out.Key = append([]byte(nil), d.Key...)
	}
	if d.VC != nil {
		out.VC = d.VC.Clone()
	}
	if d.NewValue != nil {
		v := *d.NewValue
		out.NewValue = &v
	}
	return out
}
