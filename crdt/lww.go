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

import (
	"bytes"
	"hash/fnv"
)

// LWWRegister is a last-writer-wins register: the common case backing
// SET/GET. Merge picks the side with the greater Lamport clock; ties break
// on the greater node id (§4.3).
type LWWRegister struct {
	Bytes []byte `json:"bytes"`
	Clock Clock  `json:"clock"`
}

// Join returns the lattice join of r and other: whichever side has the
// greater Lamport clock wins outright (its Bytes and Clock are kept).
func (r *LWWRegister) Join(other *LWWRegister) *LWWRegister {
	if r == nil {
		return other
	}
	if other == nil {
		return r
	}
	if other.Clock.After(r.Clock) {
		return other
	}
	return r
}

// Equal reports whether r and other hold the same bytes and clock.
func (r *LWWRegister) Equal(other *LWWRegister) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Clock.Equal(other.Clock) && bytes.Equal(r.Bytes, other.Bytes)
}

func (r *LWWRegister) fingerprint() uint64 {
	if r == nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(r.Bytes)
	var clockBuf [16]byte
	putUint64(clockBuf[0:8], r.Clock.Counter)
	putUint64(clockBuf[8:16], r.Clock.NodeID)
	h.Write(clockBuf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
