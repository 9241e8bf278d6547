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

// Package idgen mints the two identifier shapes this project needs: the
// hex epoch-seq segment/checkpoint object names mandated by spec.md §6,
// and general-purpose correlation ids (NewCorrelationID, which nothing in
// this module calls). The low-entropy-avoiding counter/time UUID construction is
// grounded on storage/fast_uuid.go from the teacher.
package idgen

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var counter uint64 = uint64(time.Now().UnixNano())

// NewCorrelationID returns a UUIDv4-shaped value without blocking on
// crypto/rand entropy. No gossip or anti-entropy code calls it; message
// batches and rounds carry no correlation id. Not for cryptographic use.
func NewCorrelationID() uuid.UUID {
	ctr := atomic.AddUint64(&counter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b)
}

// Sequencer hands out the epoch/seq pair used to name segments and
// checkpoints: "segment-<16hex-epoch>-<16hex-seq>" /
// "checkpoint-<16hex-gen>" (spec.md §6). epoch is fixed at process start
// (or at manifest load time during recovery) so segment names are
// monotonically increasing within one process lifetime; seq increments
// per segment sealed within that epoch.
type Sequencer struct {
	epoch uint64
	seq   uint64
}

// NewSequencer creates a sequencer stamped with the given epoch (typically
// the manifest generation at process start).
func NewSequencer(epoch uint64) *Sequencer {
	return &Sequencer{epoch: epoch}
}

// NextSegmentKey returns the next "segment-<epoch>-<seq>" object name.
func (s *Sequencer) NextSegmentKey() string {
	seq := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("segment-%016x-%016x", s.epoch, seq)
}

// CheckpointKey returns the "checkpoint-<gen>" object name for the given
// manifest generation.
func CheckpointKey(generation uint64) string {
	return fmt.Sprintf("checkpoint-%016x", generation)
}
