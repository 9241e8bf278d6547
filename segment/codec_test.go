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

package segment

import (
	"testing"

	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/stretchr/testify/require"
)

func sampleDelta(shard uint32, key string) delta.Delta {
	return delta.Delta{
		ShardID:  shard,
		Key:      []byte(key),
		Op:       delta.OpSet,
		NewValue: ptr(crdt.NewLWW([]byte("v-"+key), crdt.Clock{Counter: 1, NodeID: 1})),
		Lamport:  crdt.Clock{Counter: 1, NodeID: 1},
		Timestamp: 1000,
	}
}

func ptr(v crdt.Value) *crdt.Value { return &v }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	d1 := sampleDelta(0, "a")
	d2 := sampleDelta(0, "b")
	require.NoError(t, enc.Append(d1))
	require.NoError(t, enc.Append(d2))

	deltas, err := Decode(enc.Bytes())
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.Equal(t, "a", string(deltas[0].Key))
	require.Equal(t, "b", string(deltas[1].Key))
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not a segment"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.Append(sampleDelta(0, "a")))
	raw := enc.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip last payload byte

	_, err := Decode(raw)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeTolerantSalvagesPrefix(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.Append(sampleDelta(0, "a")))
	good := enc.Bytes()

	enc2 := NewEncoder()
	require.NoError(t, enc2.Append(sampleDelta(0, "b")))
	full := append(good, enc2.Bytes()[headerSize:]...)
	truncated := full[:len(full)-3] // chop the tail mid-record

	deltas, _, ok := DecodeTolerant(truncated)
	require.True(t, ok)
	require.Len(t, deltas, 1)
	require.Equal(t, "a", string(deltas[0].Key))
}

func TestManifestEncodeDecode(t *testing.T) {
	m := Manifest{Generation: 3, LiveSegments: []string{"segment-0001-0001", "segment-0001-0002"}, CheckpointKey: "checkpoint-0000000000000002"}
	data, err := EncodeManifest(m)
	require.NoError(t, err)

	got, err := DecodeManifest(data)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestOrderedSegmentsAscendOrder(t *testing.T) {
	idx := NewOrderedSegments([]string{"segment-0001-0003", "segment-0001-0001", "segment-0001-0002"})
	var out []string
	idx.Ascend(func(k string) bool {
		out = append(out, k)
		return true
	})
	require.Equal(t, []string{"segment-0001-0001", "segment-0001-0002", "segment-0001-0003"}, out)

	require.True(t, idx.Remove("segment-0001-0002"))
	require.Equal(t, 2, idx.Len())
	require.Equal(t, []string{"segment-0001-0001", "segment-0001-0003"}, idx.ToSlice())
}
