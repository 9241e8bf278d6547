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

package persistence

import (
	"context"
	"testing"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/segment"
	"github.com/stretchr/testify/require"
)

func TestRecovererReplaysCheckpointAndSegments(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()

	cp := Checkpoint{Generation: 1, Records: []CheckpointRecord{
		{Key: []byte("a"), Value: crdt.NewLWW([]byte("from-checkpoint"), crdt.Clock{Counter: 1, NodeID: 1})},
	}}
	data, err := encodeCheckpoint(cp)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "checkpoint-0000000000000001", data))

	putSegment(t, store, "segment-0002", []delta.Delta{sampleDelta("b")})

	m := segment.Manifest{
		Generation:    2,
		LiveSegments:  []string{"segment-0002"},
		CheckpointKey: "checkpoint-0000000000000001",
	}

	r := NewRecoverer(store)
	state, err := r.Recover(ctx, m)
	require.NoError(t, err)
	require.Len(t, state.Values, 2)
	require.Equal(t, "from-checkpoint", string(state.Values["a"].LWW.Bytes))
	require.Equal(t, "v-b", string(state.Values["b"].LWW.Bytes))
}

func TestRecovererSalvagesTruncatedSegment(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()

	enc := segment.NewEncoder()
	require.NoError(t, enc.Append(sampleDelta("a")))
	good := enc.Bytes()

	enc2 := segment.NewEncoder()
	require.NoError(t, enc2.Append(sampleDelta("b")))
	truncated := append(good, enc2.Bytes()[6:len(enc2.Bytes())-2]...)
	require.NoError(t, store.Put(ctx, "segment-0001", truncated))

	m := segment.Manifest{Generation: 1, LiveSegments: []string{"segment-0001"}}

	r := NewRecoverer(store)
	state, err := r.Recover(ctx, m)
	require.NoError(t, err)
	require.Contains(t, state.SalvagedSegments, "segment-0001")
	require.Contains(t, state.Values, "a")
}

func TestRecovererNoCheckpointReplaysFromStart(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()

	putSegment(t, store, "segment-0001", []delta.Delta{sampleDelta("a")})
	m := segment.Manifest{Generation: 1, LiveSegments: []string{"segment-0001"}}

	r := NewRecoverer(store)
	state, err := r.Recover(ctx, m)
	require.NoError(t, err)
	require.Len(t, state.Values, 1)
}
