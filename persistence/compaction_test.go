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

func putSegment(t *testing.T, store objectstore.Store, key string, deltas []delta.Delta) {
	enc := segment.NewEncoder()
	for _, d := range deltas {
		require.NoError(t, enc.Append(d))
	}
	require.NoError(t, store.Put(context.Background(), key, enc.Bytes()))
}

func TestCompactorFoldsDeltasAcrossSegments(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()

	putSegment(t, store, "segment-0001", []delta.Delta{sampleDelta("a")})
	v2 := crdt.NewLWW([]byte("updated"), crdt.Clock{Counter: 2, NodeID: 1})
	putSegment(t, store, "segment-0002", []delta.Delta{{Key: []byte("a"), Op: delta.OpSet, NewValue: &v2}})

	c := NewCompactor(store, 2)
	cp, err := c.Compact(ctx, 1, "", []string{"segment-0001", "segment-0002"})
	require.NoError(t, err)
	require.Len(t, cp.Records, 1)
	require.Equal(t, "updated", string(cp.Records[0].Value.LWW.Bytes))
}

func TestCompactorHandlesDelete(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()

	putSegment(t, store, "segment-0001", []delta.Delta{sampleDelta("a"), sampleDelta("b")})
	putSegment(t, store, "segment-0002", []delta.Delta{{Key: []byte("a"), Op: delta.OpDel}})

	c := NewCompactor(store, 4)
	cp, err := c.Compact(ctx, 1, "", []string{"segment-0001", "segment-0002"})
	require.NoError(t, err)
	require.Len(t, cp.Records, 1)
	require.Equal(t, "b", string(cp.Records[0].Key))
}

func TestCompactorFoldsPriorCheckpointAsBaseline(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()

	c := NewCompactor(store, 2)
	baseCp := Checkpoint{Generation: 1, Records: []CheckpointRecord{
		{Key: []byte("a"), Value: crdt.NewLWW([]byte("first"), crdt.Clock{Counter: 1, NodeID: 1})},
	}}
	baseKey, err := c.WriteCheckpoint(ctx, baseCp)
	require.NoError(t, err)

	putSegment(t, store, "segment-0003", []delta.Delta{sampleDelta("b")})

	cp, err := c.Compact(ctx, 1, baseKey, []string{"segment-0003"})
	require.NoError(t, err)
	require.Len(t, cp.Records, 2)
	byKey := map[string]CheckpointRecord{}
	for _, r := range cp.Records {
		byKey[string(r.Key)] = r
	}
	require.Equal(t, "first", string(byKey["a"].Value.LWW.Bytes))
	require.Contains(t, byKey, "b")
}

func TestCompactorWriteCheckpointRoundTrips(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	ctx := context.Background()
	c := NewCompactor(store, 2)

	cp := Checkpoint{Generation: 5, Records: []CheckpointRecord{
		{Key: []byte("a"), Value: crdt.NewLWW([]byte("v"), crdt.Clock{Counter: 1, NodeID: 1})},
	}}
	key, err := c.WriteCheckpoint(ctx, cp)
	require.NoError(t, err)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	got, err := decodeCheckpoint(data)
	require.NoError(t, err)
	require.Equal(t, cp, got)
}
