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
	"time"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/idgen"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/segment"
	"github.com/stretchr/testify/require"
)

func sampleDelta(key string) delta.Delta {
	v := crdt.NewLWW([]byte("v-"+key), crdt.Clock{Counter: 1, NodeID: 1})
	return delta.Delta{Key: []byte(key), Op: delta.OpSet, NewValue: &v}
}

func TestBufferFlushSealsSegment(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	seq := idgen.NewSequencer(1)
	manifest := NewManifestStore(store, clock, segment.Manifest{})
	buf := NewBuffer(store, manifest, seq, clock, 1<<20, 1000)
	defer buf.Stop()

	ctx := context.Background()
	require.NoError(t, buf.Append(ctx, sampleDelta("a")))
	require.NoError(t, buf.Append(ctx, sampleDelta("b")))
	require.Empty(t, buf.SealedSegments())

	require.NoError(t, buf.Flush(ctx))
	sealed := buf.SealedSegments()
	require.Len(t, sealed, 1)

	data, err := store.Get(ctx, sealed[0])
	require.NoError(t, err)
	deltas, err := segment.Decode(data)
	require.NoError(t, err)
	require.Len(t, deltas, 2)

	// The seal must have folded the new segment into the manifest, not
	// just uploaded it and left recovery blind to it.
	require.Equal(t, []string{sealed[0]}, manifest.Current().LiveSegments)
}

func TestBufferSealsOnSizeThreshold(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	seq := idgen.NewSequencer(1)
	manifest := NewManifestStore(store, clock, segment.Manifest{})
	// Tiny threshold forces a seal on the very first append.
	buf := NewBuffer(store, manifest, seq, clock, 1, 1000)
	defer buf.Stop()

	ctx := context.Background()
	require.NoError(t, buf.Append(ctx, sampleDelta("a")))
	require.Len(t, buf.SealedSegments(), 1)
	require.Len(t, manifest.Current().LiveSegments, 1)
}

func TestBufferSealsOnAgeThreshold(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{}, 1)
	seq := idgen.NewSequencer(1)
	manifest := NewManifestStore(store, clock, segment.Manifest{})
	// Byte threshold high enough that only the age timer can seal.
	buf := NewBuffer(store, manifest, seq, clock, 1<<20, 100)
	defer buf.Stop()

	ctx := context.Background()
	require.NoError(t, buf.Append(ctx, sampleDelta("a")))
	require.Empty(t, buf.SealedSegments())

	clock.Advance(150 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(buf.SealedSegments()) == 1
	}, time.Second, time.Millisecond)
	require.Len(t, manifest.Current().LiveSegments, 1)
}

func TestBufferRetriesTransientPutFailures(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := objectstore.NewSimulated(clock, objectstore.FaultProfile{TransientErrProb: 0.9}, 7)
	seq := idgen.NewSequencer(1)
	manifest := NewManifestStore(store, clock, segment.Manifest{})
	buf := NewBuffer(store, manifest, seq, clock, 1, 1000)
	defer buf.Stop()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- buf.Append(ctx, sampleDelta("a")) }()

	// Drive the virtual clock forward so retryPut's backoff waits resolve;
	// the simulated store's fault roll is independent of time, so the
	// retry loop eventually lands on a non-transient roll.
	for i := 0; i < maxSealRetries; i++ {
		clock.Advance(time.Second)
	}
	require.NoError(t, <-done)
	require.False(t, buf.Failing())
}
