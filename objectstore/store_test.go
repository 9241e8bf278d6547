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

package objectstore

import (
	"context"
	"testing"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/stretchr/testify/require"
)

func TestLocalFSPutGetDeleteList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFS(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "segment-0001", []byte("hello")))
	require.NoError(t, store.Put(ctx, "segment-0002", []byte("world")))
	require.NoError(t, store.Put(ctx, "manifest", []byte("m")))

	got, err := store.Get(ctx, "segment-0001")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	keys, err := store.List(ctx, "segment-")
	require.NoError(t, err)
	require.Equal(t, []string{"segment-0001", "segment-0002"}, keys)

	require.NoError(t, store.Delete(ctx, "segment-0001"))
	_, err = store.Get(ctx, "segment-0001")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "segment-0001"))
}

func TestLocalFSGetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFS(dir)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSimulatedNoFaultsRoundTrips(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := NewSimulated(clock, FaultProfile{}, 42)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k1", []byte("payload")))
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	keys, err := store.List(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, keys)
}

func TestSimulatedLostPutNeverLands(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := NewSimulated(clock, FaultProfile{LostPutProb: 1.0}, 7)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k1", []byte("payload")))
	_, err := store.Get(ctx, "k1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSimulatedTransientErrorSurfaces(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := NewSimulated(clock, FaultProfile{TransientErrProb: 1.0}, 7)
	ctx := context.Background()

	err := store.Put(ctx, "k1", []byte("payload"))
	require.ErrorIs(t, err, ErrTransient)
}

func TestSimulatedCorruptionFlipsBytes(t *testing.T) {
	clock := clockutil.NewVirtual(0)
	store := NewSimulated(clock, FaultProfile{CorruptProb: 1.0}, 7)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k1", []byte{0x00, 0x00, 0x00, 0x00}))
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotEqual(t, []byte{0x00, 0x00, 0x00, 0x00}, got)
}

func TestSimulatedReproducibleFromSeed(t *testing.T) {
	ctx := context.Background()
	profile := FaultProfile{TransientErrProb: 0.5, CorruptProb: 0.2, LostPutProb: 0.1}

	run := func(seed int64) []error {
		clock := clockutil.NewVirtual(0)
		store := NewSimulated(clock, profile, seed)
		var errs []error
		for i := 0; i < 20; i++ {
			errs = append(errs, store.Put(ctx, "k", []byte{byte(i)}))
		}
		return errs
	}

	a := run(99)
	b := run(99)
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i], b[i])
	}
}
