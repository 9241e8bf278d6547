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

package shard

import (
	"testing"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/stretchr/testify/require"
)

func sampleDeltaValue() crdt.Value {
	return crdt.NewLWW([]byte("remote"), crdt.Clock{Counter: 1, NodeID: 99})
}

func newTestDispatcher(t *testing.T, shardCount int) *Dispatcher {
	t.Helper()
	clock := clockutil.NewVirtual(0)
	d := NewDispatcher(shardCount, 1, clock, nil)
	t.Cleanup(d.Stop)
	return d
}

func TestShardForIsStableAcrossCalls(t *testing.T) {
	d := newTestDispatcher(t, 8)
	first := d.ShardFor("some-key")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, d.ShardFor("some-key"))
	}
	require.Less(t, first, uint32(8))
}

func TestDispatcherRoutesSetGetToSameShard(t *testing.T) {
	d := newTestDispatcher(t, 4)
	_, err := d.Set("k", []byte("v"), SetOptions{})
	require.NoError(t, err)
	got, ok, err := d.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(got))
}

func TestDispatcherMSetMGet(t *testing.T) {
	d := newTestDispatcher(t, 4)
	require.NoError(t, d.MSet(map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	values, exists, err := d.MGet([]string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, false}, exists)
	require.Equal(t, "1", string(values[0]))
	require.Equal(t, "2", string(values[1]))
}

func TestDispatcherDelMulti(t *testing.T) {
	d := newTestDispatcher(t, 4)
	_, _ = d.Set("a", []byte("1"), SetOptions{})
	_, _ = d.Set("b", []byte("2"), SetOptions{})

	removed, err := d.DelMulti([]string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}

func TestDispatcherDBSizeAndFlushAll(t *testing.T) {
	d := newTestDispatcher(t, 4)
	for i := 0; i < 20; i++ {
		_, err := d.Set(string(rune('a'+i)), []byte("v"), SetOptions{})
		require.NoError(t, err)
	}
	n, err := d.DBSize()
	require.NoError(t, err)
	require.Equal(t, 20, n)

	require.NoError(t, d.FlushAll())
	n, err = d.DBSize()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDispatcherApplyRemoteRoutesByShardID(t *testing.T) {
	d := newTestDispatcher(t, 4)
	sid := d.ShardFor("k")
	v := sampleDeltaValue()
	d.ApplyRemote(delta.Delta{ShardID: sid, Key: []byte("k"), Op: delta.OpSet, NewValue: &v, Lamport: v.LWW.Clock}, nil)

	got, ok, err := d.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remote", string(got))
}
