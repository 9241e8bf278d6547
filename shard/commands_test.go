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
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/kverrors"
	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T) *Actor {
	t.Helper()
	clock := clockutil.NewVirtual(0)
	a := NewActor(0, 1, clock, nil)
	t.Cleanup(a.Stop)
	return a
}

func TestSetGetRoundTrip(t *testing.T) {
	a := newTestActor(t)
	ok, err := a.Set("k", []byte("v"), SetOptions{})
	require.NoError(t, err)
	require.True(t, ok)

	got, exists, err := a.Get("k")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, "v", string(got))
}

func TestSetNXFailsWhenExists(t *testing.T) {
	a := newTestActor(t)
	_, err := a.Set("k", []byte("v1"), SetOptions{})
	require.NoError(t, err)

	ok, err := a.Set("k", []byte("v2"), SetOptions{NX: true})
	require.NoError(t, err)
	require.False(t, ok)

	got, _, err := a.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}

func TestSetXXFailsWhenAbsent(t *testing.T) {
	a := newTestActor(t)
	ok, err := a.Set("k", []byte("v"), SetOptions{XX: true})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrScenarioFromSpec(t *testing.T) {
	a := newTestActor(t)

	v, err := a.IncrBy("c", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = a.IncrBy("c", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	_, err = a.Set("c", []byte("abc"), SetOptions{})
	require.NoError(t, err)

	_, err = a.IncrBy("c", 1)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.NotInteger))
}

func TestIncrOverflowDetected(t *testing.T) {
	a := newTestActor(t)
	_, err := a.IncrBy("c", 9223372036854775807)
	require.NoError(t, err)
	_, err = a.IncrBy("c", 1)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.Overflow))
}

func TestIncrOnWrongTypeFails(t *testing.T) {
	a := newTestActor(t)
	_, err := a.SAdd("s", "m")
	require.NoError(t, err)
	_, err = a.IncrBy("s", 1)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.WrongType))
}

func TestDelRemovesKey(t *testing.T) {
	a := newTestActor(t)
	_, _ = a.Set("k", []byte("v"), SetOptions{})
	ok, err := a.Del("k")
	require.NoError(t, err)
	require.True(t, ok)
	_, exists, _ := a.Get("k")
	require.False(t, exists)
}

func TestAppendAndStrlen(t *testing.T) {
	a := newTestActor(t)
	n, err := a.Append("k", []byte("foo"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = a.Append("k", []byte("bar"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	l, err := a.Strlen("k")
	require.NoError(t, err)
	require.Equal(t, 6, l)
}

func TestExpireAndTTL(t *testing.T) {
	a := newTestActor(t)
	_, _ = a.Set("k", []byte("v"), SetOptions{})
	ok, err := a.Expire("k", 5000)
	require.NoError(t, err)
	require.True(t, ok)

	ms, hasTTL, err := a.TTLMs("k")
	require.NoError(t, err)
	require.True(t, hasTTL)
	require.Equal(t, int64(5000), ms)
}

func TestPersistClearsExpiry(t *testing.T) {
	a := newTestActor(t)
	_, _ = a.Set("k", []byte("v"), SetOptions{})
	_, _ = a.Expire("k", 5000)
	removed, err := a.Persist("k")
	require.NoError(t, err)
	require.True(t, removed)

	_, hasTTL, err := a.TTLMs("k")
	require.NoError(t, err)
	require.False(t, hasTTL)
}

func TestSetOperations(t *testing.T) {
	a := newTestActor(t)
	added, err := a.SAdd("s", "a", "b", "a")
	require.NoError(t, err)
	require.Equal(t, 2, added)

	card, err := a.SCard("s")
	require.NoError(t, err)
	require.Equal(t, 2, card)

	isMember, err := a.SIsMember("s", "a")
	require.NoError(t, err)
	require.True(t, isMember)

	removed, err := a.SRem("s", "a")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	members, err := a.SMembers("s")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)
}

func TestHashOperations(t *testing.T) {
	a := newTestActor(t)
	isNew, err := a.HSet("h", "f1", "v1")
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = a.HSet("h", "f1", "v2")
	require.NoError(t, err)
	require.False(t, isNew)

	val, ok, err := a.HGet("h", "f1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", val)

	n, err := a.HIncrBy("h", "counter", 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	removed, err := a.HDel("h", "f1")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	all, err := a.HGetAll("h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"counter": "5"}, all)
}

func TestListOperations(t *testing.T) {
	a := newTestActor(t)
	n, err := a.RPush("l", "a", "b", "c")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = a.LPush("l", "z")
	require.NoError(t, err)
	require.Equal(t, 4, n)

	items, err := a.LRange("l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a", "b", "c"}, items)

	v, ok, err := a.LPop("l")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "z", v)

	v, ok, err = a.RPop("l")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", v)

	require.NoError(t, a.LSet("l", 0, "A"))
	got, ok, err := a.LIndex("l", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A", got)
}

func TestZSetOperations(t *testing.T) {
	a := newTestActor(t)
	isNew, err := a.ZAdd("z", "alice", 3)
	require.NoError(t, err)
	require.True(t, isNew)
	_, err = a.ZAdd("z", "bob", 1)
	require.NoError(t, err)
	_, err = a.ZAdd("z", "carol", 2)
	require.NoError(t, err)

	order, err := a.ZRange("z", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol", "alice"}, order)

	score, ok, err := a.ZScore("z", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(3), score)

	next, err := a.ZIncrBy("z", "bob", 10)
	require.NoError(t, err)
	require.Equal(t, float64(11), next)

	inRange, err := a.ZRangeByScore("z", 2, 11)
	require.NoError(t, err)
	require.Equal(t, []string{"carol", "alice", "bob"}, inRange)
}

func TestApplyRemoteJoinsConcurrentIncrements(t *testing.T) {
	var fromA1, fromA2 delta.Delta
	a1 := NewActor(0, 1, clockutil.NewVirtual(0), func(d delta.Delta) { fromA1 = d })
	defer a1.Stop()
	a2 := NewActor(0, 2, clockutil.NewVirtual(0), func(d delta.Delta) { fromA2 = d })
	defer a2.Stop()

	_, err := a1.IncrBy("c", 3)
	require.NoError(t, err)
	_, err = a2.IncrBy("c", 4)
	require.NoError(t, err)

	a1.ApplyRemote(fromA2, nil)
	a2.ApplyRemote(fromA1, nil)

	v1, _, err := a1.Get("c")
	require.NoError(t, err)
	v2, _, err := a2.Get("c")
	require.NoError(t, err)
	require.Equal(t, "7", string(v1))
	require.Equal(t, string(v1), string(v2))
}
