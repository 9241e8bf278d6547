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

package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/resp"
	"github.com/launix-de/kvmesh/shard"
)

func newTestDispatcher(t *testing.T) *shard.Dispatcher {
	t.Helper()
	clock := clockutil.Real{}
	d := shard.NewDispatcher(4, 1, clock, nil)
	t.Cleanup(d.Stop)
	return d
}

func mustBulk(t *testing.T, r resp.Reply) string {
	t.Helper()
	b, ok := r.(resp.Bulk)
	require.True(t, ok, "expected resp.Bulk, got %T (%v)", r, r)
	require.False(t, b.Null)
	return string(b.Value)
}

func TestDispatchSetGet(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"SET", "foo", "bar"})
	require.Equal(t, resp.Simple("OK"), reply)

	reply = Dispatch(disp, clock, []string{"GET", "foo"})
	require.Equal(t, "bar", mustBulk(t, reply))
}

func TestDispatchGetMissingReturnsNilBulk(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"GET", "nope"})
	b, ok := reply.(resp.Bulk)
	require.True(t, ok)
	require.True(t, b.Null)
}

func TestDispatchIncrAndNonIntegerString(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"INCR", "counter"})
	require.Equal(t, resp.Int(1), reply)
	reply = Dispatch(disp, clock, []string{"INCR", "counter"})
	require.Equal(t, resp.Int(2), reply)

	Dispatch(disp, clock, []string{"SET", "str", "hello"})
	reply = Dispatch(disp, clock, []string{"INCR", "str"})
	_, isErr := reply.(resp.Err)
	require.True(t, isErr, "expected a RESP error for INCR on a non-integer string")
}

func TestDispatchHashCommands(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"HSET", "h", "f1", "v1"})
	require.Equal(t, resp.Int(1), reply)

	reply = Dispatch(disp, clock, []string{"HGET", "h", "f1"})
	require.Equal(t, "v1", mustBulk(t, reply))

	reply = Dispatch(disp, clock, []string{"HLEN", "h"})
	require.Equal(t, resp.Int(1), reply)
}

func TestDispatchUnknownCommand(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"NOTACOMMAND"})
	_, isErr := reply.(resp.Err)
	require.True(t, isErr)
}

func TestDispatchWrongArgCount(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"SET", "onlykey"})
	_, isErr := reply.(resp.Err)
	require.True(t, isErr)
}

func TestDispatchExpireAndTTL(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	Dispatch(disp, clock, []string{"SET", "k", "v"})
	reply := Dispatch(disp, clock, []string{"EXPIRE", "k", "100"})
	require.Equal(t, resp.Int(1), reply)

	reply = Dispatch(disp, clock, []string{"TTL", "k"})
	ttl, ok := reply.(resp.Int)
	require.True(t, ok)
	require.Greater(t, int64(ttl), int64(0))
	require.LessOrEqual(t, int64(ttl), int64(100))
}

func TestDispatchSelectIsNoop(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	reply := Dispatch(disp, clock, []string{"SELECT", "0"})
	require.Equal(t, resp.Simple("OK"), reply)
}

func TestDispatchDbsizeAndFlush(t *testing.T) {
	disp := newTestDispatcher(t)
	clock := clockutil.Real{}

	Dispatch(disp, clock, []string{"SET", "a", "1"})
	Dispatch(disp, clock, []string{"SET", "b", "2"})

	reply := Dispatch(disp, clock, []string{"DBSIZE"})
	require.Equal(t, resp.Int(2), reply)

	reply = Dispatch(disp, clock, []string{"FLUSHALL"})
	require.Equal(t, resp.Simple("OK"), reply)

	reply = Dispatch(disp, clock, []string{"DBSIZE"})
	require.Equal(t, resp.Int(0), reply)
}
