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

package ttl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPopExpiredInOrder(t *testing.T) {
	h := New()
	h.Set("c", 300)
	h.Set("a", 100)
	h.Set("b", 200)

	require.Equal(t, 3, h.Len())
	popped := h.PopExpired(250)
	require.Equal(t, []string{"a", "b"}, popped)
	require.Equal(t, 1, h.Len())
}

func TestSetOverwritesExisting(t *testing.T) {
	h := New()
	h.Set("a", 100)
	h.Set("a", 500)

	require.Equal(t, 1, h.Len())
	deadline, ok := h.NextDeadline()
	require.True(t, ok)
	require.Equal(t, int64(500), deadline)
}

func TestPersistRemovesSchedule(t *testing.T) {
	h := New()
	h.Set("a", 100)
	require.True(t, h.Persist("a"))
	require.False(t, h.Persist("a"))
	require.Equal(t, 0, h.Len())
}

func TestTTLMsComputesRemaining(t *testing.T) {
	h := New()
	h.Set("a", 1000)

	remaining, ok := h.TTLMs("a", 400)
	require.True(t, ok)
	require.Equal(t, int64(600), remaining)

	remaining, ok = h.TTLMs("a", 1500)
	require.True(t, ok)
	require.Equal(t, int64(0), remaining)

	_, ok = h.TTLMs("missing", 0)
	require.False(t, ok)
}

func TestNextDeadlineEmpty(t *testing.T) {
	h := New()
	_, ok := h.NextDeadline()
	require.False(t, ok)
}
