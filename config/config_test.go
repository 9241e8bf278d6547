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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvmesh.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node_id": 7, "listen_addr": ":7000"}`), 0644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, uint64(7), s.NodeID)
	require.Equal(t, ":7000", s.ListenAddr)
	require.Equal(t, Default().ShardCount, s.ShardCount)
}

func TestSegmentMaxBytesParsed(t *testing.T) {
	s := Default()
	s.SegmentMaxBytes = "64MB"
	n, err := s.SegmentMaxBytesParsed()
	require.NoError(t, err)
	require.Equal(t, int64(64*1000*1000), n)
}

func TestManagerWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvmesh.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node_id": 1}`), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Watch())
	defer m.Close()

	reloaded := make(chan Settings, 1)
	m.Subscribe(func(s Settings) {
		select {
		case reloaded <- s:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte(`{"node_id": 42}`), 0644))

	select {
	case s := <-reloaded:
		require.Equal(t, uint64(42), s.NodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
