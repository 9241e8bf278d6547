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

package hotkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSketchEstimateTracksIncrements(t *testing.T) {
	s := NewSketch()
	for i := 0; i < 10; i++ {
		s.Increment("k1")
	}
	s.Increment("k2")

	require.GreaterOrEqual(t, s.Estimate("k1"), uint32(10))
	require.GreaterOrEqual(t, s.Estimate("k2"), uint32(1))
}

func TestSketchDecayHalves(t *testing.T) {
	s := NewSketch()
	for i := 0; i < 16; i++ {
		s.Increment("k1")
	}
	before := s.Estimate("k1")
	s.Decay()
	after := s.Estimate("k1")
	require.LessOrEqual(t, after, before/2+1)
}

func TestDetectorPromotesAndDemotesWithHysteresis(t *testing.T) {
	d := NewDetector(1, 3, 10)

	var factor int
	for i := 0; i < 12; i++ {
		factor = d.Observe("hot")
	}
	require.Equal(t, 3, factor, "key should have promoted to hot factor")

	// Decay brings the estimate down, but not below the 0.5 hysteresis
	// line yet, so it should remain hot.
	d.Decay()
	require.Equal(t, 3, d.ReplicationFactor("hot"))

	// Decay again to push it under the demote threshold.
	d.Decay()
	d.Decay()
	require.Equal(t, 1, d.ReplicationFactor("hot"))
}

func TestDetectorColdKeyStaysBase(t *testing.T) {
	d := NewDetector(1, 3, 10)
	factor := d.Observe("cold")
	require.Equal(t, 1, factor)
}

func TestHotKeysListsPromoted(t *testing.T) {
	d := NewDetector(1, 3, 5)
	for i := 0; i < 6; i++ {
		d.Observe("a")
	}
	keys := d.HotKeys()
	require.Contains(t, keys, "a")
}
