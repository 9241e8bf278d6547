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

package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildEntries(n int, perturbKey string, perturbFP uint64) []KeyFingerprint {
	var out []KeyFingerprint
	for i := 0; i < n; i++ {
		key := string(rune('a' + i%26))
		fp := uint64(i + 1)
		if key == perturbKey {
			fp = perturbFP
		}
		out = append(out, KeyFingerprint{Key: key, Fingerprint: fp})
	}
	return out
}

func TestMerkleTreeIdenticalTreesNoDiff(t *testing.T) {
	entries := buildEntries(10, "", 0)
	t1 := BuildMerkleTree(entries)
	t2 := BuildMerkleTree(entries)

	diff := t1.Diff(t2.Digests())
	require.Empty(t, diff)
}

func TestMerkleTreeDetectsDivergentRange(t *testing.T) {
	base := buildEntries(10, "", 0)
	perturbed := buildEntries(10, "c", 9999)

	t1 := BuildMerkleTree(base)
	t2 := BuildMerkleTree(perturbed)

	diff := t1.Diff(t2.Digests())
	require.NotEmpty(t, diff)
}

func TestMerkleTreeDetectsMissingRange(t *testing.T) {
	full := buildEntries(10, "", 0)
	partial := full[:5]

	t1 := BuildMerkleTree(full)
	t2 := BuildMerkleTree(partial)

	diff := t1.Diff(t2.Digests())
	require.NotEmpty(t, diff)
}

func TestMerkleTreeDigestsSortedByRangeStart(t *testing.T) {
	entries := buildEntries(200, "", 0)
	tree := BuildMerkleTree(entries)
	digests := tree.Digests()
	require.True(t, len(digests) > 1)
	for i := 1; i < len(digests); i++ {
		require.LessOrEqual(t, digests[i-1].Start, digests[i].Start)
	}
}
