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

// Manifest tracks the live segment set and optional checkpoint for one
// shard's persisted history, per spec.md §6. Ordering live segments by
// their epoch/seq key is grounded on storage/index.go's StorageIndex,
// which keeps a btree.NewG ordered index over row keys for fast range
// scans; here the ordered keys are segment object names rather than row
// positions, but the "keep a btree for ordered iteration" idiom is the
// same.
package segment

import (
	"encoding/json"
	"fmt"

	"github.com/google/btree"
)

// Manifest is the durable record of one shard's segment history: which
// segments are live, in what order they must be replayed, and the most
// recent checkpoint (if any) that can short-circuit replay.
type Manifest struct {
	Generation     uint64   `json:"generation"`
	LiveSegments   []string `json:"live_segments"`
	CheckpointKey  string   `json:"checkpoint_key,omitempty"`
}

// EncodeManifest serializes m to JSON for storage under objectstore.ManifestKey.
func EncodeManifest(m Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("segment: marshal manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest previously written by EncodeManifest.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("segment: unmarshal manifest: %w", err)
	}
	return m, nil
}

// segmentKeyLess orders segment object names lexically. Because segment
// keys encode epoch and sequence as fixed-width hex
// ("segment-<16hex>-<16hex>"), lexical order equals creation order.
func segmentKeyLess(a, b string) bool {
	return a < b
}

// OrderedSegments is an ordered index over a manifest's live segment
// names, used by compaction and recovery to walk segments oldest-first
// without re-sorting on every access.
type OrderedSegments struct {
	tree *btree.BTreeG[string]
}

// NewOrderedSegments builds an ordered index from a manifest's live
// segment list.
func NewOrderedSegments(liveSegments []string) *OrderedSegments {
	tree := btree.NewG(8, segmentKeyLess)
	for _, key := range liveSegments {
		tree.ReplaceOrInsert(key)
	}
	return &OrderedSegments{tree: tree}
}

// Add inserts a segment key into the ordered index.
func (o *OrderedSegments) Add(key string) {
	o.tree.ReplaceOrInsert(key)
}

// Remove deletes a segment key from the ordered index, returning whether
// it was present.
func (o *OrderedSegments) Remove(key string) bool {
	_, ok := o.tree.Delete(key)
	return ok
}

// Ascend walks every segment key oldest-first, stopping early if fn
// returns false.
func (o *OrderedSegments) Ascend(fn func(key string) bool) {
	o.tree.Ascend(func(key string) bool {
		return fn(key)
	})
}

// Len reports how many segments are currently tracked.
func (o *OrderedSegments) Len() int {
	return o.tree.Len()
}

// ToSlice returns the tracked segment keys in ascending (oldest-first)
// order, suitable for writing back into a Manifest.
func (o *OrderedSegments) ToSlice() []string {
	out := make([]string, 0, o.tree.Len())
	o.tree.Ascend(func(key string) bool {
		out = append(out, key)
		return true
	})
	return out
}
