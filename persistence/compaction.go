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

// Compactor folds a run of sealed segments into one checkpoint object
// (spec.md §4.8): replay every live segment in order, Join each key's
// deltas into its final crdt.Value, write that snapshot as a single
// checkpoint, then advance the manifest so replay on recovery starts from
// the checkpoint instead of the whole segment history. Bounding how many
// segment loads run concurrently is grounded on storage/limits.go's
// loadSemaphore buffered-channel pattern, generalized from a global
// runtime.NumCPU()-sized semaphore to a parameter so tests can exercise a
// tiny concurrency bound deterministically.
package persistence

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/idgen"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/segment"
)

// CheckpointRecord is one key's folded CRDT value as stored in a
// checkpoint object.
type CheckpointRecord struct {
	Key       []byte     `json:"key"`
	Value     crdt.Value `json:"value"`
	ExpiryMs  int64      `json:"expiry_ms,omitempty"`
	EntryKind uint8      `json:"entry_kind,omitempty"`
}

// Checkpoint is the full folded snapshot written by one compaction run.
type Checkpoint struct {
	Generation uint64             `json:"generation"`
	Records    []CheckpointRecord `json:"records"`
}

// Compactor folds sealed segments into checkpoints.
type Compactor struct {
	store        objectstore.Store
	maxInFlight  int
}

// NewCompactor creates a Compactor that loads at most maxInFlight
// segments concurrently.
func NewCompactor(store objectstore.Store, maxInFlight int) *Compactor {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Compactor{store: store, maxInFlight: maxInFlight}
}

// loadSegment fetches and decodes one segment object.
func (c *Compactor) loadSegment(ctx context.Context, key string) ([]delta.Delta, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("persistence: load segment %s: %w", key, err)
	}
	deltas, err := segment.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("persistence: decode segment %s: %w", key, err)
	}
	return deltas, nil
}

// loadCheckpoint fetches and decodes an existing checkpoint object.
func (c *Compactor) loadCheckpoint(ctx context.Context, key string) (Checkpoint, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("persistence: load checkpoint %s: %w", key, err)
	}
	cp, err := decodeCheckpoint(data)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("persistence: decode checkpoint %s: %w", key, err)
	}
	return cp, nil
}

// Compact folds baseCheckpointKey (the prior compaction's result, if any)
// together with every segment in segmentKeys (oldest first) via CRDT
// Join, and returns the resulting checkpoint. Folding the prior
// checkpoint in as the baseline is required, not optional: segmentKeys is
// only ever the manifest's *current* live segments (§4.9's recovery
// replays checkpoint-then-live-segments, so anything already folded into
// an earlier checkpoint is no longer present in any live segment) — a
// compaction that only looked at segmentKeys would silently drop every
// key folded by an earlier round. Compact does not itself write the
// checkpoint or mutate the manifest; callers combine Compact with writing
// the checkpoint object and then updating the manifest atomically (object
// stores offer no multi-key transactions, so the manifest update is the
// commit point per spec.md §4.10).
func (c *Compactor) Compact(ctx context.Context, generation uint64, baseCheckpointKey string, segmentKeys []string) (Checkpoint, error) {
	folded := make(map[string]crdt.Value)
	kinds := make(map[string]uint8)
	expiry := make(map[string]int64)
	order := make([]string, 0)
	seen := make(map[string]bool)

	if baseCheckpointKey != "" {
		base, err := c.loadCheckpoint(ctx, baseCheckpointKey)
		if err != nil {
			return Checkpoint{}, err
		}
		for _, rec := range base.Records {
			keyStr := string(rec.Key)
			seen[keyStr] = true
			order = append(order, keyStr)
			folded[keyStr] = rec.Value
			kinds[keyStr] = rec.EntryKind
			if rec.ExpiryMs != 0 {
				expiry[keyStr] = rec.ExpiryMs
			}
		}
	}

	results := make([][]delta.Delta, len(segmentKeys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxInFlight)
	for i, key := range segmentKeys {
		i, key := i, key
		g.Go(func() error {
			deltas, err := c.loadSegment(gctx, key)
			if err != nil {
				return err
			}
			results[i] = deltas
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Checkpoint{}, err
	}

	for _, deltas := range results {
		for _, d := range deltas {
			keyStr := string(d.Key)
			if !seen[keyStr] {
				seen[keyStr] = true
				order = append(order, keyStr)
			}
			if d.Op == delta.OpDel {
				delete(folded, keyStr)
				delete(expiry, keyStr)
				delete(kinds, keyStr)
				continue
			}
			if d.ExpiryMs != 0 {
				expiry[keyStr] = d.ExpiryMs
			}
			if d.Op == delta.OpPersist {
				delete(expiry, keyStr)
				continue
			}
			if d.NewValue == nil {
				continue
			}
			kinds[keyStr] = d.EntryKind
			if existing, ok := folded[keyStr]; ok && existing.Kind == d.NewValue.Kind {
				folded[keyStr] = existing.Join(*d.NewValue)
			} else {
				folded[keyStr] = *d.NewValue
			}
		}
	}

	sort.Strings(order)
	records := make([]CheckpointRecord, 0, len(order))
	for _, k := range order {
		v, ok := folded[k]
		if !ok {
			continue
		}
		records = append(records, CheckpointRecord{Key: []byte(k), Value: v, ExpiryMs: expiry[k], EntryKind: kinds[k]})
	}

	return Checkpoint{Generation: generation, Records: records}, nil
}

// WriteCheckpoint serializes and stores cp under its generation's
// checkpoint key.
func (c *Compactor) WriteCheckpoint(ctx context.Context, cp Checkpoint) (string, error) {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return "", err
	}
	key := idgen.CheckpointKey(cp.Generation)
	if err := c.store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("persistence: write checkpoint %s: %w", key, err)
	}
	return key, nil
}
