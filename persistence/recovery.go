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

// Recovery rebuilds a shard's keyspace on startup (spec.md §4.9): read the
// manifest, load the checkpoint if one is recorded, then replay every
// live segment sealed after that checkpoint, Join-ing their deltas on top
// of the checkpointed state. A segment whose tail is corrupt (the writer
// crashed mid-append) is salvaged with segment.DecodeTolerant rather than
// aborting recovery entirely, matching the teacher's FileLogfile.ReplayLog
// (storage/persistence-files.go) which keeps scanning after a malformed
// log line instead of failing the whole database load.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/segment"
)

func encodeCheckpoint(cp Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("persistence: marshal checkpoint: %w", err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("persistence: unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// RecoveredState is the fully-folded keyspace produced by one recovery
// run, ready to be loaded into a shard actor.
type RecoveredState struct {
	Values map[string]crdt.Value
	Expiry map[string]int64
	// Kinds records each key's shard.Kind (string/counter/hash/list/set/
	// zset) tag, since crdt.Value alone cannot distinguish a plain string
	// from a whole-value hash/list/zset snapshot (both are KindLWW).
	Kinds map[string]uint8
	// SalvagedSegments lists segment keys that had a corrupt tail and were
	// truncated rather than replayed in full, so operators can be warned.
	SalvagedSegments []string
}

// Recoverer replays a manifest's checkpoint and live segments into a
// RecoveredState.
type Recoverer struct {
	store objectstore.Store
	// sf dedupes concurrent fetches of the same object key: a checkpoint
	// or segment referenced by more than one in-flight Recover call (a
	// node restarting while a peer's recovery-triggered backfill request
	// is still in flight against the same store) is only fetched once.
	sf singleflight.Group
}

// NewRecoverer creates a Recoverer reading from store.
func NewRecoverer(store objectstore.Store) *Recoverer {
	return &Recoverer{store: store}
}

func (r *Recoverer) get(ctx context.Context, key string) ([]byte, error) {
	v, err, _ := r.sf.Do(key, func() (any, error) {
		return r.store.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Recover loads m's checkpoint (if any) and replays every segment in
// m.LiveSegments on top of it, in order.
func (r *Recoverer) Recover(ctx context.Context, m segment.Manifest) (RecoveredState, error) {
	state := RecoveredState{
		Values: make(map[string]crdt.Value),
		Expiry: make(map[string]int64),
		Kinds:  make(map[string]uint8),
	}

	if m.CheckpointKey != "" {
		data, err := r.get(ctx, m.CheckpointKey)
		if err != nil && err != objectstore.ErrNotFound {
			return RecoveredState{}, fmt.Errorf("persistence: load checkpoint %s: %w", m.CheckpointKey, err)
		}
		if err == nil {
			cp, err := decodeCheckpoint(data)
			if err != nil {
				return RecoveredState{}, err
			}
			for _, rec := range cp.Records {
				state.Values[string(rec.Key)] = rec.Value
				state.Kinds[string(rec.Key)] = rec.EntryKind
				if rec.ExpiryMs != 0 {
					state.Expiry[string(rec.Key)] = rec.ExpiryMs
				}
			}
		}
	}

	for _, segKey := range m.LiveSegments {
		data, err := r.get(ctx, segKey)
		if err != nil {
			return RecoveredState{}, fmt.Errorf("persistence: load segment %s: %w", segKey, err)
		}

		deltas, decodeErr := segment.Decode(data)
		if decodeErr != nil {
			deltas, _, ok := segment.DecodeTolerant(data)
			if !ok {
				return RecoveredState{}, fmt.Errorf("persistence: segment %s unreadable: %w", segKey, decodeErr)
			}
			state.SalvagedSegments = append(state.SalvagedSegments, segKey)
			applyDeltas(&state, deltas)
			continue
		}
		applyDeltas(&state, deltas)
	}

	return state, nil
}

func applyDeltas(state *RecoveredState, deltas []delta.Delta) {
	for _, d := range deltas {
		keyStr := string(d.Key)
		if d.Op == delta.OpDel {
			delete(state.Values, keyStr)
			delete(state.Expiry, keyStr)
			delete(state.Kinds, keyStr)
			continue
		}
		if d.Op == delta.OpPersist {
			delete(state.Expiry, keyStr)
			continue
		}
		if d.ExpiryMs != 0 {
			state.Expiry[keyStr] = d.ExpiryMs
		}
		if d.NewValue == nil {
			continue
		}
		state.Kinds[keyStr] = d.EntryKind
		if existing, ok := state.Values[keyStr]; ok && existing.Kind == d.NewValue.Kind {
			state.Values[keyStr] = existing.Join(*d.NewValue)
		} else {
			state.Values[keyStr] = *d.NewValue
		}
	}
}
