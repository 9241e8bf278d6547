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

// ManifestStore is spec.md §4.7/§4.9's "manifest is the ONLY synchronization
// point with respect to persistence": every sealed segment and every
// compaction checkpoint must be folded into the one object-store manifest
// before it is considered durable, or recovery can never find it. Grounded
// on storage/cache.go's actor discipline of owning all mutable state behind
// one lock rather than letting callers race each other into a lost update;
// here the "actor" is a plain mutex rather than a goroutine+channel, since
// the read-modify-write span (one object Get+Put) is short enough that a
// channel hop buys nothing a mutex doesn't already give.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/segment"
)

// ManifestStore serializes every read-modify-write of one shard's manifest
// object so Buffer.seal (appending a newly sealed segment) and a
// compaction run (retiring a folded prefix behind a checkpoint) can never
// race each other into silently dropping a segment.
type ManifestStore struct {
	store objectstore.Store
	clock clockutil.Clock

	mu      sync.Mutex
	current segment.Manifest
}

// NewManifestStore wraps store with initial as the manifest already
// recovered at startup.
func NewManifestStore(store objectstore.Store, clock clockutil.Clock, initial segment.Manifest) *ManifestStore {
	return &ManifestStore{store: store, clock: clock, current: cloneManifest(initial)}
}

func cloneManifest(m segment.Manifest) segment.Manifest {
	out := m
	out.LiveSegments = append([]string(nil), m.LiveSegments...)
	return out
}

// Current returns a snapshot of the manifest as of the last successful
// write. Callers must not mutate the returned slice.
func (s *ManifestStore) Current() segment.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneManifest(s.current)
}

// write persists man to the object store and, only on success, makes it
// the new current snapshot. Retries transient failures with the same
// bounded backoff as Buffer.seal's segment uploads, since a lost manifest
// write is exactly the failure mode this type exists to prevent.
func (s *ManifestStore) write(ctx context.Context, man segment.Manifest) error {
	data, err := segment.EncodeManifest(man)
	if err != nil {
		return err
	}

	backoff := sealBackoffBase
	var putErr error
	for attempt := 0; attempt < maxSealRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-s.clock.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		putErr = s.store.Put(ctx, objectstore.ManifestKey, data)
		if putErr == nil {
			s.current = man
			return nil
		}
		if !errors.Is(putErr, objectstore.ErrTransient) {
			break
		}
	}
	return fmt.Errorf("persistence: write manifest: %w", putErr)
}

// AddSegment appends key to the live segment list and persists the result.
// Called by Buffer.seal immediately after a segment upload succeeds, so a
// sealed segment is never invisible to recovery even if the process dies
// before the next compaction.
func (s *ManifestStore) AddSegment(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneManifest(s.current)
	next.LiveSegments = append(next.LiveSegments, key)
	return s.write(ctx, next)
}

// ReplaceAfterCompaction retires exactly foldedSegments (the prefix of live
// segments a compaction run actually loaded and folded) and points the
// manifest at the new checkpoint, keeping any segment Buffer.seal appended
// after the compaction run took its snapshot. Naively overwriting
// LiveSegments with nil would drop such a segment from the manifest
// permanently, since nothing else ever re-adds it.
func (s *ManifestStore) ReplaceAfterCompaction(ctx context.Context, checkpointKey string, generation uint64, foldedSegments []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folded := make(map[string]bool, len(foldedSegments))
	for _, k := range foldedSegments {
		folded[k] = true
	}
	remaining := make([]string, 0, len(s.current.LiveSegments))
	for _, k := range s.current.LiveSegments {
		if !folded[k] {
			remaining = append(remaining, k)
		}
	}

	next := segment.Manifest{
		Generation:    generation,
		LiveSegments:  remaining,
		CheckpointKey: checkpointKey,
	}
	return s.write(ctx, next)
}
