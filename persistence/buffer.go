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

// Package persistence is the streaming write path of spec.md §4.7: deltas
// accumulate in an in-memory segment buffer and seal to the object store
// either once the buffer crosses its byte threshold or a flush timer
// fires, whichever comes first. The single-goroutine, channel-serialized
// mutation pattern is grounded directly on storage/cache.go's
// CacheManager: one opChan, one run() loop owning all buffer state, and
// callers block on a done channel rather than sharing a mutex.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/idgen"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/segment"
)

type bufferOp struct {
	append *delta.Delta
	flush  bool
	done   chan error
}

// maxSealRetries/sealBackoffBase bound the §4.7 failure policy: retry a
// segment PUT against objectstore.ErrTransient with doubling backoff
// before giving up and surfacing Failing.
const maxSealRetries = 5

const sealBackoffBase = 50 * time.Millisecond

// Buffer accumulates deltas (from every shard that feeds it) and seals
// them into segment objects. All mutation runs on a single goroutine (run), matching the
// teacher's CacheManager actor so no buffer field needs its own lock.
type Buffer struct {
	store      objectstore.Store
	manifest   *ManifestStore
	sequencer  *idgen.Sequencer
	clock      clockutil.Clock
	maxBytes   int64
	maxAge     time.Duration

	// onSealError reports a seal failure that has no synchronous caller to
	// return it to (the age-timer-triggered seal runs on a timer tick, not
	// inside an Append/Flush call). nil is a valid no-op default.
	onSealError func(error)

	opChan chan bufferOp
	stopCh chan struct{}
	doneCh chan struct{}

	failing atomic.Bool

	mu             sync.Mutex // guards sealedSegments, read by callers without going through the actor
	sealedSegments []string
}

// NewBuffer creates a write buffer that seals a segment as soon as an
// append brings it to maxBytes or more (so a segment can exceed maxBytes
// by its last record), flushing early if maxAgeMs milliseconds pass since the first
// buffered delta. Every successful seal is folded into manifest so the
// manifest object stays the only synchronization point recovery needs.
func NewBuffer(store objectstore.Store, manifest *ManifestStore, sequencer *idgen.Sequencer, clock clockutil.Clock, maxBytes int64, maxAgeMs int64) *Buffer {
	b := &Buffer{
		store:     store,
		manifest:  manifest,
		sequencer: sequencer,
		clock:     clock,
		maxBytes:  maxBytes,
		maxAge:    time.Duration(maxAgeMs) * time.Millisecond,
		opChan:    make(chan bufferOp, 1024),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go b.run()
	return b
}

// SetSealErrorHandler installs fn to be called with a seal error that
// arises outside any synchronous Append/Flush caller, i.e. from the
// age-timer trigger. Call before any delta reaches this buffer.
func (b *Buffer) SetSealErrorHandler(fn func(error)) {
	b.onSealError = fn
}

// Append adds d to the buffer, blocking until the actor has processed it
// (and, if this append crossed maxBytes, until the resulting segment is
// sealed to the object store).
func (b *Buffer) Append(ctx context.Context, d delta.Delta) error {
	done := make(chan error, 1)
	cp := d.Clone()
	select {
	case b.opChan <- bufferOp{append: &cp, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces the current buffer to seal immediately, even if under
// maxBytes. Used on graceful shutdown and before compaction snapshots.
func (b *Buffer) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case b.opChan <- bufferOp{flush: true, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SealedSegments returns every segment key sealed so far, oldest first.
func (b *Buffer) SealedSegments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sealedSegments))
	copy(out, b.sealedSegments)
	return out
}

// Failing reports whether the most recent segment seal exhausted its
// retries against the object store (§4.7's PersistenceFailing state).
func (b *Buffer) Failing() bool {
	return b.failing.Load()
}

func (b *Buffer) run() {
	defer close(b.doneCh)
	enc := segment.NewEncoder()
	ctx := context.Background()
	var ageTimer <-chan time.Time

	for {
		select {
		case <-b.stopCh:
			if enc.Len() > segmentHeaderOnly {
				b.seal(ctx, enc)
			}
			return
		case <-ageTimer:
			ageTimer = nil
			if enc.Len() > segmentHeaderOnly {
				if err := b.seal(ctx, enc); err != nil && b.onSealError != nil {
					b.onSealError(err)
				}
				enc = segment.NewEncoder()
			}
		case op, ok := <-b.opChan:
			if !ok {
				return
			}
			if op.append != nil {
				wasEmpty := enc.Len() <= segmentHeaderOnly
				if err := enc.Append(*op.append); err != nil {
					op.done <- fmt.Errorf("persistence: buffer append: %w", err)
					continue
				}
				if wasEmpty && b.maxAge > 0 {
					ageTimer = b.clock.After(b.maxAge)
				}
				var sealErr error
				if int64(enc.Len()) >= b.maxBytes {
					sealErr = b.seal(ctx, enc)
					enc = segment.NewEncoder()
					ageTimer = nil
				}
				op.done <- sealErr
			} else if op.flush {
				var sealErr error
				if enc.Len() > segmentHeaderOnly {
					sealErr = b.seal(ctx, enc)
					enc = segment.NewEncoder()
					ageTimer = nil
				}
				op.done <- sealErr
			}
		}
	}
}

// segmentHeaderOnly is the encoded length of an empty segment (header,
// no records), used to decide whether Flush has anything worth sealing.
const segmentHeaderOnly = 6

// seal uploads enc's bytes under a fresh segment key, retrying transient
// object-store errors with bounded exponential backoff (§4.7's failure
// policy), then folds the new segment into the manifest so it is visible
// to recovery as soon as it is visible to anyone.
func (b *Buffer) seal(ctx context.Context, enc *segment.Encoder) error {
	key := b.sequencer.NextSegmentKey()
	if err := b.retryPut(ctx, key, enc.Bytes()); err != nil {
		b.failing.Store(true)
		return fmt.Errorf("persistence: seal segment %s: %w", key, err)
	}
	if err := b.manifest.AddSegment(ctx, key); err != nil {
		// The segment bytes are already durable at key, but recovery only
		// ever walks the manifest's LiveSegments — an uploaded segment
		// the manifest never learns about is invisible to recovery, the
		// same failure mode AddSegment exists to close. Treat it the same
		// as a seal failure: surface it through Failing rather than
		// silently dropping the delta's effect on the ground.
		b.failing.Store(true)
		return fmt.Errorf("persistence: record segment %s in manifest: %w", key, err)
	}
	b.failing.Store(false)

	b.mu.Lock()
	b.sealedSegments = append(b.sealedSegments, key)
	b.mu.Unlock()
	return nil
}

// retryPut uploads data under key, retrying only objectstore.ErrTransient
// failures with doubling backoff up to maxSealRetries attempts.
func (b *Buffer) retryPut(ctx context.Context, key string, data []byte) error {
	backoff := sealBackoffBase
	var err error
	for attempt := 0; attempt < maxSealRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-b.clock.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		err = b.store.Put(ctx, key, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, objectstore.ErrTransient) {
			return err
		}
	}
	return err
}

// Stop seals any partially-filled segment and stops the actor goroutine.
func (b *Buffer) Stop() {
	close(b.stopCh)
	<-b.doneCh
}
