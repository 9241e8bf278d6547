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

// Actor is the single-owner goroutine behind one shard, grounded directly
// on storage/cache.go's CacheManager: one buffered opChan, one run() loop
// that is the sole mutator of the shard's map, callers block on a
// per-call done channel instead of taking a mutex. TTL expiry (spec.md
// §4.2) is driven by the same actor loop via a coarse timer read from an
// injected clockutil.Clock, so expiry and command execution never race.
package shard

import (
	"time"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/ttl"
)

// TickInterval is how often the actor wakes to drain expired TTL
// entries, matching spec.md §4.2's "coarse timer (e.g. 50ms)".
const TickInterval = 50 * time.Millisecond

type actorOp struct {
	fn    func(*Actor) (any, error)
	reply chan actorResult
}

type actorResult struct {
	value any
	err   error
}

// Actor owns one shard's keyspace: its entries map, TTL heap, and Lamport
// clock source. All mutation happens inside run(), scheduled by commands
// submitted through Execute.
type Actor struct {
	ID uint32

	clock   clockutil.Clock
	lamport *crdt.ClockSource

	entries map[string]*StoredEntry
	ttl     *ttl.Heap

	onDelta func(delta.Delta)

	opChan chan actorOp
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewActor creates and starts a shard actor. onDelta is invoked
// synchronously on the actor goroutine for every mutation that produces a
// delta (Set/Del/Incr/...); callers typically fan it out to both the
// gossip outbound queue and the persistence write buffer.
func NewActor(id uint32, nodeID uint64, clock clockutil.Clock, onDelta func(delta.Delta)) *Actor {
	a := &Actor{
		ID:      id,
		clock:   clock,
		lamport: crdt.NewClockSource(nodeID),
		entries: make(map[string]*StoredEntry),
		ttl:     ttl.New(),
		onDelta: onDelta,
		opChan:  make(chan actorOp, 1024),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go a.run()
	go a.tickLoop()
	return a
}

// Execute submits fn to run on the actor goroutine and blocks until it
// completes, returning whatever fn returns.
func (a *Actor) Execute(fn func(*Actor) (any, error)) (any, error) {
	reply := make(chan actorResult, 1)
	a.opChan <- actorOp{fn: fn, reply: reply}
	res := <-reply
	return res.value, res.err
}

func (a *Actor) run() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case op, ok := <-a.opChan:
			if !ok {
				return
			}
			v, err := op.fn(a)
			op.reply <- actorResult{value: v, err: err}
		}
	}
}

func (a *Actor) tickLoop() {
	for {
		select {
		case <-a.stopCh:
			return
		case <-a.clock.After(TickInterval):
			a.Execute(func(a *Actor) (any, error) {
				a.expireDue()
				return nil, nil
			})
		}
	}
}

func (a *Actor) expireDue() {
	now := a.clock.NowMs()
	for _, key := range a.ttl.PopExpired(now) {
		if _, ok := a.entries[key]; !ok {
			continue
		}
		delete(a.entries, key)
		a.emit(delta.Delta{
			ShardID:   a.ID,
			Key:       []byte(key),
			Op:        delta.OpDel,
			Lamport:   a.lamport.Tick(),
			Timestamp: now,
		})
	}
}

// emit stamps ts and forwards d to onDelta, if configured.
func (a *Actor) emit(d delta.Delta) {
	if d.Timestamp == 0 {
		d.Timestamp = a.clock.NowMs()
	}
	if a.onDelta != nil {
		a.onDelta(d)
	}
}

// getLive returns the entry for key if present and not expired,
// performing the lazy just-in-time expiry check spec.md §4.2 requires of
// GET-like accessors.
func (a *Actor) getLive(key string) (*StoredEntry, bool) {
	e, ok := a.entries[key]
	if !ok {
		return nil, false
	}
	if ttlMs, hasTTL := a.ttl.TTLMs(key, a.clock.NowMs()); hasTTL && ttlMs == 0 {
		delete(a.entries, key)
		a.ttl.Persist(key)
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpDel, Lamport: a.lamport.Tick()})
		return nil, false
	}
	return e, true
}

// ApplyRemote joins an inbound replicated delta into local state,
// implementing spec.md §4.4's apply_delta: join the inbound value with
// any existing entry, advance lamport to max(local, inbound), and if the
// result differs from what was stored, emit a PERSISTENCE-only delta
// (never re-emit to gossip, which would storm the cluster).
func (a *Actor) ApplyRemote(d delta.Delta, persist func(delta.Delta)) {
	a.Execute(func(a *Actor) (any, error) {
		a.applyRemoteLocked(d, persist)
		return nil, nil
	})
}

func (a *Actor) applyRemoteLocked(d delta.Delta, persist func(delta.Delta)) {
	key := string(d.Key)
	a.lamport.Observe(d.Lamport)

	if d.Op == delta.OpDel {
		if _, existed := a.entries[key]; existed {
			delete(a.entries, key)
			a.ttl.Persist(key)
			if persist != nil {
				persist(d)
			}
		}
		return
	}
	if d.Op == delta.OpPersist {
		if a.ttl.Persist(key) && persist != nil {
			persist(d)
		}
		return
	}
	if d.NewValue == nil {
		return
	}

	kind := Kind(d.EntryKind)
	if kind == KindNone {
		kind = KindString
	}

	existing, ok := a.entries[key]
	var changed bool
	if !ok || existing.Kind != kind {
		existing = &StoredEntry{Kind: kind, Lamport: d.Lamport}
		a.entries[key] = existing
		changed = true
	}

	switch kind {
	case KindString:
		if existing.Str == nil {
			existing.Str = d.NewValue
			changed = true
		} else {
			joined := existing.Str.Join(*d.NewValue)
			changed = changed || !joined.Equal(*existing.Str)
			existing.Str = &joined
		}
	case KindCounter:
		if existing.Counter == nil {
			existing.Counter = d.NewValue
			changed = true
		} else {
			joined := existing.Counter.Join(*d.NewValue)
			changed = changed || !joined.Equal(*existing.Counter)
			existing.Counter = &joined
		}
	case KindSet:
		if existing.Set == nil {
			existing.Set = crdt.NewORSetEmpty()
			changed = true
		}
		joined := existing.Set.Join(d.NewValue.ORSet)
		changed = changed || !joined.Equal(existing.Set)
		existing.Set = joined
	case KindHash, KindList, KindZSet:
		if existing.Snapshot == nil {
			existing.Snapshot = d.NewValue
			changed = true
		} else {
			joined := existing.Snapshot.Join(*d.NewValue)
			changed = changed || !joined.Equal(*existing.Snapshot)
			existing.Snapshot = &joined
		}
		if changed {
			applyWholeValueSnapshot(existing)
		}
	}

	if d.Lamport.After(existing.Lamport) {
		existing.Lamport = d.Lamport
	}
	if d.ExpiryMs != 0 {
		a.ttl.Set(key, d.ExpiryMs)
	}
	if changed && persist != nil {
		persist(d)
	}
}

// Len returns the number of live (non-expired) keys this shard holds, for
// DBSIZE.
func (a *Actor) Len() (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		a.expireDue()
		return len(a.entries), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// valueOf returns e's current state as a crdt.Value, the same whole-value
// shape a command's own emit already produces for this Kind, so a
// snapshot delta joins against live state exactly like a normal mutation
// would.
func valueOf(e *StoredEntry) *crdt.Value {
	switch e.Kind {
	case KindString:
		return e.Str
	case KindCounter:
		return e.Counter
	case KindSet:
		v := crdt.NewORSet(e.Set)
		return &v
	case KindHash, KindList, KindZSet:
		return e.Snapshot
	default:
		return nil
	}
}

// Snapshot returns one full-value delta per live, non-expired key this
// shard holds, used by anti-entropy (§4.5) both to build this shard's
// Merkle digests and to resolve a diverging range into concrete deltas a
// peer can Join. Unlike gossip/persistence deltas, snapshot deltas are
// never emitted through onDelta: they are a point-in-time read, not a
// mutation.
func (a *Actor) Snapshot() ([]delta.Delta, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		a.expireDue()
		out := make([]delta.Delta, 0, len(a.entries))
		for key, e := range a.entries {
			val := valueOf(e)
			if val == nil {
				continue
			}
			var expiryMs int64
			if at, ok := a.ttl.ExpiresAt(key); ok {
				expiryMs = at
			}
			out = append(out, delta.Delta{
				ShardID:   a.ID,
				Key:       []byte(key),
				Op:        delta.OpSet,
				NewValue:  val,
				Lamport:   e.Lamport,
				ExpiryMs:  expiryMs,
				EntryKind: uint8(e.Kind),
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]delta.Delta), nil
}

// Clear drops every key this shard holds, for FLUSHALL/FLUSHDB. It emits
// one tombstone delta per key first, the same OpDel shape expireDue
// produces, so peers and the persistence log converge on the flush
// instead of quietly retaining keys a flushing node has already dropped.
func (a *Actor) Clear() error {
	_, err := a.Execute(func(a *Actor) (any, error) {
		now := a.clock.NowMs()
		for key := range a.entries {
			delete(a.entries, key)
			a.emit(delta.Delta{
				ShardID:   a.ID,
				Key:       []byte(key),
				Op:        delta.OpDel,
				Lamport:   a.lamport.Tick(),
				Timestamp: now,
			})
		}
		a.ttl = ttl.New()
		return nil, nil
	})
	return err
}

// Seed installs a recovered key directly into the actor's map, bypassing
// emit: recovery replays already-durable state (§4.9), so re-emitting it
// as a fresh delta would double-persist and, worse, re-gossip history to
// peers that may already have converged past it.
func (a *Actor) Seed(key string, value crdt.Value, kind Kind, expiryMs int64) error {
	_, err := a.Execute(func(a *Actor) (any, error) {
		e := &StoredEntry{Kind: kind}
		if value.LWW != nil {
			e.Lamport = value.LWW.Clock
			a.lamport.Observe(value.LWW.Clock)
		}
		switch kind {
		case KindCounter:
			e.Counter = &value
		case KindSet:
			if value.ORSet != nil {
				e.Set = value.ORSet
			} else {
				e.Set = crdt.NewORSetEmpty()
			}
		case KindHash, KindList, KindZSet:
			e.Snapshot = &value
			applyWholeValueSnapshot(e)
		default:
			e.Kind = KindString
			e.Str = &value
		}
		a.entries[key] = e
		if expiryMs != 0 {
			a.ttl.Set(key, expiryMs)
		}
		return nil, nil
	})
	return err
}

// Stop halts the actor's run and tick loops. Safe to call once.
func (a *Actor) Stop() {
	close(a.stopCh)
	<-a.doneCh
}
