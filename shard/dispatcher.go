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

// Dispatcher routes a command's keys to their owning shard actor by a
// stable hash, fans out multi-key commands (MSET/MGET/multi-key DEL)
// across the shards they touch, and answers server-level commands that
// span every shard (DBSIZE/FLUSHALL/FLUSHDB). Commands that touch no shard
// (PING/ECHO/SELECT) are answered by server.Dispatch, not here.
package shard

import (
	"hash/fnv"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
)

// Dispatcher owns the fixed set of shard actors for this node and routes
// keys to them. ShardCount never changes after NewDispatcher: spec.md
// treats resharding as out of scope.
type Dispatcher struct {
	shards []*Actor
}

// NewDispatcher creates shardCount actors, each with its own Lamport clock
// source seeded from nodeID, and wires onDelta as every actor's delta
// sink.
func NewDispatcher(shardCount int, nodeID uint64, clock clockutil.Clock, onDelta func(delta.Delta)) *Dispatcher {
	d := &Dispatcher{shards: make([]*Actor, shardCount)}
	for i := range d.shards {
		d.shards[i] = NewActor(uint32(i), nodeID, clock, onDelta)
	}
	return d
}

// ShardFor returns the shard index a key is routed to.
func (d *Dispatcher) ShardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(d.shards))
}

// Shard returns the actor owning id, for replication/persistence wiring
// that operates per-shard rather than per-key.
func (d *Dispatcher) Shard(id uint32) *Actor {
	return d.shards[id]
}

// ShardCount returns the number of shards this dispatcher owns.
func (d *Dispatcher) ShardCount() int {
	return len(d.shards)
}

// actorFor returns the actor a key routes to.
func (d *Dispatcher) actorFor(key string) *Actor {
	return d.shards[d.ShardFor(key)]
}

// ApplyRemote routes an inbound replicated delta to its owning shard.
func (d *Dispatcher) ApplyRemote(dl delta.Delta, persist func(delta.Delta)) {
	d.shards[dl.ShardID%uint32(len(d.shards))].ApplyRemote(dl, persist)
}

// --- single-key passthroughs ---

func (d *Dispatcher) Set(key string, value []byte, opts SetOptions) (bool, error) {
	return d.actorFor(key).Set(key, value, opts)
}

func (d *Dispatcher) Get(key string) ([]byte, bool, error) {
	return d.actorFor(key).Get(key)
}

func (d *Dispatcher) GetSet(key string, value []byte) ([]byte, bool, error) {
	return d.actorFor(key).GetSet(key, value)
}

func (d *Dispatcher) Del(key string) (bool, error) {
	return d.actorFor(key).Del(key)
}

func (d *Dispatcher) Append(key string, suffix []byte) (int, error) {
	return d.actorFor(key).Append(key, suffix)
}

func (d *Dispatcher) Strlen(key string) (int, error) {
	return d.actorFor(key).Strlen(key)
}

func (d *Dispatcher) IncrBy(key string, amount int64) (int64, error) {
	return d.actorFor(key).IncrBy(key, amount)
}

func (d *Dispatcher) Expire(key string, atMs int64) (bool, error) {
	return d.actorFor(key).Expire(key, atMs)
}

func (d *Dispatcher) TTLMs(key string) (int64, bool, error) {
	return d.actorFor(key).TTLMs(key)
}

func (d *Dispatcher) Persist(key string) (bool, error) {
	return d.actorFor(key).Persist(key)
}

func (d *Dispatcher) SAdd(key string, members ...string) (int, error) {
	return d.actorFor(key).SAdd(key, members...)
}

func (d *Dispatcher) SRem(key string, members ...string) (int, error) {
	return d.actorFor(key).SRem(key, members...)
}

func (d *Dispatcher) SMembers(key string) ([]string, error) {
	return d.actorFor(key).SMembers(key)
}

func (d *Dispatcher) SIsMember(key, member string) (bool, error) {
	return d.actorFor(key).SIsMember(key, member)
}

func (d *Dispatcher) SCard(key string) (int, error) {
	return d.actorFor(key).SCard(key)
}

func (d *Dispatcher) SPop(key string) (string, bool, error) {
	return d.actorFor(key).SPop(key)
}

func (d *Dispatcher) HSet(key, field, value string) (bool, error) {
	return d.actorFor(key).HSet(key, field, value)
}

func (d *Dispatcher) HGet(key, field string) (string, bool, error) {
	return d.actorFor(key).HGet(key, field)
}

func (d *Dispatcher) HDel(key string, fields ...string) (int, error) {
	return d.actorFor(key).HDel(key, fields...)
}

func (d *Dispatcher) HGetAll(key string) (map[string]string, error) {
	return d.actorFor(key).HGetAll(key)
}

func (d *Dispatcher) HIncrBy(key, field string, amount int64) (int64, error) {
	return d.actorFor(key).HIncrBy(key, field, amount)
}

func (d *Dispatcher) HExists(key, field string) (bool, error) {
	return d.actorFor(key).HExists(key, field)
}

func (d *Dispatcher) HKeys(key string) ([]string, error) {
	return d.actorFor(key).HKeys(key)
}

func (d *Dispatcher) HVals(key string) ([]string, error) {
	return d.actorFor(key).HVals(key)
}

func (d *Dispatcher) HLen(key string) (int, error) {
	return d.actorFor(key).HLen(key)
}

func (d *Dispatcher) LPush(key string, values ...string) (int, error) {
	return d.actorFor(key).LPush(key, values...)
}

func (d *Dispatcher) RPush(key string, values ...string) (int, error) {
	return d.actorFor(key).RPush(key, values...)
}

func (d *Dispatcher) LPop(key string) (string, bool, error) {
	return d.actorFor(key).LPop(key)
}

func (d *Dispatcher) RPop(key string) (string, bool, error) {
	return d.actorFor(key).RPop(key)
}

func (d *Dispatcher) LLen(key string) (int, error) {
	return d.actorFor(key).LLen(key)
}

func (d *Dispatcher) LRange(key string, start, stop int) ([]string, error) {
	return d.actorFor(key).LRange(key, start, stop)
}

func (d *Dispatcher) LIndex(key string, idx int) (string, bool, error) {
	return d.actorFor(key).LIndex(key, idx)
}

func (d *Dispatcher) LSet(key string, idx int, value string) error {
	return d.actorFor(key).LSet(key, idx, value)
}

func (d *Dispatcher) LTrim(key string, start, stop int) error {
	return d.actorFor(key).LTrim(key, start, stop)
}

func (d *Dispatcher) ZAdd(key, member string, score float64) (bool, error) {
	return d.actorFor(key).ZAdd(key, member, score)
}

func (d *Dispatcher) ZRem(key string, members ...string) (int, error) {
	return d.actorFor(key).ZRem(key, members...)
}

func (d *Dispatcher) ZScore(key, member string) (float64, bool, error) {
	return d.actorFor(key).ZScore(key, member)
}

func (d *Dispatcher) ZCard(key string) (int, error) {
	return d.actorFor(key).ZCard(key)
}

func (d *Dispatcher) ZIncrBy(key, member string, amount float64) (float64, error) {
	return d.actorFor(key).ZIncrBy(key, member, amount)
}

func (d *Dispatcher) ZRange(key string, start, stop int) ([]string, error) {
	return d.actorFor(key).ZRange(key, start, stop)
}

func (d *Dispatcher) ZRangeByScore(key string, min, max float64) ([]string, error) {
	return d.actorFor(key).ZRangeByScore(key, min, max)
}

// --- multi-key commands ---

// MSet implements MSET k1 v1 k2 v2 ..., grouping writes by owning shard
// and issuing one batched SetMany call per shard (spec.md §4.1): two keys
// of this MSET landing on the same shard commit atomically together, even
// though there is still no cross-shard transaction guarantee across
// shards.
func (d *Dispatcher) MSet(pairs map[string][]byte) error {
	byShard := make(map[uint32]map[string][]byte)
	for k, v := range pairs {
		sid := d.ShardFor(k)
		group := byShard[sid]
		if group == nil {
			group = make(map[string][]byte, 1)
			byShard[sid] = group
		}
		group[k] = v
	}
	for sid, group := range byShard {
		if err := d.shards[sid].SetMany(group); err != nil {
			return err
		}
	}
	return nil
}

// MGet implements MGET k1 k2 ..., preserving request order; a missing key
// reports ok=false at its index.
func (d *Dispatcher) MGet(keys []string) ([][]byte, []bool, error) {
	values := make([][]byte, len(keys))
	exists := make([]bool, len(keys))
	for i, k := range keys {
		v, ok, err := d.Get(k)
		if err != nil {
			return nil, nil, err
		}
		values[i] = v
		exists[i] = ok
	}
	return values, exists, nil
}

// DelMulti implements DEL k1 k2 ..., grouping keys by owning shard and
// issuing one batched DelMany call per shard (spec.md §4.1), returning the
// count actually removed.
func (d *Dispatcher) DelMulti(keys []string) (int, error) {
	byShard := make(map[uint32][]string)
	for _, k := range keys {
		sid := d.ShardFor(k)
		byShard[sid] = append(byShard[sid], k)
	}
	removed := 0
	for sid, group := range byShard {
		n, err := d.shards[sid].DelMany(group)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// --- server-level commands ---

// DBSize implements DBSIZE: the sum of live keys across every shard.
func (d *Dispatcher) DBSize() (int, error) {
	total := 0
	for _, s := range d.shards {
		n, err := s.Len()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// FlushAll implements FLUSHALL/FLUSHDB: clears every shard. This node
// carries a single keyspace (spec.md's SELECT is a no-op), so the two
// commands are identical here.
func (d *Dispatcher) FlushAll() error {
	for _, s := range d.shards {
		if err := s.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// LoadRecovered seeds every shard from a persistence.Recoverer's replayed
// state (§4.9): values/kinds/expiry are keyed by the same key string, and
// each key is routed to its owning shard exactly as a live write would be.
// Takes plain maps rather than a persistence.RecoveredState so this
// package does not need to import the persistence package.
func (d *Dispatcher) LoadRecovered(values map[string]crdt.Value, kinds map[string]uint8, expiry map[string]int64) error {
	for key, v := range values {
		if err := d.actorFor(key).Seed(key, v, Kind(kinds[key]), expiry[key]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot concatenates every shard's Snapshot (§4.5), the full-keyspace
// read anti-entropy resolves diverging Merkle ranges against.
func (d *Dispatcher) Snapshot() ([]delta.Delta, error) {
	var out []delta.Delta
	for _, s := range d.shards {
		deltas, err := s.Snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, deltas...)
	}
	return out, nil
}

// Stop halts every shard actor. Safe to call once.
func (d *Dispatcher) Stop() {
	for _, s := range d.shards {
		s.Stop()
	}
}
