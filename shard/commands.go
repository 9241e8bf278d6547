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

// Command semantics for spec.md §6/§4.1: string, hash, list, set, sorted
// set, expiry and arithmetic operations acting on CRDT-backed storage.
// Every mutation runs inside Actor.Execute so it observes and updates
// state on the single owning goroutine with no locking, and emits exactly
// one Delta per successful mutation (conditional failures like NX/XX and
// WRONGTYPE emit nothing).
package shard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/kverrors"
)

// --- string ---

// SetOptions carries SET's optional modifiers (spec.md §4.1).
type SetOptions struct {
	ExpiryMs int64 // absolute expiry epoch ms, 0 = no expiry
	NX       bool
	XX       bool
}

// Set implements SET k v [EX|PX|EXAT|PXAT] [NX|XX]. Returns false without
// mutating if an NX/XX precondition fails.
func (a *Actor) Set(key string, value []byte, opts SetOptions) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		_, exists := a.getLive(key)
		if opts.NX && exists {
			return false, nil
		}
		if opts.XX && !exists {
			return false, nil
		}
		clock := a.lamport.Tick()
		lww := crdt.NewLWW(value, clock)
		a.entries[key] = &StoredEntry{Kind: KindString, Str: &lww, Lamport: clock}
		if opts.ExpiryMs != 0 {
			a.ttl.Set(key, opts.ExpiryMs)
		} else {
			a.ttl.Persist(key)
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: &lww, Lamport: clock, ExpiryMs: opts.ExpiryMs, EntryKind: uint8(KindString)})
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Get implements GET k. A key last written by INCR/DECR reads back as
// the decimal string of its current counter value.
func (a *Actor) Get(key string) ([]byte, bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return ([]byte)(nil), nil
		}
		switch e.Kind {
		case KindString:
			return append([]byte(nil), e.Str.LWW.Bytes...), nil
		case KindCounter:
			return []byte(strconv.FormatInt(e.Counter.PNCounter.Value(), 10)), nil
		default:
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a string", key)
		}
	})
	if err != nil {
		return nil, false, err
	}
	b, _ := v.([]byte)
	return b, b != nil, nil
}

// GetSet implements GETSET k v: atomically set and return the prior
// value.
func (a *Actor) GetSet(key string, value []byte) ([]byte, bool, error) {
	type result struct {
		prev   []byte
		hadOld bool
	}
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		var prev []byte
		if ok {
			if e.Kind != KindString {
				return nil, kverrors.New(kverrors.WrongType, "key %q is not a string", key)
			}
			prev = append([]byte(nil), e.Str.LWW.Bytes...)
		}
		clock := a.lamport.Tick()
		lww := crdt.NewLWW(value, clock)
		a.entries[key] = &StoredEntry{Kind: KindString, Str: &lww, Lamport: clock}
		a.ttl.Persist(key)
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: &lww, Lamport: clock, EntryKind: uint8(KindString)})
		return result{prev: prev, hadOld: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.prev, r.hadOld, nil
}

// Del implements DEL k, returning whether a key was removed.
func (a *Actor) Del(key string) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		_, existed := a.entries[key]
		if !existed {
			return false, nil
		}
		delete(a.entries, key)
		a.ttl.Persist(key)
		clock := a.lamport.Tick()
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpDel, Lamport: clock})
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SetMany implements the per-shard half of MSET (spec.md §4.1: "groups
// arguments by shard, issues one batched message per shard"): every pair
// routed to this shard is written inside a single Execute call, so two
// keys of the same MSET landing on the same shard are atomic together —
// no other command on this shard's actor can interleave between them.
func (a *Actor) SetMany(pairs map[string][]byte) error {
	_, err := a.Execute(func(a *Actor) (any, error) {
		for key, value := range pairs {
			clock := a.lamport.Tick()
			lww := crdt.NewLWW(value, clock)
			a.entries[key] = &StoredEntry{Kind: KindString, Str: &lww, Lamport: clock}
			a.ttl.Persist(key)
			a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: &lww, Lamport: clock, EntryKind: uint8(KindString)})
		}
		return nil, nil
	})
	return err
}

// DelMany implements the per-shard half of multi-key DEL, returning how
// many of keys actually existed. Like SetMany, the whole batch runs
// inside one Execute call for per-shard atomicity.
func (a *Actor) DelMany(keys []string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		removed := 0
		for _, key := range keys {
			if _, existed := a.entries[key]; !existed {
				continue
			}
			delete(a.entries, key)
			a.ttl.Persist(key)
			clock := a.lamport.Tick()
			a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpDel, Lamport: clock})
			removed++
		}
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Append implements APPEND k v, returning the new length.
func (a *Actor) Append(key string, suffix []byte) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		var base []byte
		if ok {
			if e.Kind != KindString {
				return 0, kverrors.New(kverrors.WrongType, "key %q is not a string", key)
			}
			base = e.Str.LWW.Bytes
		}
		newVal := append(append([]byte(nil), base...), suffix...)
		clock := a.lamport.Tick()
		lww := crdt.NewLWW(newVal, clock)
		a.entries[key] = &StoredEntry{Kind: KindString, Str: &lww, Lamport: clock}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: &lww, Lamport: clock, EntryKind: uint8(KindString)})
		return len(newVal), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Strlen implements STRLEN k.
func (a *Actor) Strlen(key string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindString {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a string", key)
		}
		return len(e.Str.LWW.Bytes), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// --- counters ---

// IncrBy implements INCR/DECR/INCRBY/DECRBY k delta, returning the new
// value. Per spec.md's scenario S3 ("SET c \"abc\"; INCR c -> NOT_INTEGER"),
// SET always produces a plain KindString entry; INCR on a key it has never
// touched (or that a prior SET left as a parseable integer string) seeds a
// PNCounter from that value so concurrent increments across nodes converge
// by summation (join) instead of one side's LWW write clobbering the
// other's.
func (a *Actor) IncrBy(key string, amount int64) (int64, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		var pn *crdt.PNCounter
		switch {
		case !ok:
			pn = crdt.NewPNCounterEmpty()
		case e.Kind == KindCounter:
			pn = e.Counter.PNCounter
		case e.Kind == KindString:
			parsed, perr := strconv.ParseInt(string(e.Str.LWW.Bytes), 10, 64)
			if perr != nil {
				return int64(0), kverrors.New(kverrors.NotInteger, "value is not an integer")
			}
			pn = crdt.NewPNCounterEmpty()
			pn.Add(a.lamport.NodeID(), parsed)
		default:
			return int64(0), kverrors.New(kverrors.WrongType, "key %q is not a string", key)
		}

		current := pn.Value()
		next := current + amount
		if (amount > 0 && next < current) || (amount < 0 && next > current) {
			return int64(0), kverrors.New(kverrors.Overflow, "increment would overflow")
		}
		pn.Add(a.lamport.NodeID(), amount)

		clock := a.lamport.Tick()
		liveVal := crdt.NewPNCounter(pn)
		a.entries[key] = &StoredEntry{Kind: KindCounter, Counter: &liveVal, Lamport: clock}
		// Emit an independent snapshot: pn is mutated in place by future
		// INCRs on this key, so the delta handed to gossip/persistence
		// must not alias its Pos/Neg maps.
		frozen := crdt.NewPNCounter(pn.Join(crdt.NewPNCounterEmpty()))
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpIncr, NewValue: &frozen, Lamport: clock, EntryKind: uint8(KindCounter)})
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// --- expiry ---

// Expire sets key's absolute expiry to atMs, returning false if the key
// does not exist.
func (a *Actor) Expire(key string, atMs int64) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		if _, ok := a.getLive(key); !ok {
			return false, nil
		}
		a.ttl.Set(key, atMs)
		clock := a.lamport.Tick()
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpExpire, Lamport: clock, ExpiryMs: atMs})
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// TTLMs returns the remaining time-to-live in milliseconds and whether
// the key carries an expiry at all.
func (a *Actor) TTLMs(key string) (int64, bool, error) {
	type result struct {
		ms     int64
		hasTTL bool
		exists bool
	}
	v, err := a.Execute(func(a *Actor) (any, error) {
		if _, ok := a.getLive(key); !ok {
			return result{exists: false}, nil
		}
		ms, hasTTL := a.ttl.TTLMs(key, a.clock.NowMs())
		return result{ms: ms, hasTTL: hasTTL, exists: true}, nil
	})
	if err != nil {
		return 0, false, err
	}
	r := v.(result)
	if !r.exists {
		return -2, false, nil // Redis convention: -2 means no such key
	}
	if !r.hasTTL {
		return -1, false, nil // -1 means exists but no expiry
	}
	return r.ms, true, nil
}

// Persist implements PERSIST k, clearing any expiry.
func (a *Actor) Persist(key string) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		if _, ok := a.getLive(key); !ok {
			return false, nil
		}
		removed := a.ttl.Persist(key)
		if removed {
			clock := a.lamport.Tick()
			a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpPersist, Lamport: clock})
		}
		return removed, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// --- set (ORSet-backed) ---

// SAdd implements SADD k m.... Returns the number of newly added
// members.
func (a *Actor) SAdd(key string, members ...string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindSet {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a set", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindSet, Set: crdt.NewORSetEmpty()}
			a.entries[key] = e
		}
		added := 0
		clock := a.lamport.Tick()
		for _, m := range members {
			if !e.Set.Contains(m) {
				added++
			}
			e.Set.Add(m, crdt.Tag{NodeID: clock.NodeID, Counter: clock.Counter})
		}
		e.Lamport = clock
		setVal := crdt.NewORSet(e.Set.Join(crdt.NewORSetEmpty()))
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSadd, NewValue: &setVal, Lamport: clock, EntryKind: uint8(KindSet)})
		return added, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SRem implements SREM k m.... Returns the number of members removed.
func (a *Actor) SRem(key string, members ...string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindSet {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a set", key)
		}
		removed := 0
		for _, m := range members {
			if e.Set.Contains(m) {
				removed++
			}
			e.Set.Remove(m)
		}
		clock := a.lamport.Tick()
		e.Lamport = clock
		setVal := crdt.NewORSet(e.Set.Join(crdt.NewORSetEmpty()))
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSrem, NewValue: &setVal, Lamport: clock, EntryKind: uint8(KindSet)})
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SMembers implements SMEMBERS k.
func (a *Actor) SMembers(key string) ([]string, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return []string(nil), nil
		}
		if e.Kind != KindSet {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a set", key)
		}
		return e.Set.Members(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// SIsMember implements SISMEMBER k m.
func (a *Actor) SIsMember(key, member string) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return false, nil
		}
		if e.Kind != KindSet {
			return false, kverrors.New(kverrors.WrongType, "key %q is not a set", key)
		}
		return e.Set.Contains(member), nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SCard implements SCARD k.
func (a *Actor) SCard(key string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindSet {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a set", key)
		}
		return e.Set.Cardinality(), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SPop implements SPOP k: removes and returns an arbitrary member.
func (a *Actor) SPop(key string) (string, bool, error) {
	type result struct {
		member string
		ok     bool
	}
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return result{}, nil
		}
		if e.Kind != KindSet {
			return result{}, kverrors.New(kverrors.WrongType, "key %q is not a set", key)
		}
		members := e.Set.Members()
		if len(members) == 0 {
			return result{}, nil
		}
		picked := members[0]
		e.Set.Remove(picked)
		clock := a.lamport.Tick()
		e.Lamport = clock
		setVal := crdt.NewORSet(e.Set.Join(crdt.NewORSetEmpty()))
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSrem, NewValue: &setVal, Lamport: clock, EntryKind: uint8(KindSet)})
		return result{member: picked, ok: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(result)
	return r.member, r.ok, nil
}

// --- hash (whole-value LWW snapshot) ---

func (a *Actor) hashSnapshot(e *StoredEntry, clock crdt.Clock) error {
	data, err := json.Marshal(e.Hash)
	if err != nil {
		return fmt.Errorf("shard: marshal hash snapshot: %w", err)
	}
	lww := crdt.NewLWW(data, clock)
	e.Snapshot = &lww
	e.Lamport = clock
	return nil
}

func decodeHashSnapshot(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("shard: unmarshal hash snapshot: %w", err)
	}
	return out, nil
}

func decodeListSnapshot(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("shard: unmarshal list snapshot: %w", err)
	}
	return out, nil
}

func decodeZSetSnapshot(data []byte) (map[string]float64, error) {
	out := make(map[string]float64)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("shard: unmarshal zset snapshot: %w", err)
	}
	return out, nil
}

// applyWholeValueSnapshot re-derives e's native Hash/List/ZSet field from
// its just-joined Snapshot LWW register, so local reads (HGET, LRANGE,
// ZSCORE, ...) see the converged state after a remote apply_delta.
func applyWholeValueSnapshot(e *StoredEntry) {
	var bytesVal []byte
	if e.Snapshot != nil && e.Snapshot.LWW != nil {
		bytesVal = e.Snapshot.LWW.Bytes
	}
	switch e.Kind {
	case KindHash:
		if m, err := decodeHashSnapshot(bytesVal); err == nil {
			e.Hash = m
		}
	case KindList:
		if l, err := decodeListSnapshot(bytesVal); err == nil {
			e.List = l
		}
	case KindZSet:
		if z, err := decodeZSetSnapshot(bytesVal); err == nil {
			e.ZSet = z
		}
	}
}

// HSet implements HSET k field value, returning true if field is new.
func (a *Actor) HSet(key, field, value string) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindHash {
			return false, kverrors.New(kverrors.WrongType, "key %q is not a hash", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindHash, Hash: make(map[string]string)}
			a.entries[key] = e
		}
		_, existed := e.Hash[field]
		e.Hash[field] = value
		clock := a.lamport.Tick()
		if err := a.hashSnapshot(e, clock); err != nil {
			return false, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpHset, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindHash)})
		return !existed, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// HGet implements HGET k field.
func (a *Actor) HGet(key, field string) (string, bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return "", nil
		}
		if e.Kind != KindHash {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a hash", key)
		}
		val, exists := e.Hash[field]
		if !exists {
			return nil, nil
		}
		return val, nil
	})
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

// HDel implements HDEL k field..., returning the number removed.
func (a *Actor) HDel(key string, fields ...string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindHash {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a hash", key)
		}
		removed := 0
		for _, f := range fields {
			if _, exists := e.Hash[f]; exists {
				delete(e.Hash, f)
				removed++
			}
		}
		if removed > 0 {
			clock := a.lamport.Tick()
			if err := a.hashSnapshot(e, clock); err != nil {
				return 0, err
			}
			a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpHdel, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindHash)})
		}
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// HGetAll implements HGETALL k.
func (a *Actor) HGetAll(key string) (map[string]string, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return map[string]string{}, nil
		}
		if e.Kind != KindHash {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a hash", key)
		}
		out := make(map[string]string, len(e.Hash))
		for k, val := range e.Hash {
			out[k] = val
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// HIncrBy implements HINCRBY k field delta.
func (a *Actor) HIncrBy(key, field string, amount int64) (int64, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindHash {
			return int64(0), kverrors.New(kverrors.WrongType, "key %q is not a hash", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindHash, Hash: make(map[string]string)}
			a.entries[key] = e
		}
		var current int64
		if raw, exists := e.Hash[field]; exists {
			parsed, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				return int64(0), kverrors.New(kverrors.NotInteger, "hash field is not an integer")
			}
			current = parsed
		}
		next := current + amount
		e.Hash[field] = strconv.FormatInt(next, 10)
		clock := a.lamport.Tick()
		if err := a.hashSnapshot(e, clock); err != nil {
			return int64(0), err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpHset, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindHash)})
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// HExists implements HEXISTS k field.
func (a *Actor) HExists(key, field string) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return false, nil
		}
		if e.Kind != KindHash {
			return false, kverrors.New(kverrors.WrongType, "key %q is not a hash", key)
		}
		_, exists := e.Hash[field]
		return exists, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// HKeys implements HKEYS k.
func (a *Actor) HKeys(key string) ([]string, error) {
	m, err := a.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// HVals implements HVALS k.
func (a *Actor) HVals(key string) ([]string, error) {
	keys, err := a.HKeys(key)
	if err != nil {
		return nil, err
	}
	m, err := a.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out, nil
}

// HLen implements HLEN k.
func (a *Actor) HLen(key string) (int, error) {
	m, err := a.HGetAll(key)
	if err != nil {
		return 0, err
	}
	return len(m), nil
}

// --- list (whole-value LWW snapshot) ---

func (a *Actor) listSnapshot(e *StoredEntry, clock crdt.Clock) error {
	data, err := json.Marshal(e.List)
	if err != nil {
		return fmt.Errorf("shard: marshal list snapshot: %w", err)
	}
	lww := crdt.NewLWW(data, clock)
	e.Snapshot = &lww
	e.Lamport = clock
	return nil
}

// normIndex resolves a possibly-negative Redis-style list index against
// length n, returning ok=false if it falls outside [0,n).
func normIndex(idx, n int) (int, bool) {
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

// LPush implements LPUSH k v..., returning the new length. Elements are
// pushed one at a time in argument order, so the last argument ends up
// at the head.
func (a *Actor) LPush(key string, values ...string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindList {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindList}
			a.entries[key] = e
		}
		for _, val := range values {
			e.List = append([]string{val}, e.List...)
		}
		clock := a.lamport.Tick()
		if err := a.listSnapshot(e, clock); err != nil {
			return 0, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindList)})
		return len(e.List), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// RPush implements RPUSH k v....
func (a *Actor) RPush(key string, values ...string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindList {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindList}
			a.entries[key] = e
		}
		e.List = append(e.List, values...)
		clock := a.lamport.Tick()
		if err := a.listSnapshot(e, clock); err != nil {
			return 0, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindList)})
		return len(e.List), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// LPop implements LPOP k.
func (a *Actor) LPop(key string) (string, bool, error) {
	return a.listPop(key, true)
}

// RPop implements RPOP k.
func (a *Actor) RPop(key string) (string, bool, error) {
	return a.listPop(key, false)
}

func (a *Actor) listPop(key string, fromHead bool) (string, bool, error) {
	type result struct {
		value string
		ok    bool
	}
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return result{}, nil
		}
		if e.Kind != KindList {
			return result{}, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		if len(e.List) == 0 {
			return result{}, nil
		}
		var popped string
		if fromHead {
			popped = e.List[0]
			e.List = e.List[1:]
		} else {
			popped = e.List[len(e.List)-1]
			e.List = e.List[:len(e.List)-1]
		}
		clock := a.lamport.Tick()
		if err := a.listSnapshot(e, clock); err != nil {
			return result{}, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindList)})
		return result{value: popped, ok: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(result)
	return r.value, r.ok, nil
}

// LLen implements LLEN k.
func (a *Actor) LLen(key string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindList {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		return len(e.List), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// LRange implements LRANGE k start stop with inclusive, possibly-negative
// bounds clamped to the list's extent.
func (a *Actor) LRange(key string, start, stop int) ([]string, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return []string(nil), nil
		}
		if e.Kind != KindList {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		n := len(e.List)
		if n == 0 {
			return []string(nil), nil
		}
		if start < 0 {
			start += n
		}
		if stop < 0 {
			stop += n
		}
		if start < 0 {
			start = 0
		}
		if stop >= n {
			stop = n - 1
		}
		if start > stop || start >= n {
			return []string(nil), nil
		}
		out := make([]string, stop-start+1)
		copy(out, e.List[start:stop+1])
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// LIndex implements LINDEX k idx.
func (a *Actor) LIndex(key string, idx int) (string, bool, error) {
	type result struct {
		value string
		ok    bool
	}
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return result{}, nil
		}
		if e.Kind != KindList {
			return result{}, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		i, inRange := normIndex(idx, len(e.List))
		if !inRange {
			return result{}, nil
		}
		return result{value: e.List[i], ok: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := v.(result)
	return r.value, r.ok, nil
}

// LSet implements LSET k idx v.
func (a *Actor) LSet(key string, idx int, value string) error {
	_, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return nil, kverrors.New(kverrors.NotFound, "no such key %q", key)
		}
		if e.Kind != KindList {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		i, inRange := normIndex(idx, len(e.List))
		if !inRange {
			return nil, kverrors.New(kverrors.Syntax, "index out of range")
		}
		e.List[i] = value
		clock := a.lamport.Tick()
		if err := a.listSnapshot(e, clock); err != nil {
			return nil, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindList)})
		return nil, nil
	})
	return err
}

// LTrim implements LTRIM k start stop, keeping only the inclusive range.
func (a *Actor) LTrim(key string, start, stop int) error {
	_, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return nil, nil
		}
		if e.Kind != KindList {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a list", key)
		}
		n := len(e.List)
		if start < 0 {
			start += n
		}
		if stop < 0 {
			stop += n
		}
		if start < 0 {
			start = 0
		}
		if stop >= n {
			stop = n - 1
		}
		var trimmed []string
		if start > stop || start >= n || n == 0 {
			trimmed = nil
		} else {
			trimmed = append([]string(nil), e.List[start:stop+1]...)
		}
		e.List = trimmed
		clock := a.lamport.Tick()
		if err := a.listSnapshot(e, clock); err != nil {
			return nil, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpSet, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindList)})
		return nil, nil
	})
	return err
}

// --- sorted set (whole-value LWW snapshot) ---

func (a *Actor) zsetSnapshot(e *StoredEntry, clock crdt.Clock) error {
	data, err := json.Marshal(e.ZSet)
	if err != nil {
		return fmt.Errorf("shard: marshal zset snapshot: %w", err)
	}
	lww := crdt.NewLWW(data, clock)
	e.Snapshot = &lww
	e.Lamport = clock
	return nil
}

// ZAdd implements ZADD k score member, returning true if member is new.
func (a *Actor) ZAdd(key string, member string, score float64) (bool, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindZSet {
			return false, kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindZSet, ZSet: make(map[string]float64)}
			a.entries[key] = e
		}
		_, existed := e.ZSet[member]
		e.ZSet[member] = score
		clock := a.lamport.Tick()
		if err := a.zsetSnapshot(e, clock); err != nil {
			return false, err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpZadd, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindZSet)})
		return !existed, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ZRem implements ZREM k member..., returning the number removed.
func (a *Actor) ZRem(key string, members ...string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindZSet {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		removed := 0
		for _, m := range members {
			if _, exists := e.ZSet[m]; exists {
				delete(e.ZSet, m)
				removed++
			}
		}
		if removed > 0 {
			clock := a.lamport.Tick()
			if err := a.zsetSnapshot(e, clock); err != nil {
				return 0, err
			}
			a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpZrem, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindZSet)})
		}
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ZScore implements ZSCORE k member.
func (a *Actor) ZScore(key, member string) (float64, bool, error) {
	type result struct {
		score float64
		ok    bool
	}
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return result{}, nil
		}
		if e.Kind != KindZSet {
			return result{}, kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		score, exists := e.ZSet[member]
		return result{score: score, ok: exists}, nil
	})
	if err != nil {
		return 0, false, err
	}
	r := v.(result)
	return r.score, r.ok, nil
}

// ZCard implements ZCARD k.
func (a *Actor) ZCard(key string) (int, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return 0, nil
		}
		if e.Kind != KindZSet {
			return 0, kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		return len(e.ZSet), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ZIncrBy implements ZINCRBY k delta member, returning the new score.
func (a *Actor) ZIncrBy(key, member string, amount float64) (float64, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if ok && e.Kind != KindZSet {
			return float64(0), kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		if !ok {
			e = &StoredEntry{Kind: KindZSet, ZSet: make(map[string]float64)}
			a.entries[key] = e
		}
		next := e.ZSet[member] + amount
		e.ZSet[member] = next
		clock := a.lamport.Tick()
		if err := a.zsetSnapshot(e, clock); err != nil {
			return float64(0), err
		}
		a.emit(delta.Delta{ShardID: a.ID, Key: []byte(key), Op: delta.OpZadd, NewValue: e.Snapshot, Lamport: clock, EntryKind: uint8(KindZSet)})
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

type zsetMember struct {
	Member string
	Score  float64
}

// ZRange implements ZRANGE k start stop: rank-ordered by score ascending,
// ties broken lexically by member, with Redis-style possibly-negative
// inclusive bounds.
func (a *Actor) ZRange(key string, start, stop int) ([]string, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return []string(nil), nil
		}
		if e.Kind != KindZSet {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		members := sortedZSetMembers(e.ZSet)
		n := len(members)
		if n == 0 {
			return []string(nil), nil
		}
		if start < 0 {
			start += n
		}
		if stop < 0 {
			stop += n
		}
		if start < 0 {
			start = 0
		}
		if stop >= n {
			stop = n - 1
		}
		if start > stop || start >= n {
			return []string(nil), nil
		}
		out := make([]string, 0, stop-start+1)
		for _, m := range members[start : stop+1] {
			out = append(out, m.Member)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// ZRangeByScore implements ZRANGEBYSCORE k min max.
func (a *Actor) ZRangeByScore(key string, min, max float64) ([]string, error) {
	v, err := a.Execute(func(a *Actor) (any, error) {
		e, ok := a.getLive(key)
		if !ok {
			return []string(nil), nil
		}
		if e.Kind != KindZSet {
			return nil, kverrors.New(kverrors.WrongType, "key %q is not a sorted set", key)
		}
		members := sortedZSetMembers(e.ZSet)
		out := make([]string, 0, len(members))
		for _, m := range members {
			if m.Score >= min && m.Score <= max {
				out = append(out, m.Member)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func sortedZSetMembers(zset map[string]float64) []zsetMember {
	out := make([]zsetMember, 0, len(zset))
	for member, score := range zset {
		out = append(out, zsetMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}
