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

// Package ttl is the per-shard expiry min-heap of spec.md §4.2: every key
// with an EXPIRE/PEXPIRE set is tracked here by absolute expiry time, so
// the shard actor's tick can pop everything due without scanning the
// whole keyspace. container/heap here plays the same "keep a min ordering
// and pop cheaply" role the teacher's CacheManager.cleanup
// (storage/cache.go) fills with a sort.Slice pass over softItems; a heap
// keeps each Set and each entry PopExpired removes O(log n) instead of
// re-sorting the whole set every cycle.
package ttl

import "container/heap"

// Entry is one key's scheduled expiry.
type Entry struct {
	Key       string
	ExpiresAt int64 // absolute millisecond epoch
	index     int   // maintained by container/heap
}

type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].ExpiresAt < h[j].ExpiresAt }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is a min-heap of expiry entries keyed by key name, supporting
// idempotent re-scheduling (Set overwrites any existing entry for the
// same key instead of creating a duplicate).
type Heap struct {
	h       entryHeap
	byKey   map[string]*Entry
}

// New creates an empty expiry heap.
func New() *Heap {
	return &Heap{byKey: make(map[string]*Entry)}
}

// Set schedules key to expire at expiresAt, replacing any prior schedule
// for the same key.
func (t *Heap) Set(key string, expiresAt int64) {
	if e, ok := t.byKey[key]; ok {
		e.ExpiresAt = expiresAt
		heap.Fix(&t.h, e.index)
		return
	}
	e := &Entry{Key: key, ExpiresAt: expiresAt}
	t.byKey[key] = e
	heap.Push(&t.h, e)
}

// Persist removes key's expiry schedule entirely (the PERSIST command).
func (t *Heap) Persist(key string) bool {
	e, ok := t.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&t.h, e.index)
	delete(t.byKey, key)
	return true
}

// TTLMs reports the remaining time-to-live for key at the given current
// time, or (0, false) if key has no schedule.
func (t *Heap) TTLMs(key string, nowMs int64) (int64, bool) {
	e, ok := t.byKey[key]
	if !ok {
		return 0, false
	}
	remaining := e.ExpiresAt - nowMs
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ExpiresAt reports key's absolute scheduled expiry, or (0, false) if key
// carries no schedule. Unlike TTLMs (remaining time relative to a given
// instant), this is the raw epoch value a delta's ExpiryMs field wants.
func (t *Heap) ExpiresAt(key string) (int64, bool) {
	e, ok := t.byKey[key]
	if !ok {
		return 0, false
	}
	return e.ExpiresAt, true
}

// PopExpired removes and returns every key whose expiry has passed at or
// before nowMs, in expiry order.
func (t *Heap) PopExpired(nowMs int64) []string {
	var out []string
	for t.h.Len() > 0 && t.h[0].ExpiresAt <= nowMs {
		e := heap.Pop(&t.h).(*Entry)
		delete(t.byKey, e.Key)
		out = append(out, e.Key)
	}
	return out
}

// Len reports how many keys currently carry an expiry schedule.
func (t *Heap) Len() int {
	return len(t.byKey)
}

// NextDeadline returns the soonest scheduled expiry, or (0, false) if the
// heap is empty. The shard actor does not call it; it polls PopExpired on
// a fixed tick.
func (t *Heap) NextDeadline() (int64, bool) {
	if t.h.Len() == 0 {
		return 0, false
	}
	return t.h[0].ExpiresAt, true
}
