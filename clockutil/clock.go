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

// Package clockutil provides the injected virtual-clock boundary required
// by spec.md §5/§9: "every site reading now receives a clock from its
// owner; no direct system-time calls below the boundary." TTL expiry,
// gossip/anti-entropy ticking and persistence buffer aging all read time
// through a Clock so the deterministic simulation harness can drive them
// with a virtual clock instead of wall time.
package clockutil

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the minimal time source every actor depends on.
type Clock interface {
	NowMs() int64
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// Real wraps the operating system clock.
type Real struct{}

func (Real) NowMs() int64 { return time.Now().UnixMilli() }

func (Real) Sleep(d time.Duration) { time.Sleep(d) }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Virtual is a manually-advanced clock for the deterministic simulation
// harness (§5): every run advances it explicitly instead of sleeping on
// wall time, so runs are replayable given the same advance sequence.
type Virtual struct {
	nowMs int64 // atomic

	mu       sync.Mutex
	waiters  []virtualWaiter
}

type virtualWaiter struct {
	deadline int64
	ch       chan time.Time
}

// NewVirtual creates a virtual clock starting at the given absolute
// millisecond epoch.
func NewVirtual(startMs int64) *Virtual {
	return &Virtual{nowMs: startMs}
}

func (v *Virtual) NowMs() int64 {
	return atomic.LoadInt64(&v.nowMs)
}

// Sleep blocks the calling goroutine until the virtual clock has advanced
// by at least d. It is implemented in terms of After so a concurrent
// Advance call unblocks it.
func (v *Virtual) Sleep(d time.Duration) {
	<-v.After(d)
}

// After returns a channel that fires once the virtual clock reaches
// NowMs()+d. Multiple pending Afters are woken in deadline order as
// Advance moves the clock forward.
func (v *Virtual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	deadline := v.NowMs() + d.Milliseconds()
	v.mu.Lock()
	if deadline <= v.NowMs() {
		v.mu.Unlock()
		ch <- timeAt(deadline)
		return ch
	}
	v.waiters = append(v.waiters, virtualWaiter{deadline: deadline, ch: ch})
	v.mu.Unlock()
	return ch
}

// Advance moves the virtual clock forward by d and wakes any waiter whose
// deadline has been reached.
func (v *Virtual) Advance(d time.Duration) {
	atomic.AddInt64(&v.nowMs, d.Milliseconds())
	now := v.NowMs()

	v.mu.Lock()
	remaining := v.waiters[:0]
	fire := make([]virtualWaiter, 0, len(v.waiters))
	for _, w := range v.waiters {
		if w.deadline <= now {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining
	v.mu.Unlock()

	sort.SliceStable(fire, func(i, j int) bool { return fire[i].deadline < fire[j].deadline })
	for _, w := range fire {
		w.ch <- timeAt(w.deadline)
	}
}

func timeAt(ms int64) time.Time {
	return time.UnixMilli(ms)
}
