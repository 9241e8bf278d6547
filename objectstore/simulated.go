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

// Simulated is an in-memory Store with seeded fault injection, built for
// the deterministic simulation harness of spec.md §5: persistence and
// recovery must be tested against delayed puts, transient errors, puts
// that silently never land, and bit-corrupted reads, all reproducible from
// one PRNG seed. Nothing in the teacher's storage/ backends has a fault
// harness of this shape; this file is new, following the project's
// injected-Clock convention (clockutil.Clock) rather than calling
// time.Sleep directly so fault delays stay deterministic under the virtual
// clock.
package objectstore

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/launix-de/kvmesh/clockutil"
)

// FaultProfile controls the probability of each fault kind the Simulated
// backend injects on every operation. Probabilities are independent and
// evaluated in the order: delay, transient error, then lost put (Put only)
// or corruption (Get only).
type FaultProfile struct {
	LostPutProb     float64       // Put silently reports success but never stores
	TransientErrProb float64      // operation fails with a retryable error
	CorruptProb     float64       // Get returns bit-flipped bytes
	MaxDelay        time.Duration // operation blocks for a random duration in [0, MaxDelay]
}

// ErrTransient is returned for injected transient failures; callers should
// treat it as retryable.
var ErrTransient = fmt.Errorf("objectstore: injected transient error")

// Simulated is a Store backed by an in-memory map with injected faults,
// driven by a seeded math/rand source for reproducibility across runs.
type Simulated struct {
	clock   clockutil.Clock
	profile FaultProfile
	rng     *rand.Rand
	rngMu   sync.Mutex

	mu   sync.Mutex
	data map[string][]byte
}

// NewSimulated creates a Simulated store. seed makes fault injection and
// delay selection reproducible: the same seed and the same sequence of
// calls always injects the same faults in the same order.
func NewSimulated(clock clockutil.Clock, profile FaultProfile, seed int64) *Simulated {
	return &Simulated{
		clock:   clock,
		profile: profile,
		rng:     rand.New(rand.NewSource(seed)),
		data:    make(map[string][]byte),
	}
}

func (s *Simulated) roll() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Simulated) randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return time.Duration(s.rng.Int63n(int64(max) + 1))
}

func (s *Simulated) delay(ctx context.Context) error {
	d := s.randDuration(s.profile.MaxDelay)
	if d == 0 {
		return ctx.Err()
	}
	select {
	case <-s.clock.After(d):
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulated) Put(ctx context.Context, key string, data []byte) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	if s.roll() < s.profile.TransientErrProb {
		return ErrTransient
	}
	if s.roll() < s.profile.LostPutProb {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.data[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	if s.roll() < s.profile.TransientErrProb {
		return nil, ErrTransient
	}
	s.mu.Lock()
	stored, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(stored))
	copy(out, stored)
	if s.roll() < s.profile.CorruptProb && len(out) > 0 {
		s.rngMu.Lock()
		idx := s.rng.Intn(len(out))
		flip := byte(1 << uint(s.rng.Intn(8)))
		s.rngMu.Unlock()
		out[idx] ^= flip
	}
	return out, nil
}

func (s *Simulated) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	if s.roll() < s.profile.TransientErrProb {
		return nil, ErrTransient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Simulated) Delete(ctx context.Context, key string) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	if s.roll() < s.profile.TransientErrProb {
		return ErrTransient
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}
