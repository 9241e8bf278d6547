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

package replication

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/stretchr/testify/require"
)

type fakePeerSet struct {
	mu      sync.Mutex
	peers   []string
	sent    map[string][]Envelope
}

func newFakePeerSet(peers ...string) *fakePeerSet {
	return &fakePeerSet{peers: peers, sent: make(map[string][]Envelope)}
}

func (f *fakePeerSet) Peers() []string { return f.peers }

func (f *fakePeerSet) SendTo(addr string, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[addr] = append(f.sent[addr], env)
	return nil
}

func (f *fakePeerSet) countSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, envs := range f.sent {
		n += len(envs)
	}
	return n
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []delta.Delta
}

func (a *fakeApplier) Apply(d delta.Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, d)
}

func sampleDelta(key string) delta.Delta {
	v := crdt.NewLWW([]byte("v"), crdt.Clock{Counter: 1, NodeID: 1})
	return delta.Delta{Key: []byte(key), Op: delta.OpSet, NewValue: &v}
}

func TestGossiperRoundSendsToFanout(t *testing.T) {
	peers := newFakePeerSet("a", "b", "c", "d")
	applier := &fakeApplier{}
	clock := clockutil.NewVirtual(0)
	g := NewGossiper(peers, applier, clock, 2, 1)

	g.Enqueue(sampleDelta("k1"))
	g.round()

	require.Equal(t, 2, peers.countSent())
}

func TestGossiperHandleEnvelopeAppliesDeltas(t *testing.T) {
	peers := newFakePeerSet()
	applier := &fakeApplier{}
	clock := clockutil.NewVirtual(0)
	g := NewGossiper(peers, applier, clock, 2, 1)

	g.Enqueue(sampleDelta("k1"))
	g.queueMu.Lock()
	batch := g.queue
	g.queueMu.Unlock()

	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	err = g.HandleEnvelope(Envelope{Kind: EnvelopeGossip, Payload: payload})
	require.NoError(t, err)
	require.Len(t, applier.applied, 1)
	require.Equal(t, "k1", string(applier.applied[0].Key))
}

func TestGossiperIgnoresNonGossipEnvelope(t *testing.T) {
	peers := newFakePeerSet()
	applier := &fakeApplier{}
	clock := clockutil.NewVirtual(0)
	g := NewGossiper(peers, applier, clock, 2, 1)

	err := g.HandleEnvelope(Envelope{Kind: EnvelopeMerkleRequest, Payload: nil})
	require.NoError(t, err)
	require.Len(t, applier.applied, 0)
}

func TestGossiperRunStopsCleanly(t *testing.T) {
	peers := newFakePeerSet("a")
	applier := &fakeApplier{}
	clock := clockutil.NewVirtual(0)
	g := NewGossiper(peers, applier, clock, 1, 1)

	done := make(chan struct{})
	go func() {
		g.Run(50 * time.Millisecond)
		close(done)
	}()

	g.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}
