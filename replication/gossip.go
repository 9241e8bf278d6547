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

// Gossiper implements spec.md §4.4: deltas produced locally propagate to
// a random fanout subset of peers on every round; delivery is at-least-
// once (a delta may arrive more than once at a peer, possibly out of
// order relative to other keys), so application must be idempotent —
// CRDT Join already guarantees that (crdt.Value.Join is commutative,
// associative, idempotent), so gossip never needs its own dedup beyond
// what Join provides.
package replication

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/delta"
)

// PeerSet is the subset of Peer operations Gossiper needs, so tests can
// substitute an in-memory fake instead of real websocket connections.
type PeerSet interface {
	// Peers returns every currently known peer address.
	Peers() []string
	// SendTo delivers env to the named peer; returns an error if the peer
	// is unknown or unreachable.
	SendTo(addr string, env Envelope) error
}

// Applier applies a received delta to local shard state. Implementations
// must be idempotent and safe to call with stale or duplicate deltas.
type Applier interface {
	Apply(d delta.Delta)
}

// Gossiper periodically forwards the contents of its outbound queue to a
// random fanout of peers, and applies any delta it receives from others.
type Gossiper struct {
	peers   PeerSet
	applier Applier
	clock   clockutil.Clock
	fanout  int
	rng     *rand.Rand
	rngMu   sync.Mutex

	queueMu sync.Mutex
	queue   []delta.Delta

	// factorFor returns the per-key replication fanout (spec.md §4.6's
	// hot-key adaptive factor); nil means every key uses the base fanout.
	factorFor func(key string) int

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetReplicationFactor installs a per-key fanout override, typically
// hotkey.Detector.ReplicationFactor, so hot keys propagate to more peers
// per round than the base fanout.
func (g *Gossiper) SetReplicationFactor(fn func(key string) int) {
	g.factorFor = fn
}

// NewGossiper creates a Gossiper with the given fanout (number of peers
// contacted per round) and a seeded PRNG for deterministic peer selection
// under the simulation harness.
func NewGossiper(peers PeerSet, applier Applier, clock clockutil.Clock, fanout int, seed int64) *Gossiper {
	return &Gossiper{
		peers:   peers,
		applier: applier,
		clock:   clock,
		fanout:  fanout,
		rng:     rand.New(rand.NewSource(seed)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Enqueue adds a locally-produced delta to the outbound gossip queue.
func (g *Gossiper) Enqueue(d delta.Delta) {
	g.queueMu.Lock()
	g.queue = append(g.queue, d.Clone())
	g.queueMu.Unlock()
}

// Run drives gossip rounds every interval until Stop is called.
func (g *Gossiper) Run(interval time.Duration) {
	defer close(g.doneCh)
	for {
		select {
		case <-g.stopCh:
			return
		case <-g.clock.After(interval):
			g.round()
		}
	}
}

func (g *Gossiper) round() {
	g.queueMu.Lock()
	batch := g.queue
	g.queue = nil
	g.queueMu.Unlock()

	if len(batch) == 0 {
		return
	}

	// Group the round's deltas by their replication factor so a hot key's
	// wider fanout doesn't force every cold key in the same round to
	// propagate as widely too.
	groups := make(map[int][]delta.Delta)
	for _, d := range batch {
		n := g.fanout
		if g.factorFor != nil {
			if f := g.factorFor(string(d.Key)); f > 0 {
				n = f
			}
		}
		groups[n] = append(groups[n], d)
	}

	for n, group := range groups {
		payload, err := json.Marshal(group)
		if err != nil {
			continue
		}
		env := Envelope{Kind: EnvelopeGossip, Payload: payload}
		for _, addr := range g.selectFanout(n) {
			_ = g.peers.SendTo(addr, env)
		}
	}
}

func (g *Gossiper) selectFanout(n int) []string {
	all := g.peers.Peers()
	if len(all) <= n {
		return all
	}

	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	perm := g.rng.Perm(len(all))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[perm[i]]
	}
	return out
}

// HandleEnvelope dispatches an inbound gossip envelope to the applier.
// Unknown envelope kinds are ignored so anti-entropy messages routed
// through the same connection do not trip gossip parsing.
func (g *Gossiper) HandleEnvelope(env Envelope) error {
	if env.Kind != EnvelopeGossip {
		return nil
	}
	var batch []delta.Delta
	if err := json.Unmarshal(env.Payload, &batch); err != nil {
		return fmt.Errorf("replication: unmarshal gossip batch: %w", err)
	}
	for _, d := range batch {
		g.applier.Apply(d)
	}
	return nil
}

// Stop halts the gossip round loop and waits for Run to return.
func (g *Gossiper) Stop() {
	close(g.stopCh)
	<-g.doneCh
}
