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

// Command kvmeshd wires one node together: load config, recover from the
// object store, start the shard dispatcher, the persistence write buffer,
// gossip/anti-entropy replication, and the RESP server. Flag parsing is
// the standard library's flag package, since no pack dependency addresses
// CLI argument handling and spec.md §1 excludes it from the core anyway.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dc0d/onexit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/launix-de/kvmesh/clockutil"
	"github.com/launix-de/kvmesh/config"
	"github.com/launix-de/kvmesh/crdt"
	"github.com/launix-de/kvmesh/delta"
	"github.com/launix-de/kvmesh/hotkey"
	"github.com/launix-de/kvmesh/idgen"
	"github.com/launix-de/kvmesh/logging"
	"github.com/launix-de/kvmesh/metrics"
	"github.com/launix-de/kvmesh/objectstore"
	"github.com/launix-de/kvmesh/persistence"
	"github.com/launix-de/kvmesh/replication"
	"github.com/launix-de/kvmesh/segment"
	"github.com/launix-de/kvmesh/server"
	"github.com/launix-de/kvmesh/shard"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (optional, defaults applied otherwise)")
	flag.Parse()

	settings := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "kvmeshd: load config:", err)
			os.Exit(1)
		}
		settings = loaded
	}

	log, err := logging.New(settings.LogLevel, settings.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvmeshd: build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(settings, log); err != nil {
		log.Fatal("kvmeshd: fatal", zap.Error(err))
	}
}

func run(settings config.Settings, log *zap.Logger) error {
	clock := clockutil.Real{}
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	sink := metrics.New(reg)
	go serveMetrics(reg, log)

	store, err := buildObjectStore(settings, clock)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	manifest, recovered, err := recoverState(ctx, store, log)
	if err != nil {
		return fmt.Errorf("recover state: %w", err)
	}
	manifestStore := persistence.NewManifestStore(store, clock, manifest)

	writeBufferMaxBytes, err := settings.WriteBufferMaxBytesParsed()
	if err != nil {
		return fmt.Errorf("parse write_buffer_max_bytes: %w", err)
	}
	sequencer := idgen.NewSequencer(manifest.Generation)
	buffer := persistence.NewBuffer(store, manifestStore, sequencer, clock, writeBufferMaxBytes, settings.WriteBufferMaxAgeMs)
	buffer.SetSealErrorHandler(func(err error) {
		log.Warn("persistence: age-triggered seal failed", zap.Error(err))
	})
	onexit.Register(func() { buffer.Stop() })

	compactionInterval, err := time.ParseDuration(settings.CompactionInterval)
	if err != nil {
		return fmt.Errorf("parse compaction_interval: %w", err)
	}
	compactor := persistence.NewCompactor(store, settings.CompactionMaxInFlight)
	go runCompactionLoop(ctx, clock, compactionInterval, compactor, manifestStore, store, buffer, log)

	gossipInterval, err := time.ParseDuration(settings.GossipInterval)
	if err != nil {
		return fmt.Errorf("parse gossip_interval: %w", err)
	}
	antiEntropyPeriod, err := time.ParseDuration(settings.AntiEntropyPeriod)
	if err != nil {
		return fmt.Errorf("parse anti_entropy_period: %w", err)
	}

	peers := newPeerSet()
	onexit.Register(func() { peers.closeAll() })

	var gossiper *replication.Gossiper
	applier := &applierFunc{}
	gossiper = replication.NewGossiper(peers, applier, clock, settings.GossipFanout, int64(settings.NodeID))

	detector := hotkey.NewDetector(settings.HotKeyRFBase, settings.HotKeyRFMax, settings.HotKeyThreshold)
	gossiper.SetReplicationFactor(detector.ReplicationFactor)
	if decayPeriod, err := time.ParseDuration(settings.HotKeyDecayPeriod); err == nil {
		go runHotKeyDecayLoop(clock, decayPeriod, detector)
	}

	onDelta := func(d delta.Delta) {
		detector.Observe(string(d.Key))
		sink.IncGossipSent("") // counted once per emitted delta with an empty peer label; sends record no per-peer count
		gossiper.Enqueue(d)
		// Append runs synchronously, on the same goroutine that emitted d
		// (the owning shard actor): persisting out of emission order would
		// let a later delta's effect (e.g. a DEL) be overtaken by an
		// earlier one replayed after it during recovery or compaction.
		if err := buffer.Append(ctx, d); err != nil {
			log.Warn("persistence append failed", zap.Error(err))
		}
	}

	dispatcher := shard.NewDispatcher(settings.ShardCount, settings.NodeID, clock, onDelta)
	onexit.Register(func() { dispatcher.Stop() })

	applier.dispatcher = dispatcher
	applier.metrics = sink
	applier.persist = func(d delta.Delta) {
		if err := buffer.Append(ctx, d); err != nil {
			log.Warn("persistence append (replicated) failed", zap.Error(err))
		}
	}

	if err := dispatcher.LoadRecovered(recovered.Values, recovered.Kinds, recovered.Expiry); err != nil {
		return fmt.Errorf("seed recovered state: %w", err)
	}
	if len(recovered.SalvagedSegments) > 0 {
		log.Warn("recovered with truncated segments", zap.Strings("segments", recovered.SalvagedSegments))
	}

	fingerprints := func() []replication.KeyFingerprint {
		deltas, err := dispatcher.Snapshot()
		if err != nil {
			log.Warn("anti-entropy snapshot failed", zap.Error(err))
			return nil
		}
		out := make([]replication.KeyFingerprint, 0, len(deltas))
		for _, d := range deltas {
			if d.NewValue == nil {
				continue
			}
			out = append(out, replication.KeyFingerprint{Key: string(d.Key), Fingerprint: d.NewValue.Fingerprint()})
		}
		return out
	}
	resolve := func(rangeStarts []string) []delta.Delta {
		deltas, err := dispatcher.Snapshot()
		if err != nil {
			log.Warn("anti-entropy resolve snapshot failed", zap.Error(err))
			return nil
		}
		entries := make([]replication.KeyFingerprint, 0, len(deltas))
		byKey := make(map[string]delta.Delta, len(deltas))
		for _, d := range deltas {
			if d.NewValue == nil {
				continue
			}
			key := string(d.Key)
			entries = append(entries, replication.KeyFingerprint{Key: key, Fingerprint: d.NewValue.Fingerprint()})
			byKey[key] = d
		}
		keys := replication.KeysInRanges(entries, rangeStarts)
		out := make([]delta.Delta, 0, len(keys))
		for _, k := range keys {
			if d, ok := byKey[k]; ok {
				out = append(out, d)
			}
		}
		return out
	}
	antiEntropy := replication.NewAntiEntropy(peers, applier, clock, fingerprints, resolve, int64(settings.NodeID))

	for _, addr := range settings.PeerAddrs {
		addr := addr
		go func() {
			if err := peers.dial(addr, gossiper, antiEntropy, log); err != nil {
				log.Warn("dial peer failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gossip", func(w http.ResponseWriter, r *http.Request) {
		peers.accept(w, r, gossiper, antiEntropy, log)
	})
	peerHTTP := &http.Server{Addr: settings.PeerListenAddr, Handler: mux}
	go func() {
		if err := peerHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("peer listener stopped", zap.Error(err))
		}
	}()
	onexit.Register(func() { peerHTTP.Close() })

	go gossiper.Run(gossipInterval)
	onexit.Register(func() { gossiper.Stop() })

	go antiEntropy.Run(antiEntropyPeriod)
	onexit.Register(func() { antiEntropy.Stop() })

	respServer := server.New(dispatcher, clock, sink, log)
	onexit.Register(func() { respServer.Close() })

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Info("shutting down")
		onexit.Exit(0)
	}()

	log.Info("kvmeshd ready", zap.String("resp_addr", settings.ListenAddr), zap.Int("shards", settings.ShardCount))
	return respServer.ListenAndServe(settings.ListenAddr)
}

func serveMetrics(reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(":9100", mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics listener stopped", zap.Error(err))
	}
}

func buildObjectStore(settings config.Settings, clock clockutil.Clock) (objectstore.Store, error) {
	switch settings.ObjectStoreKind {
	case "s3":
		return objectstore.NewS3(objectstore.S3Config{
			Region:         settings.S3Region,
			Endpoint:       settings.S3Endpoint,
			Bucket:         settings.S3Bucket,
			ForcePathStyle: settings.S3ForcePathStyle,
		}), nil
	case "ceph":
		return objectstore.NewCeph(objectstore.CephConfig{
			ConfigFile: settings.CephConfigFile,
			Pool:       settings.CephPool,
		}), nil
	case "simulated":
		return objectstore.NewSimulated(clock, objectstore.FaultProfile{}, int64(settings.NodeID)), nil
	default:
		return objectstore.NewLocalFS(settings.LocalFSPath)
	}
}

func emptyRecoveredState() persistence.RecoveredState {
	return persistence.RecoveredState{
		Values: make(map[string]crdt.Value),
		Expiry: make(map[string]int64),
		Kinds:  make(map[string]uint8),
	}
}

func recoverState(ctx context.Context, store objectstore.Store, log *zap.Logger) (segment.Manifest, persistence.RecoveredState, error) {
	data, err := store.Get(ctx, objectstore.ManifestKey)
	if err != nil {
		if err == objectstore.ErrNotFound {
			log.Info("no manifest found, starting from an empty keyspace")
			return segment.Manifest{}, emptyRecoveredState(), nil
		}
		return segment.Manifest{}, persistence.RecoveredState{}, err
	}
	manifest, err := segment.DecodeManifest(data)
	if err != nil {
		return segment.Manifest{}, persistence.RecoveredState{}, fmt.Errorf("decode manifest: %w", err)
	}
	recoverer := persistence.NewRecoverer(store)
	state, err := recoverer.Recover(ctx, manifest)
	if err != nil {
		return segment.Manifest{}, persistence.RecoveredState{}, err
	}
	log.Info("recovered state", zap.Int("keys", len(state.Values)), zap.Uint64("generation", manifest.Generation))
	return manifest, state, nil
}

// runCompactionLoop periodically folds every live segment the manifest
// currently lists into one checkpoint (§4.7/§4.9), swaps the manifest
// over to it, and deletes the folded segment objects once the manifest
// no longer references them. A flush failure, compaction failure, or
// manifest update failure just skips this round; the next tick retries
// against whatever the manifest looks like then.
func runCompactionLoop(ctx context.Context, clock clockutil.Clock, interval time.Duration, compactor *persistence.Compactor, manifestStore *persistence.ManifestStore, store objectstore.Store, buffer *persistence.Buffer, log *zap.Logger) {
	for {
		<-clock.After(interval)

		if buffer.Failing() {
			log.Warn("persistence buffer is failing to seal segments")
		}

		if err := buffer.Flush(ctx); err != nil {
			log.Warn("compaction: flush before compact failed", zap.Error(err))
			continue
		}

		current := manifestStore.Current()
		if len(current.LiveSegments) == 0 {
			continue
		}

		// nextGeneration must advance so WriteCheckpoint never reuses the
		// previous round's checkpoint object name; Compact folds the prior
		// checkpoint (current.CheckpointKey) in as its baseline, since
		// current.LiveSegments only ever holds what's new since that
		// checkpoint, never the whole key history.
		nextGeneration := current.Generation + 1
		cp, err := compactor.Compact(ctx, nextGeneration, current.CheckpointKey, current.LiveSegments)
		if err != nil {
			log.Warn("compaction failed", zap.Error(err))
			continue
		}
		checkpointKey, err := compactor.WriteCheckpoint(ctx, cp)
		if err != nil {
			log.Warn("write checkpoint failed", zap.Error(err))
			continue
		}

		folded := current.LiveSegments
		if err := manifestStore.ReplaceAfterCompaction(ctx, checkpointKey, nextGeneration, folded); err != nil {
			log.Warn("update manifest after compaction failed", zap.Error(err))
			continue
		}

		for _, key := range folded {
			if err := store.Delete(ctx, key); err != nil {
				log.Warn("delete orphaned segment failed", zap.String("segment", key), zap.Error(err))
			}
		}
		// The manifest now points at checkpointKey; the previous checkpoint
		// (if any) is unreferenced by anything and would otherwise leak in
		// the object store forever, one more object per compaction round.
		if current.CheckpointKey != "" && current.CheckpointKey != checkpointKey {
			if err := store.Delete(ctx, current.CheckpointKey); err != nil {
				log.Warn("delete superseded checkpoint failed", zap.String("checkpoint", current.CheckpointKey), zap.Error(err))
			}
		}
		log.Info("compaction complete", zap.Int("segments_folded", len(folded)), zap.String("checkpoint", checkpointKey))
	}
}

// dispatchEnvelope routes an inbound envelope to whichever of gossip or
// anti-entropy owns its Kind. Both HandleEnvelope implementations ignore
// kinds they don't recognize, so routing to both in sequence is safe;
// doing it explicitly here (rather than relying on that silent ignore)
// keeps the routing visible at the call site.
func dispatchEnvelope(from string, env replication.Envelope, g *replication.Gossiper, ae *replication.AntiEntropy, log *zap.Logger) {
	switch env.Kind {
	case replication.EnvelopeGossip:
		if err := g.HandleEnvelope(env); err != nil {
			log.Debug("gossip envelope handling failed", zap.Error(err))
		}
	case replication.EnvelopeMerkleRequest, replication.EnvelopeMerkleResponse:
		if err := ae.HandleEnvelope(from, env); err != nil {
			log.Debug("anti-entropy envelope handling failed", zap.Error(err))
		}
	}
}

// runHotKeyDecayLoop periodically halves the hot-key sketch's counters so
// classification tracks recent traffic rather than all-time totals.
func runHotKeyDecayLoop(clock clockutil.Clock, interval time.Duration, detector *hotkey.Detector) {
	for {
		<-clock.After(interval)
		detector.Decay()
	}
}

// applierFunc adapts a shard.Dispatcher into replication.Applier.
type applierFunc struct {
	dispatcher *shard.Dispatcher
	metrics    metrics.Sink
	persist    func(delta.Delta)
}

func (a *applierFunc) Apply(d delta.Delta) {
	a.dispatcher.ApplyRemote(d, a.persist)
	a.metrics.IncGossipApplied()
}

// peerSet manages this node's outbound/inbound replication.Peer
// connections, implementing replication.PeerSet.
type peerSet struct {
	mu    sync.Mutex
	peers map[string]*replication.Peer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*replication.Peer)}
}

func (p *peerSet) Peers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for addr := range p.peers {
		out = append(out, addr)
	}
	return out
}

func (p *peerSet) SendTo(addr string, env replication.Envelope) error {
	p.mu.Lock()
	peer, ok := p.peers[addr]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("peerset: unknown peer %s", addr)
	}
	return peer.Send(env)
}

func (p *peerSet) dial(addr string, g *replication.Gossiper, ae *replication.AntiEntropy, log *zap.Logger) error {
	peer, err := replication.DialPeer(addr, func(env replication.Envelope) {
		dispatchEnvelope(addr, env, g, ae, log)
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.peers[addr] = peer
	p.mu.Unlock()
	peer.Start()
	return nil
}

func (p *peerSet) accept(w http.ResponseWriter, r *http.Request, g *replication.Gossiper, ae *replication.AntiEntropy, log *zap.Logger) {
	from := r.RemoteAddr
	peer, err := replication.AcceptPeer(w, r, func(env replication.Envelope) {
		dispatchEnvelope(from, env, g, ae, log)
	})
	if err != nil {
		log.Warn("accept peer failed", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.peers[peer.NodeAddr] = peer
	p.mu.Unlock()
	peer.Start()
}

func (p *peerSet) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, peer := range p.peers {
		peer.Close()
	}
}
