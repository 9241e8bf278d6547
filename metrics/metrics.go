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

// Package metrics is a thin Prometheus wrapper so the hot command and
// replication paths can call a single Sink interface with or without a
// registry attached. With no registry, every call is a no-op: the hot
// path never pays for metric updates it isn't using.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the generic metrics surface shards, replication and persistence
// report through; they only ever know about this interface, never the
// concrete backend.
type Sink interface {
	IncCommand(cmd string)
	IncCommandError(cmd string, kind string)
	ObserveCommandLatency(cmd string, seconds float64)
	IncGossipSent(peer string)
	IncGossipApplied()
	SetShardKeys(shard uint32, n int)
	IncCompaction()
	IncSegmentSealed()
	SetHotKeys(n int)
}

type noopSink struct{}

func (noopSink) IncCommand(string)                     {}
func (noopSink) IncCommandError(string, string)        {}
func (noopSink) ObserveCommandLatency(string, float64) {}
func (noopSink) IncGossipSent(string)                  {}
func (noopSink) IncGossipApplied()                     {}
func (noopSink) SetShardKeys(uint32, int)              {}
func (noopSink) IncCompaction()                        {}
func (noopSink) IncSegmentSealed()                     {}
func (noopSink) SetHotKeys(int)                        {}

// Noop returns a Sink that discards every observation.
func Noop() Sink { return noopSink{} }

// promSink is the Prometheus-backed implementation, grounded on
// arena-cache's pkg/metrics.go shard-labelled counter/gauge layout.
type promSink struct {
	commands         *prometheus.CounterVec
	commandErrors    *prometheus.CounterVec
	commandLatency   *prometheus.HistogramVec
	gossipSent       *prometheus.CounterVec
	gossipApplied    prometheus.Counter
	shardKeys        *prometheus.GaugeVec
	compactions      prometheus.Counter
	segmentsSealed   prometheus.Counter
	hotKeys          prometheus.Gauge
}

// New creates a Prometheus-backed Sink and registers its collectors on reg.
func New(reg *prometheus.Registry) Sink {
	ps := &promSink{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "commands_total",
			Help:      "Number of commands executed, by command name.",
		}, []string{"command"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "command_errors_total",
			Help:      "Number of command errors, by command name and error kind.",
		}, []string{"command", "kind"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvmesh",
			Name:      "command_latency_seconds",
			Help:      "Command execution latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		gossipSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "gossip_sent_total",
			Help:      "Number of deltas queued for gossip, by peer label (empty when not attributed to a peer).",
		}, []string{"peer"}),
		gossipApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "gossip_applied_total",
			Help:      "Number of inbound replicated deltas applied.",
		}),
		shardKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "shard_keys",
			Help:      "Live key count per shard.",
		}, []string{"shard"}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "compactions_total",
			Help:      "Number of compaction runs completed.",
		}),
		segmentsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "segments_sealed_total",
			Help:      "Number of write-buffer segments sealed to the object store.",
		}),
		hotKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "hot_keys",
			Help:      "Number of keys currently promoted by the hot-key detector.",
		}),
	}
	reg.MustRegister(ps.commands, ps.commandErrors, ps.commandLatency, ps.gossipSent,
		ps.gossipApplied, ps.shardKeys, ps.compactions, ps.segmentsSealed, ps.hotKeys)
	return ps
}

func (p *promSink) IncCommand(cmd string) { p.commands.WithLabelValues(cmd).Inc() }

func (p *promSink) IncCommandError(cmd string, kind string) {
	p.commandErrors.WithLabelValues(cmd, kind).Inc()
}

func (p *promSink) ObserveCommandLatency(cmd string, seconds float64) {
	p.commandLatency.WithLabelValues(cmd).Observe(seconds)
}

func (p *promSink) IncGossipSent(peer string) { p.gossipSent.WithLabelValues(peer).Inc() }

func (p *promSink) IncGossipApplied() { p.gossipApplied.Inc() }

func (p *promSink) SetShardKeys(shard uint32, n int) {
	p.shardKeys.WithLabelValues(shardLabel(shard)).Set(float64(n))
}

func (p *promSink) IncCompaction() { p.compactions.Inc() }

func (p *promSink) IncSegmentSealed() { p.segmentsSealed.Inc() }

func (p *promSink) SetHotKeys(n int) { p.hotKeys.Set(float64(n)) }

func shardLabel(shard uint32) string {
	return strconv.FormatUint(uint64(shard), 10)
}
