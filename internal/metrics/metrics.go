// Package metrics exposes Prometheus counters for the RDT protocol layer.
// The core rdt/rdt3/rdt4 packages only increment counters and never
// open an HTTP listener; the cmd/ demos build a Registry but do not
// serve it either.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the counters one Conn increments over its lifetime.
// A nil *Registry is never passed around; NewRegistry(nil) returns a
// Registry backed by its own unregistered prometheus.Registry so unit
// tests (and multiple Conns in one process) don't collide on the global
// default registry.
type Registry struct {
	FramesSent          prometheus.Counter
	FramesRetransmitted prometheus.Counter
	AcksReceived        prometheus.Counter
	FramesCorrupt       prometheus.Counter
	SimulatedLoss       prometheus.Counter
	SimulatedCorruption prometheus.Counter

	reg *prometheus.Registry
}

// NewRegistry builds a Registry. If reg is nil, a fresh, unregistered
// *prometheus.Registry backs it so Gatherer() is usable standalone.
func NewRegistry(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Registry{
		reg: reg,
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_frames_sent_total",
			Help: "DATA frames written to the channel, not counting retransmissions.",
		}),
		FramesRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_frames_retransmitted_total",
			Help: "DATA frames resent after a retransmission timeout.",
		}),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_acks_received_total",
			Help: "Non-corrupt ACK frames accepted by a sender.",
		}),
		FramesCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_frames_corrupt_total",
			Help: "Frames dropped for failing the checksum.",
		}),
		SimulatedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_channel_simulated_loss_total",
			Help: "Outbound frames the channel shim silently dropped.",
		}),
		SimulatedCorruption: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdt_channel_simulated_corruption_total",
			Help: "Outbound frames the channel shim corrupted before sending.",
		}),
	}
	reg.MustRegister(
		r.FramesSent, r.FramesRetransmitted, r.AcksReceived,
		r.FramesCorrupt, r.SimulatedLoss, r.SimulatedCorruption,
	)
	return r
}

// Gatherer exposes the backing registry, e.g. for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
