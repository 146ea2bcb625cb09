// Package metrics exposes Prometheus counters and gauges for the link
// layer's self-healing events: nothing here affects protocol behavior, it
// only makes the protocol's internal corrections observable.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge the link layer reports. Construct
// one per process with NewRegistry; every node sharing a process shares
// the same Registry instance, and no metric carries a node id label.
type Registry struct {
	FramesEncoded prometheus.Counter
	FramesDecoded prometheus.Counter

	FramesRejected *prometheus.CounterVec // labelled by reason: crc, cobs, dst_mismatch, short

	AcksSent     prometheus.Counter
	AcksReceived prometheus.Counter
	Retransmits  prometheus.Counter // window wraps that resent unacked entries

	EnumerationCompletions prometheus.Counter
	EnumerationResets      prometheus.Counter

	SyncPacketsSent    prometheus.Counter
	SyncPacketsApplied prometheus.Counter
}

// NewRegistry registers every metric against reg (use
// prometheus.NewRegistry() for an isolated test instance, or
// prometheus.DefaultRegisterer via promauto's default behavior in
// production).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		FramesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_frames_encoded_total",
			Help: "Total link-layer frames encoded for transmission.",
		}),
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_frames_decoded_total",
			Help: "Total link-layer frames successfully decoded.",
		}),
		FramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "serialnode_frames_rejected_total",
			Help: "Total frames dropped at the framing layer, by reason.",
		}, []string{"reason"}),
		AcksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_acks_sent_total",
			Help: "Total ACK control frames sent.",
		}),
		AcksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_acks_received_total",
			Help: "Total ACK control frames received.",
		}),
		Retransmits: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_retransmits_total",
			Help: "Total window wraps that resent unacknowledged windowed data frames.",
		}),
		EnumerationCompletions: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_enumeration_completions_total",
			Help: "Total times this node finished (or re-finished) enumeration.",
		}),
		EnumerationResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_enumeration_resets_total",
			Help: "Total times a finished enumeration was reset by a new enum frame.",
		}),
		SyncPacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_sync_packets_sent_total",
			Help: "Total TDM sync packets emitted.",
		}),
		SyncPacketsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "serialnode_sync_packets_applied_total",
			Help: "Total TDM sync packets applied to the local clock.",
		}),
	}
}

// Handler returns the Prometheus scrape handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
