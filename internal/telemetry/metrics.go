// Package telemetry holds Edda's domain-specific Prometheus collectors,
// registered alongside internal/core/telemetry's ambient HTTP metrics.
// Grounded on the teacher's own internal/telemetry/metrics.go (counters and
// histograms, namespaced, grouped by the subsystem that emits them) and
// pkg/alert.WebhookMetrics's pattern of a small metrics struct passed into
// the handler that needs it.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Ratatoskr: signed envelope validation.
var (
	EnvelopesValidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "ratatoskr",
			Name:      "envelopes_validated_total",
			Help:      "Total number of signed envelopes validated, by result.",
		},
		[]string{"result"}, // ok, bad_signature, replay, clock_skew
	)

	NonceCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edda",
			Subsystem: "ratatoskr",
			Name:      "nonce_cache_size",
			Help:      "Current number of nonces held in the replay-protection window.",
		},
	)
)

// Heimdall: authentication, token lifecycle, intrusion detection.
var (
	TokensMintedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "heimdall",
			Name:      "tokens_minted_total",
			Help:      "Total number of tokens minted, by token type.",
		},
		[]string{"token_type"},
	)

	TokenValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "heimdall",
			Name:      "token_validations_total",
			Help:      "Total number of token validations, by result.",
		},
		[]string{"result"}, // ok, expired, revoked, bad_signature
	)

	PermissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "heimdall",
			Name:      "permission_checks_total",
			Help:      "Total number of permission checks, by result.",
		},
		[]string{"result"}, // allowed, denied
	)

	IntrusionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "heimdall",
			Name:      "intrusion_events_total",
			Help:      "Total number of intrusion-detector events raised, by kind.",
		},
		[]string{"kind"}, // token_leak, failed_auth_flood, invalid_message_flood
	)
)

// Bifrost: WebSocket relay and device connection lifecycle.
var (
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edda",
			Subsystem: "bifrost",
			Name:      "active_connections",
			Help:      "Current number of open device WebSocket connections.",
		},
	)

	MessagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "bifrost",
			Name:      "messages_relayed_total",
			Help:      "Total number of messages relayed between devices, by direction.",
		},
		[]string{"direction"}, // broadcast, confirmation, direct
	)

	RelayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edda",
			Subsystem: "bifrost",
			Name:      "relay_duration_seconds",
			Help:      "Time to relay a message from receipt to delivery.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"direction"},
	)
)

// Odin/Nornen: capability discovery and responsibility routing.
var (
	CapabilitiesRegisteredTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edda",
			Subsystem: "odin",
			Name:      "capabilities_registered",
			Help:      "Current number of registered capability handlers, by capability name.",
		},
		[]string{"capability"},
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edda",
			Subsystem: "nornen",
			Name:      "routing_decisions_total",
			Help:      "Total number of responsibility-routing decisions, by outcome.",
		},
		[]string{"outcome"}, // routed, no_candidate, overloaded
	)
)

// All returns every Edda-specific metrics collector for registration with
// internal/core/telemetry.NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		EnvelopesValidatedTotal,
		NonceCacheSize,
		TokensMintedTotal,
		TokenValidationsTotal,
		PermissionChecksTotal,
		IntrusionEventsTotal,
		ActiveConnections,
		MessagesRelayedTotal,
		RelayDuration,
		CapabilitiesRegisteredTotal,
		RoutingDecisionsTotal,
	}
}
