// Package metrics provides Prometheus instrumentation for the chat service.
// It exposes gauges for queue and session counts and counters for relay
// throughput and moderation actions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesTotal counts sessions created, labeled by how the pair was
	// formed: "queue" or "escalation".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_matches_total",
		Help: "Total number of chat sessions created",
	}, []string{"source"})

	// RelayedTotal counts relayed messages by delivery outcome.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_relayed_messages_total",
		Help: "Total number of inbound messages relayed, by outcome",
	}, []string{"outcome"}) // outcome = "delivered", "unreachable", "transient", "no_session"

	// EditsTotal counts propagated edits.
	EditsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_relayed_edits_total",
		Help: "Total number of edits applied to relayed messages",
	})

	// ViolationsTotal counts messages that contained forbidden characters.
	ViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_violations_total",
		Help: "Total number of messages with forbidden characters",
	})

	// ModerationActionsTotal counts warnings and bans issued at session end.
	ModerationActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_moderation_actions_total",
		Help: "Total number of warnings and bans issued",
	}, []string{"action"}) // action = "warning", "ban", "amnesty"

	// ActiveSessions tracks the current number of active chat sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anonchat_active_sessions",
		Help: "Current number of active chat sessions",
	})

	// WaitingQueueSize tracks the current number of users waiting for a partner.
	WaitingQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anonchat_waiting_queue_size",
		Help: "Current number of users in the pairing queue",
	})

	// EscalationQueueSize tracks the current number of SOS requests.
	EscalationQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anonchat_escalation_queue_size",
		Help: "Current number of users waiting for the operator",
	})

	// ReportsTotal counts report drafts by how they ended.
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_reports_total",
		Help: "Total number of user reports, by outcome",
	}, []string{"outcome"}) // outcome = "sent", "failed", "cancelled"

	// OutboxDropped counts notifications dropped because the outbox was full.
	OutboxDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_outbox_dropped_total",
		Help: "Total number of notifications dropped by a full outbox",
	})
)

func init() {
	prometheus.MustRegister(
		MatchesTotal,
		RelayedTotal,
		EditsTotal,
		ViolationsTotal,
		ModerationActionsTotal,
		ActiveSessions,
		WaitingQueueSize,
		EscalationQueueSize,
		ReportsTotal,
		OutboxDropped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
