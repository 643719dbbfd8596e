// Package metrics holds the gateway's prometheus collectors, registered on
// the default registry and scraped at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound provider events by normalised kind.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagateway_webhook_events_total",
		Help: "Inbound provider webhook events by event type.",
	}, []string{"event_type"})

	// MessagesIngested counts messages persisted from the webhook path.
	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagateway_messages_ingested_total",
		Help: "Messages persisted from provider events.",
	})

	// MessagesDeduplicated counts re-deliveries dropped by provider id.
	MessagesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagateway_messages_deduplicated_total",
		Help: "Messages skipped because the provider message id was already stored.",
	})

	// RuleFires counts rule executions by outcome.
	RuleFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagateway_rule_fires_total",
		Help: "Rule fires by outcome.",
	}, []string{"outcome"})

	// OrchestratorCalls counts Home Assistant service calls by outcome.
	OrchestratorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagateway_orchestrator_calls_total",
		Help: "Home Assistant service calls by outcome.",
	}, []string{"outcome"})

	// WebhookDuration observes end-to-end webhook handling time.
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wagateway_webhook_duration_seconds",
		Help:    "Webhook handling duration.",
		Buckets: prometheus.DefBuckets,
	})
)
