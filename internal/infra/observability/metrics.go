package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	turnsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	externalErrors *prometheus.CounterVec
	authOutcomes   *prometheus.CounterVec
	intentsTotal   *prometheus.CounterVec
	escalations    prometheus.Counter
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_turns_total",
				Help: "Conversation turns processed, by outcome.",
			},
			[]string{"status"}, // ok, error, locked
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_step_duration_seconds",
				Help:    "Duration of workflow step executions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"}, // plex, whatsapp, classifier, checkpoint
		),
		authOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_auth_outcomes_total",
				Help: "Authentication attempts, by outcome.",
			},
			[]string{"outcome"}, // phone_match, account, document, failed, escalated
		),
		intentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_intents_total",
				Help: "Classified intents, by intent and method.",
			},
			[]string{"intent", "method"},
		),
		escalations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bot_escalations_total",
				Help: "Conversations handed off to a human.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// IncrTurn increments the turn counter for the given outcome.
func (m *Metrics) IncrTurn(status string) {
	m.turnsTotal.WithLabelValues(status).Inc()
}

// RecordStepDuration records how long one workflow step took.
func (m *Metrics) RecordStepDuration(step string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrAuthOutcome increments the authentication outcome counter.
func (m *Metrics) IncrAuthOutcome(outcome string) {
	m.authOutcomes.WithLabelValues(outcome).Inc()
}

// IncrIntent increments the intent counter.
func (m *Metrics) IncrIntent(intent, method string) {
	m.intentsTotal.WithLabelValues(intent, method).Inc()
}

// IncrEscalation increments the human-handoff counter.
func (m *Metrics) IncrEscalation() {
	m.escalations.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// TurnCount reads back the current value of bot_turns_total for a status.
// Used by the ops endpoints; gathering through the registry keeps this free
// of test-only accessors.
func (m *Metrics) TurnCount(status string) int64 {
	var metric dto.Metric
	c, err := m.turnsTotal.GetMetricWithLabelValues(status)
	if err != nil {
		return 0
	}
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return int64(metric.GetCounter().GetValue())
}
