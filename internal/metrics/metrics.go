package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the ingestion core.
type Metrics struct {
	EntriesIngested    *prometheus.CounterVec
	EntriesDropped     *prometheus.CounterVec
	ParseErrors        *prometheus.CounterVec
	UnknownTokens      prometheus.Counter
	AlarmAnomalies     prometheus.Counter
	AlarmsActive       prometheus.Gauge
	AlertsTriggered    *prometheus.CounterVec
	AlertsSuppressed   prometheus.Counter
	ActionsFailed      *prometheus.CounterVec
	PersistenceRetries prometheus.Counter
	DeadLetters        prometheus.Counter
	IngestQueueDepth   prometheus.Gauge
	EvalQueueDepth     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		EntriesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadaflow_entries_ingested_total",
			Help: "Normalized log entries accepted by the pipeline.",
		}, []string{"system"}),
		EntriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadaflow_entries_dropped_total",
			Help: "Raw entries dropped, by reason.",
		}, []string{"reason"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadaflow_parse_errors_total",
			Help: "Lines rejected by the per-vendor grammar.",
		}, []string{"system"}),
		UnknownTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scadaflow_unknown_alarm_tokens_total",
			Help: "Vendor alarm tokens that fell back to the HIGH mapping.",
		}),
		AlarmAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scadaflow_alarm_anomalies_total",
			Help: "Ack/Clear entries discarded because no live alarm existed for the key.",
		}),
		AlarmsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scadaflow_alarms_active",
			Help: "Live process alarms currently tracked.",
		}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadaflow_alerts_triggered_total",
			Help: "Alert events emitted by the correlation engine.",
		}, []string{"rule"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scadaflow_alerts_suppressed_total",
			Help: "Rule matches suppressed by the anti-flood tombstone.",
		}),
		ActionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadaflow_actions_failed_total",
			Help: "Dispatcher actions that returned an error.",
		}, []string{"action"}),
		PersistenceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scadaflow_persistence_retries_total",
			Help: "Retried durable write attempts.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scadaflow_dead_letters_total",
			Help: "Records diverted to the dead-letter area after retry exhaustion.",
		}),
		IngestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scadaflow_ingest_queue_depth",
			Help: "Raw entries queued across ingestion lanes.",
		}),
		EvalQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scadaflow_eval_queue_depth",
			Help: "Entries queued for the correlation lane.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.EntriesIngested, m.EntriesDropped, m.ParseErrors, m.UnknownTokens,
		m.AlarmAnomalies, m.AlarmsActive, m.AlertsTriggered, m.AlertsSuppressed,
		m.ActionsFailed, m.PersistenceRetries, m.DeadLetters,
		m.IngestQueueDepth, m.EvalQueueDepth,
	)
	return m
}

// Registry exposes the private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
