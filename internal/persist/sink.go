package persist

import "scadaflow/pkg/models"

// Sink receives the flat records the pipeline persists: normalized
// entries as they flow, alarm lifecycle snapshots, and connection
// records at shutdown.
type Sink interface {
	WriteEntries(entries []*models.LogEntry) error
	WriteAlarms(alarms []*models.ProcessAlarm) error
	WriteConnections(conns []models.ScadaConnection) error
	Close() error
}

// AlertSink receives alerts fired by the correlation engine.
type AlertSink interface {
	WriteAlerts(alerts []*models.AlertEvent) error
	Close() error
}
