package alertnats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// Publisher forwards alerts to the SIEM over NATS.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	if subject == "" {
		subject = "scada.alerts"
	}
	conn, err := nats.Connect(url,
		nats.Name("scadaflow-alerts"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	logger.Infof("alert NATS publisher initialized: %s subject=%s", url, subject)
	return &Publisher{conn: conn, subject: subject}, nil
}

// PublishAlert publishes one alert with routing headers.
func (p *Publisher) PublishAlert(alert *models.AlertEvent) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats connection not available")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", alert.AlertID, err)
	}
	headers := nats.Header{}
	headers.Set("x-alert-id", alert.AlertID)
	headers.Set("x-rule-id", alert.RuleID)
	headers.Set("x-severity", alert.Severity.String())
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  headers,
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.AlertID, err)
	}
	logger.Debugf("alert %s published to %s", alert.AlertID, p.subject)
	return nil
}

// WriteAlerts publishes a batch of alerts.
func (p *Publisher) WriteAlerts(alerts []*models.AlertEvent) error {
	for _, alert := range alerts {
		if err := p.PublishAlert(alert); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and drops the connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Flush(); err != nil {
			logger.Warnf("alert NATS publisher: flush on close: %v", err)
		}
		p.conn.Close()
	}
	return nil
}
