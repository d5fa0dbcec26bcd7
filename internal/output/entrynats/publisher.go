package entrynats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// Publisher forwards persistence records to NATS under the configured
// prefix: entries on one subject per source system, alarm snapshots and
// connection records on a subject per record kind.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// NewPublisher connects to the NATS server at url. Subject prefix
// defaults to "scada.entries".
func NewPublisher(url, prefix string) (*Publisher, error) {
	if prefix == "" {
		prefix = "scada.entries"
	}
	conn, err := nats.Connect(url,
		nats.Name("scadaflow-entries"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	logger.Infof("entry NATS publisher initialized: %s prefix=%s", url, prefix)
	return &Publisher{conn: conn, prefix: prefix}, nil
}

// WriteEntries publishes a batch. A failed entry fails the batch so the
// persistence writer can retry it whole.
func (p *Publisher) WriteEntries(entries []*models.LogEntry) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats connection not available")
	}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		headers := nats.Header{}
		headers.Set("x-entry-id", e.ID)
		headers.Set("x-system", string(e.System))
		headers.Set("x-severity", e.Severity.String())
		msg := &nats.Msg{
			Subject: p.subjectFor(e.System),
			Data:    data,
			Header:  headers,
		}
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// WriteAlarms publishes alarm lifecycle snapshots under <prefix>.alarms.
func (p *Publisher) WriteAlarms(alarms []*models.ProcessAlarm) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats connection not available")
	}
	for _, a := range alarms {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alarm %s/%s: %w", a.Key.Tag, a.Key.Type, err)
		}
		headers := nats.Header{}
		headers.Set("x-alarm-tag", a.Key.Tag)
		headers.Set("x-alarm-type", string(a.Key.Type))
		headers.Set("x-alarm-state", string(a.State))
		msg := &nats.Msg{
			Subject: p.prefix + ".alarms",
			Data:    data,
			Header:  headers,
		}
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish alarm %s/%s: %w", a.Key.Tag, a.Key.Type, err)
		}
	}
	return nil
}

// WriteConnections publishes connection records under <prefix>.connections.
func (p *Publisher) WriteConnections(conns []models.ScadaConnection) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats connection not available")
	}
	for i := range conns {
		c := &conns[i]
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal connection %s: %w", c.ConnectionID, err)
		}
		headers := nats.Header{}
		headers.Set("x-connection-id", c.ConnectionID)
		headers.Set("x-system", string(c.System))
		msg := &nats.Msg{
			Subject: p.prefix + ".connections",
			Data:    data,
			Header:  headers,
		}
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish connection %s: %w", c.ConnectionID, err)
		}
	}
	return nil
}

func (p *Publisher) subjectFor(system models.SourceSystem) string {
	token := strings.ToLower(string(system))
	if token == "" {
		token = "unknown"
	}
	return p.prefix + "." + token
}

// Close flushes and drops the connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Flush(); err != nil {
			logger.Warnf("entry NATS publisher: flush on close: %v", err)
		}
		p.conn.Close()
	}
	return nil
}
