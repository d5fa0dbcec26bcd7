package entryclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scadaflow/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL             string
	Database        string
	Table           string
	AlarmTable      string
	ConnectionTable string
	Username        string
	Password        string
	Timeout         time.Duration
	Headers         map[string]string
}

// Writer sends persistence records to ClickHouse via HTTP JSONEachRow,
// for long-term historian queries. Entries, alarm snapshots and
// connection records each land in their own table.
type Writer struct {
	entryEndpoint string
	alarmEndpoint string
	connEndpoint  string
	headers       map[string]string
	client        *http.Client
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "scada_entries"
	}
	if cfg.AlarmTable == "" {
		cfg.AlarmTable = "scada_alarms"
	}
	if cfg.ConnectionTable == "" {
		cfg.ConnectionTable = "scada_connections"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	base := strings.TrimRight(cfg.URL, "/")
	endpoint := func(table string) string {
		q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(table))
		return base + "/?query=" + url.QueryEscape(q)
	}

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		entryEndpoint: endpoint(cfg.Table),
		alarmEndpoint: endpoint(cfg.AlarmTable),
		connEndpoint:  endpoint(cfg.ConnectionTable),
		headers:       headers,
		client:        &http.Client{Timeout: timeout},
	}, nil
}

// WriteEntries sends a batch of normalized entries.
func (w *Writer) WriteEntries(entries []*models.LogEntry) error {
	rows := make([]any, len(entries))
	for i, e := range entries {
		rows[i] = e
	}
	return w.insert(w.entryEndpoint, rows)
}

// WriteAlarms sends a batch of alarm lifecycle snapshots.
func (w *Writer) WriteAlarms(alarms []*models.ProcessAlarm) error {
	rows := make([]any, len(alarms))
	for i, a := range alarms {
		rows[i] = a
	}
	return w.insert(w.alarmEndpoint, rows)
}

// WriteConnections sends a batch of connection records.
func (w *Writer) WriteConnections(conns []models.ScadaConnection) error {
	rows := make([]any, len(conns))
	for i := range conns {
		rows[i] = &conns[i]
	}
	return w.insert(w.connEndpoint, rows)
}

func (w *Writer) insert(endpoint string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
