package entryjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// Writer outputs normalized log entries to a JSON lines file. Alarm
// lifecycle snapshots and connection records land in sibling files in
// the same directory, opened on first use.
type Writer struct {
	dir     string
	file    *os.File
	encoder *json.Encoder

	alarmFile *os.File
	alarmEnc  *json.Encoder
	connFile  *os.File
	connEnc   *json.Encoder

	mu sync.Mutex
}

// NewWriter creates a JSONL writer for normalized entries.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logger.Infof("Entry JSON writer initialized: %s", path)
	return &Writer{
		dir:     dir,
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteEntries writes a batch of normalized entries.
func (w *Writer) WriteEntries(entries []*models.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		if err := w.encoder.Encode(e); err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return nil
}

// WriteAlarms writes alarm lifecycle snapshots to alarms.jsonl.
func (w *Writer) WriteAlarms(alarms []*models.ProcessAlarm) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.alarmEnc == nil {
		f, err := w.openSibling("alarms.jsonl")
		if err != nil {
			return err
		}
		w.alarmFile = f
		w.alarmEnc = json.NewEncoder(f)
	}
	for _, a := range alarms {
		if err := w.alarmEnc.Encode(a); err != nil {
			return fmt.Errorf("failed to encode alarm: %w", err)
		}
	}
	return nil
}

// WriteConnections writes connection records to connections.jsonl.
func (w *Writer) WriteConnections(conns []models.ScadaConnection) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connEnc == nil {
		f, err := w.openSibling("connections.jsonl")
		if err != nil {
			return err
		}
		w.connFile = f
		w.connEnc = json.NewEncoder(f)
	}
	for i := range conns {
		if err := w.connEnc.Encode(&conns[i]); err != nil {
			return fmt.Errorf("failed to encode connection: %w", err)
		}
	}
	return nil
}

func (w *Writer) openSibling(name string) (*os.File, error) {
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	logger.Infof("Entry JSON writer opened %s", path)
	return f, nil
}

// Close closes the output files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	for _, f := range []*os.File{w.file, w.alarmFile, w.connFile} {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
