package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// Config tunes the async persistence writer.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	DeadLetterDir string

	// OnRetry and OnDeadLetter feed the metrics counters.
	OnRetry      func()
	OnDeadLetter func(count int)
}

const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	defaultMaxRetries    = 3
	defaultRetryBackoff  = 500 * time.Millisecond
)

// record is one queued unit of persistence work. Exactly one field is
// set; the dead-letter file keeps the same envelope so replays can tell
// the kinds apart.
type record struct {
	Entry      *models.LogEntry        `json:"entry,omitempty"`
	Alarm      *models.ProcessAlarm    `json:"alarm,omitempty"`
	Connection *models.ScadaConnection `json:"connection,omitempty"`
}

// Writer batches records to a sink on a background goroutine. Writes
// that keep failing after retries go to a dead-letter file instead of
// blocking the pipeline; ingestion never waits on storage.
type Writer struct {
	sink Sink
	cfg  Config

	queue  chan record
	done   chan struct{}
	closed sync.Once

	mu         sync.Mutex
	deadLetter *os.File
	dlEncoder  *json.Encoder
}

func NewWriter(sink Sink, cfg Config) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	w := &Writer{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan record, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands an entry to the writer. Returns false when the queue is
// full; the caller counts the drop and moves on.
func (w *Writer) Enqueue(e *models.LogEntry) bool {
	select {
	case w.queue <- record{Entry: e}:
		return true
	default:
		return false
	}
}

// EnqueueAlarm hands an alarm lifecycle snapshot to the writer.
func (w *Writer) EnqueueAlarm(a *models.ProcessAlarm) bool {
	select {
	case w.queue <- record{Alarm: a}:
		return true
	default:
		return false
	}
}

// FlushSnapshot queues the live alarm table and the connection records
// for persistence, blocking until queued or the context expires. Called
// at shutdown, before Close drains the queue.
func (w *Writer) FlushSnapshot(ctx context.Context, alarms []*models.ProcessAlarm, conns []models.ScadaConnection) error {
	for _, a := range alarms {
		select {
		case w.queue <- record{Alarm: a}:
		case <-ctx.Done():
			return fmt.Errorf("persist: snapshot interrupted: %w", ctx.Err())
		}
	}
	for i := range conns {
		c := conns[i]
		select {
		case w.queue <- record{Connection: &c}:
		case <-ctx.Done():
			return fmt.Errorf("persist: snapshot interrupted: %w", ctx.Err())
		}
	}
	return nil
}

// QueueDepth reports the current backlog, for the depth gauge.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

// Close drains the queue, flushes the final batch and closes the sink.
// The context bounds how long draining may take.
func (w *Writer) Close(ctx context.Context) error {
	var err error
	w.closed.Do(func() {
		close(w.queue)
		select {
		case <-w.done:
		case <-ctx.Done():
			err = fmt.Errorf("persist: drain interrupted: %w", ctx.Err())
		}
		if cerr := w.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
		w.mu.Lock()
		if w.deadLetter != nil {
			w.deadLetter.Close()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, w.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case r, open := <-w.queue:
			if !open {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// writeBatch splits the batch by record kind and writes each kind
// independently, so a failing alarm table does not re-send entries that
// already landed.
func (w *Writer) writeBatch(batch []record) {
	var entries []*models.LogEntry
	var alarms []*models.ProcessAlarm
	var conns []models.ScadaConnection
	byKind := map[string][]record{}
	for _, r := range batch {
		switch {
		case r.Entry != nil:
			entries = append(entries, r.Entry)
			byKind["entries"] = append(byKind["entries"], r)
		case r.Alarm != nil:
			alarms = append(alarms, r.Alarm)
			byKind["alarms"] = append(byKind["alarms"], r)
		case r.Connection != nil:
			conns = append(conns, *r.Connection)
			byKind["connections"] = append(byKind["connections"], r)
		}
	}
	if len(entries) > 0 {
		w.writeKind("entries", byKind["entries"], func() error { return w.sink.WriteEntries(entries) })
	}
	if len(alarms) > 0 {
		w.writeKind("alarms", byKind["alarms"], func() error { return w.sink.WriteAlarms(alarms) })
	}
	if len(conns) > 0 {
		w.writeKind("connections", byKind["connections"], func() error { return w.sink.WriteConnections(conns) })
	}
}

// writeKind retries with linear backoff and dead-letters the records
// when the sink stays down.
func (w *Writer) writeKind(kind string, records []record, write func() error) {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if w.cfg.OnRetry != nil {
				w.cfg.OnRetry()
			}
			time.Sleep(time.Duration(attempt) * w.cfg.RetryBackoff)
		}
		if err = write(); err == nil {
			return
		}
		logger.Warnf("persist: %s write attempt %d failed for %d records: %v", kind, attempt+1, len(records), err)
	}
	logger.Errorf("persist: giving up on %s batch of %d records: %v", kind, len(records), err)
	w.toDeadLetter(records)
}

func (w *Writer) toDeadLetter(batch []record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deadLetter == nil {
		if w.cfg.DeadLetterDir == "" {
			logger.Errorf("persist: no dead-letter dir configured, dropping %d records", len(batch))
			return
		}
		if err := os.MkdirAll(w.cfg.DeadLetterDir, 0755); err != nil {
			logger.Errorf("persist: cannot create dead-letter dir: %v", err)
			return
		}
		path := filepath.Join(w.cfg.DeadLetterDir, fmt.Sprintf("deadletter-%s.jsonl", time.Now().UTC().Format("20060102T150405")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorf("persist: cannot open dead-letter file: %v", err)
			return
		}
		logger.Warnf("persist: dead-letter file opened: %s", path)
		w.deadLetter = f
		w.dlEncoder = json.NewEncoder(f)
	}
	written := 0
	for _, r := range batch {
		if err := w.dlEncoder.Encode(r); err != nil {
			logger.Errorf("persist: dead-letter encode failed: %v", err)
			break
		}
		written++
	}
	if w.cfg.OnDeadLetter != nil && written > 0 {
		w.cfg.OnDeadLetter(written)
	}
}
