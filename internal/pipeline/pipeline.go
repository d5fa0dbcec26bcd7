package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"scadaflow/internal/alarms"
	"scadaflow/internal/alertstore"
	"scadaflow/internal/connections"
	"scadaflow/internal/correlate"
	"scadaflow/internal/dispatch"
	"scadaflow/internal/logger"
	"scadaflow/internal/metrics"
	"scadaflow/internal/parse"
	"scadaflow/internal/persist"
	"scadaflow/internal/security"
	"scadaflow/pkg/models"
)

// Config tunes the pipeline's queues and shutdown behavior.
type Config struct {
	IngestLanes   int
	LaneQueueSize int
	EvalQueueSize int
	DrainTimeout  time.Duration
}

const (
	defaultIngestLanes   = 4
	defaultLaneQueueSize = 1024
	defaultEvalQueueSize = 4096
	defaultDrainTimeout  = 10 * time.Second
)

// Components are the processing stages the pipeline drives. Tagger,
// Persist, AlertStore, AlertSinks and Connections may be nil when the
// deployment does not configure them.
type Components struct {
	Parsers     *parse.Registry
	Tagger      *security.Tagger
	Tracker     *alarms.Tracker
	Engine      *correlate.Engine
	Dispatcher  *dispatch.Dispatcher
	Persist     *persist.Writer
	AlertStore  *alertstore.Store
	AlertSinks  []persist.AlertSink
	Connections *connections.Registry
	Metrics     *metrics.Metrics
}

type rawItem struct {
	connectionID string
	system       models.SourceSystem
	raw          string
}

// Pipeline fans raw lines out to per-connection ingestion lanes and
// funnels normalized entries through a single correlation lane. Lines
// from one connection always land in the same lane, so their relative
// order survives the fan-out.
type Pipeline struct {
	cfg   Config
	comps Components

	lanes    []chan rawItem
	evalCh   chan *models.LogEntry
	stopping atomic.Bool
	sendMu   sync.RWMutex

	laneWG sync.WaitGroup
	evalWG sync.WaitGroup

	mu      sync.Mutex
	stats   Stats
	started bool
}

// Stats is a snapshot of pipeline counters for the query API.
type Stats struct {
	Ingested   uint64                         `json:"ingested"`
	Parsed     uint64                         `json:"parsed"`
	Dropped    uint64                         `json:"dropped"`
	Alerts     uint64                         `json:"alerts"`
	BySystem   map[models.SourceSystem]uint64 `json:"by_system"`
	BySeverity map[string]uint64              `json:"by_severity"`
}

func New(cfg Config, comps Components) *Pipeline {
	if cfg.IngestLanes <= 0 {
		cfg.IngestLanes = defaultIngestLanes
	}
	if cfg.LaneQueueSize <= 0 {
		cfg.LaneQueueSize = defaultLaneQueueSize
	}
	if cfg.EvalQueueSize <= 0 {
		cfg.EvalQueueSize = defaultEvalQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	p := &Pipeline{
		cfg:    cfg,
		comps:  comps,
		lanes:  make([]chan rawItem, cfg.IngestLanes),
		evalCh: make(chan *models.LogEntry, cfg.EvalQueueSize),
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan rawItem, cfg.LaneQueueSize)
	}
	p.stats.BySystem = make(map[models.SourceSystem]uint64)
	p.stats.BySeverity = make(map[string]uint64)
	return p
}

// Start launches the lane workers and the correlation lane.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := range p.lanes {
		p.laneWG.Add(1)
		go func(lane chan rawItem) {
			defer p.laneWG.Done()
			p.laneLoop(lane)
		}(p.lanes[i])
	}
	p.evalWG.Add(1)
	go func() {
		defer p.evalWG.Done()
		p.evalLoop()
	}()
	logger.Infof("pipeline started: %d ingest lanes, lane queue %d, eval queue %d",
		p.cfg.IngestLanes, p.cfg.LaneQueueSize, p.cfg.EvalQueueSize)
}

// IngestRaw accepts one raw line from a connection. When the target
// lane is full the oldest queued line is discarded to make room, so a
// flooding feed sheds its own history rather than stalling the rest.
// Returns false when the line was not accepted.
func (p *Pipeline) IngestRaw(connectionID string, system models.SourceSystem, raw string) bool {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.stopping.Load() {
		return false
	}
	if raw == "" {
		return false
	}
	p.mu.Lock()
	p.stats.Ingested++
	p.mu.Unlock()

	lane := p.lanes[p.laneFor(connectionID)]
	item := rawItem{connectionID: connectionID, system: system, raw: raw}
	select {
	case lane <- item:
	default:
		select {
		case <-lane:
			p.countDrop(system, "backpressure")
		default:
		}
		select {
		case lane <- item:
		default:
			p.countDrop(system, "backpressure")
			return false
		}
	}
	if p.comps.Metrics != nil {
		p.comps.Metrics.IngestQueueDepth.Set(float64(len(lane)))
	}
	return true
}

func (p *Pipeline) laneFor(connectionID string) int {
	h := fnv.New32a()
	h.Write([]byte(connectionID))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

func (p *Pipeline) laneLoop(lane chan rawItem) {
	for item := range lane {
		p.process(item)
	}
}

// process runs one raw line through parse, tagging and alarm tracking,
// then hands it to the correlation lane.
func (p *Pipeline) process(item rawItem) {
	m := p.comps.Metrics
	if p.comps.Connections != nil {
		p.comps.Connections.Heartbeat(item.connectionID, item.system)
	}

	entry, err := p.comps.Parsers.Parse(item.system, item.raw)
	if err != nil {
		var perr *parse.ParseError
		reason := "malformed"
		if errors.As(err, &perr) && perr.Reason != "" {
			reason = perr.Reason
		}
		if m != nil {
			m.ParseErrors.WithLabelValues(string(item.system)).Inc()
		}
		p.countDrop(item.system, reason)
		logger.Debugf("parse failure on %s/%s: %v", item.system, item.connectionID, err)
		return
	}
	entry.ConnectionID = item.connectionID

	// Correlation is time-based; an entry that carries no usable
	// timestamp cannot be ordered and is counted out, not guessed at.
	if entry.Timestamp.IsZero() {
		p.countDrop(item.system, "no_timestamp")
		return
	}

	if p.comps.Tagger != nil {
		if tags := p.comps.Tagger.Apply(entry); len(tags) > 0 {
			entry.SecurityTags = tags
			if entry.Category == "" || entry.Category == models.CategorySystemStatus {
				entry.Category = models.CategorySecurity
			}
		}
	}

	if entry.AlarmBearing() {
		alarm, err := p.comps.Tracker.Ingest(entry)
		if err != nil {
			if errors.Is(err, alarms.ErrStaleTransition) {
				if m != nil {
					m.AlarmAnomalies.Inc()
				}
				logger.Debugf("stale alarm transition for %s/%s: %s", entry.TagName, entry.AlarmType, entry.AlarmState)
			} else {
				logger.Warnf("alarm tracking failed for entry %s: %v", entry.ID, err)
			}
		}
		// A cleared alarm leaves the live table, so its completed
		// lifecycle goes to persistence now. Live ones are flushed
		// at shutdown.
		if alarm != nil && !alarm.Live() && p.comps.Persist != nil {
			if !p.comps.Persist.EnqueueAlarm(alarm) {
				if m != nil {
					m.EntriesDropped.WithLabelValues("persist_backlog").Inc()
				}
			}
		}
		if m != nil {
			m.AlarmsActive.Set(float64(p.comps.Tracker.Len()))
		}
	}

	if m != nil {
		m.EntriesIngested.WithLabelValues(string(entry.System)).Inc()
		if parse.UnmappedToken(entry) {
			m.UnknownTokens.Inc()
		}
	}
	p.countParsed(entry)

	if p.comps.Persist != nil {
		if !p.comps.Persist.Enqueue(entry) {
			if m != nil {
				m.EntriesDropped.WithLabelValues("persist_backlog").Inc()
			}
		}
	}

	p.evalCh <- entry
	if m != nil {
		m.EvalQueueDepth.Set(float64(len(p.evalCh)))
	}
}

func (p *Pipeline) evalLoop() {
	for entry := range p.evalCh {
		p.evaluate(entry)
	}
}

func (p *Pipeline) evaluate(entry *models.LogEntry) {
	alerts, err := p.comps.Engine.Add(entry)
	if err != nil {
		if errors.Is(err, correlate.ErrTooOld) {
			p.countDrop(entry.System, "skew")
			return
		}
		logger.Warnf("correlation rejected entry %s: %v", entry.ID, err)
		return
	}
	for _, alert := range alerts {
		p.handleAlert(alert)
	}
}

func (p *Pipeline) handleAlert(alert *models.AlertEvent) {
	m := p.comps.Metrics
	logger.Infof("alert %s fired: rule=%s severity=%s entries=%d",
		alert.AlertID, alert.RuleID, alert.Severity, len(alert.EntryIDs))
	if m != nil {
		m.AlertsTriggered.WithLabelValues(alert.RuleID).Inc()
	}
	p.mu.Lock()
	p.stats.Alerts++
	p.mu.Unlock()

	if p.comps.Dispatcher != nil {
		if err := p.comps.Dispatcher.Dispatch(context.Background(), alert); err != nil {
			logger.Errorf("alert %s partially dispatched: %v", alert.AlertID, err)
		}
	}
	if p.comps.AlertStore != nil {
		p.comps.AlertStore.Add(alert)
	}
	for _, sink := range p.comps.AlertSinks {
		if err := sink.WriteAlerts([]*models.AlertEvent{alert}); err != nil {
			logger.Errorf("alert sink write failed for %s: %v", alert.AlertID, err)
		}
	}
}

// Stop drains in stage order: no new lines, lanes empty out, the
// correlation lane finishes, then persistence flushes. The context caps
// the whole drain; entries still queued past the deadline are lost and
// logged as such.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.stopping.Swap(true) {
		return nil
	}
	logger.Infof("pipeline stopping, draining queues")

	drainCtx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer cancel()

	// Block until in-flight IngestRaw calls clear, then close the lanes.
	p.sendMu.Lock()
	for _, lane := range p.lanes {
		close(lane)
	}
	p.sendMu.Unlock()

	if waitTimeout(drainCtx, &p.laneWG) {
		logger.Errorf("pipeline drain timed out with lines still queued")
	} else {
		close(p.evalCh)
	}
	if waitTimeout(drainCtx, &p.evalWG) {
		logger.Errorf("pipeline drain timed out with entries awaiting correlation")
	}

	var err error
	if p.comps.Persist != nil {
		var live []*models.ProcessAlarm
		if p.comps.Tracker != nil {
			live = p.comps.Tracker.ListActive()
		}
		var conns []models.ScadaConnection
		if p.comps.Connections != nil {
			conns = p.comps.Connections.Snapshot()
		}
		if len(live) > 0 {
			logger.Infof("flushing %d live alarms to persistence", len(live))
		}
		if ferr := p.comps.Persist.FlushSnapshot(drainCtx, live, conns); ferr != nil {
			logger.Errorf("alarm and connection snapshot flush failed: %v", ferr)
			err = ferr
		}
		if cerr := p.comps.Persist.Close(drainCtx); cerr != nil && err == nil {
			err = cerr
		}
	}
	for _, sink := range p.comps.AlertSinks {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	logger.Infof("pipeline stopped")
	return err
}

// waitTimeout waits on the group and reports whether the context
// expired first.
func waitTimeout(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return false
	case <-ctx.Done():
		return true
	}
}

func (p *Pipeline) countParsed(entry *models.LogEntry) {
	p.mu.Lock()
	p.stats.Parsed++
	p.stats.BySystem[entry.System]++
	p.stats.BySeverity[entry.Severity.String()]++
	p.mu.Unlock()
}

func (p *Pipeline) countDrop(system models.SourceSystem, reason string) {
	p.mu.Lock()
	p.stats.Dropped++
	p.mu.Unlock()
	if p.comps.Metrics != nil {
		p.comps.Metrics.EntriesDropped.WithLabelValues(reason).Inc()
	}
}

// StatsSnapshot copies the counters.
func (p *Pipeline) StatsSnapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Stats{
		Ingested:   p.stats.Ingested,
		Parsed:     p.stats.Parsed,
		Dropped:    p.stats.Dropped,
		Alerts:     p.stats.Alerts,
		BySystem:   make(map[models.SourceSystem]uint64, len(p.stats.BySystem)),
		BySeverity: make(map[string]uint64, len(p.stats.BySeverity)),
	}
	for k, v := range p.stats.BySystem {
		out.BySystem[k] = v
	}
	for k, v := range p.stats.BySeverity {
		out.BySeverity[k] = v
	}
	return out
}
