package correlate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scadaflow/pkg/models"
)

// ErrTooOld is returned for entries whose timestamp lies further behind
// the newest buffered entry than the configured skew tolerance.
var ErrTooOld = errors.New("entry older than skew tolerance")

const (
	defaultBufferSize = 10000
	defaultSkew       = 5 * time.Second
)

// timeKey orders buffered entries. Equal timestamps are broken by the
// arrival sequence number so evaluation is deterministic.
type timeKey struct {
	ts  time.Time
	seq uint64
}

func (k timeKey) less(o timeKey) bool {
	if !k.ts.Equal(o.ts) {
		return k.ts.Before(o.ts)
	}
	return k.seq < o.seq
}

type bufEntry struct {
	key   timeKey
	entry *models.LogEntry
}

// tombstone remembers the last firing of a rule so a sliding window
// cannot re-trigger on the same evidence.
type tombstone struct {
	firedAt time.Time
	ids     map[string]bool
}

// Config configures an Engine. OnSuppress is invoked with the rule ID
// whenever anti-flood swallows a would-be duplicate alert.
type Config struct {
	Rules      []Rule
	BufferSize int
	Skew       time.Duration
	OnSuppress func(ruleID string)
}

// Engine holds the bounded time-ordered entry buffer and evaluates all
// enabled rules against it as entries arrive.
type Engine struct {
	mu         sync.Mutex
	rules      []Rule
	buf        []bufEntry
	bufSize    int
	skew       time.Duration
	seq        uint64
	tombstones map[string]*tombstone
	onSuppress func(string)
}

func NewEngine(cfg Config) *Engine {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	skew := cfg.Skew
	if skew <= 0 {
		skew = defaultSkew
	}
	enabled := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return &Engine{
		rules:      enabled,
		buf:        make([]bufEntry, 0, size),
		bufSize:    size,
		skew:       skew,
		tombstones: make(map[string]*tombstone),
		onSuppress: cfg.OnSuppress,
	}
}

// Add inserts the entry into the buffer and returns any alerts fired by
// the insertion. Entries may arrive slightly out of order; anything
// older than the skew tolerance behind the newest entry is rejected.
func (eng *Engine) Add(e *models.LogEntry) ([]*models.AlertEvent, error) {
	if e.Timestamp.IsZero() {
		return nil, fmt.Errorf("entry %s has no timestamp", e.ID)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if n := len(eng.buf); n > 0 {
		newest := eng.buf[n-1].key.ts
		if newest.Sub(e.Timestamp) > eng.skew {
			return nil, ErrTooOld
		}
	}

	eng.seq++
	be := bufEntry{key: timeKey{ts: e.Timestamp, seq: eng.seq}, entry: e}

	// Sorted insert. Late entries within the skew tolerance land at
	// their timestamp position, not at the tail.
	pos := sort.Search(len(eng.buf), func(i int) bool {
		return be.key.less(eng.buf[i].key)
	})
	eng.buf = append(eng.buf, bufEntry{})
	copy(eng.buf[pos+1:], eng.buf[pos:])
	eng.buf[pos] = be

	if len(eng.buf) > eng.bufSize {
		drop := len(eng.buf) - eng.bufSize
		eng.buf = append(eng.buf[:0], eng.buf[drop:]...)
		pos -= drop
		if pos < 0 {
			pos = 0
		}
	}

	// A late entry lands mid-buffer and may complete a pattern whose
	// final step arrived earlier, so every entry from the insertion
	// point to the tail is a candidate anchor. The new entry must be
	// part of the evidence either way.
	var alerts []*models.AlertEvent
	for i := range eng.rules {
		rule := &eng.rules[i]
		for ai := len(eng.buf) - 1; ai >= pos; ai-- {
			anchor := eng.buf[ai]
			matched := eng.evaluate(rule, anchor, be.key.seq)
			if matched == nil {
				continue
			}
			if eng.suppressed(rule, anchor.key.ts, matched) {
				if eng.onSuppress != nil {
					eng.onSuppress(rule.ID)
				}
			} else {
				alerts = append(alerts, buildAlert(rule, anchor.key.ts, matched))
			}
			break
		}
	}
	return alerts, nil
}

// Len reports the current buffer occupancy.
func (eng *Engine) Len() int {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return len(eng.buf)
}

// evaluate checks one rule against the buffer with anchor as the newest
// candidate. A match must include the entry with sequence number newSeq
// or it is discarded as evidence that already had its chance to fire.
// Returns the matched entries oldest first, or nil.
func (eng *Engine) evaluate(rule *Rule, anchor bufEntry, newSeq uint64) []*models.LogEntry {
	cutoff := anchor.key.ts.Add(-rule.Window())
	switch rule.Mode {
	case ModeOrdered:
		return eng.evalOrdered(rule, anchor, cutoff, newSeq)
	default:
		return eng.evalCount(rule, anchor, cutoff, newSeq)
	}
}

// evalOrdered walks the steps last to first, greedily binding the
// newest matching entries to each step. The key bound tightens to the
// oldest entry bound so far, which keeps step matches distinct and in
// non-decreasing time order.
func (eng *Engine) evalOrdered(rule *Rule, anchor bufEntry, cutoff time.Time, newSeq uint64) []*models.LogEntry {
	last := &rule.Steps[len(rule.Steps)-1]
	if !last.Matches(anchor.entry) {
		return nil
	}
	bound := timeKey{ts: anchor.key.ts, seq: anchor.key.seq + 1}
	contributes := anchor.key.seq == newSeq
	var chosen [][]bufEntry
	for si := len(rule.Steps) - 1; si >= 0; si-- {
		step := &rule.Steps[si]
		need := step.Count
		picks := make([]bufEntry, 0, need)
		if si == len(rule.Steps)-1 {
			picks = append(picks, anchor)
			need--
		}
		for bi := len(eng.buf) - 1; bi >= 0 && need > 0; bi-- {
			cand := eng.buf[bi]
			if !cand.key.less(bound) {
				continue
			}
			if cand.key.ts.Before(cutoff) {
				break
			}
			if cand.key.seq == anchor.key.seq {
				continue
			}
			if step.Matches(cand.entry) {
				picks = append(picks, cand)
				need--
				if cand.key.seq == newSeq {
					contributes = true
				}
			}
		}
		if need > 0 {
			return nil
		}
		// Oldest pick of this step bounds the previous step.
		bound = picks[len(picks)-1].key
		chosen = append(chosen, picks)
	}
	if !contributes {
		return nil
	}
	var out []*models.LogEntry
	for i := len(chosen) - 1; i >= 0; i-- {
		picks := chosen[i]
		for j := len(picks) - 1; j >= 0; j-- {
			out = append(out, picks[j].entry)
		}
	}
	return out
}

func (eng *Engine) evalCount(rule *Rule, anchor bufEntry, cutoff time.Time, newSeq uint64) []*models.LogEntry {
	contributes := false
	var out []*models.LogEntry
	used := make(map[uint64]bool)
	for si := range rule.Steps {
		step := &rule.Steps[si]
		need := step.Count
		for bi := len(eng.buf) - 1; bi >= 0 && need > 0; bi-- {
			cand := eng.buf[bi]
			if cand.key.ts.After(anchor.key.ts) {
				continue
			}
			if cand.key.ts.Before(cutoff) {
				break
			}
			if used[cand.key.seq] || !step.Matches(cand.entry) {
				continue
			}
			used[cand.key.seq] = true
			out = append(out, cand.entry)
			need--
			if cand.key.seq == newSeq {
				contributes = true
			}
		}
		if need > 0 {
			return nil
		}
	}
	// Only fire off insertions that contribute evidence; otherwise the
	// same window re-fires on every unrelated entry.
	if !contributes {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// suppressed applies anti-flood: if every matched entry was already part
// of the rule's last firing and that firing is still inside the window,
// the new alert carries no new evidence and is swallowed.
func (eng *Engine) suppressed(rule *Rule, at time.Time, matched []*models.LogEntry) bool {
	ts := eng.tombstones[rule.ID]
	if ts != nil && at.Sub(ts.firedAt) < rule.Window() {
		subset := true
		for _, e := range matched {
			if !ts.ids[e.ID] {
				subset = false
				break
			}
		}
		if subset {
			return true
		}
	}
	ids := make(map[string]bool, len(matched))
	if ts != nil && at.Sub(ts.firedAt) < rule.Window() {
		for id := range ts.ids {
			ids[id] = true
		}
	}
	for _, e := range matched {
		ids[e.ID] = true
	}
	eng.tombstones[rule.ID] = &tombstone{firedAt: at, ids: ids}
	return false
}

func buildAlert(rule *Rule, at time.Time, matched []*models.LogEntry) *models.AlertEvent {
	sev := models.SeverityDebug
	ids := make([]string, 0, len(matched))
	for _, e := range matched {
		ids = append(ids, e.ID)
		if e.Severity.MoreSevereThan(sev) {
			sev = e.Severity
		}
	}
	actions := make([]string, len(rule.Actions))
	copy(actions, rule.Actions)
	if rule.AutoEscalate && sev.MoreSevereThan(models.SeverityError) {
		found := false
		for _, a := range actions {
			if a == ActionEscalate {
				found = true
				break
			}
		}
		if !found {
			actions = append(actions, ActionEscalate)
		}
	}
	return &models.AlertEvent{
		AlertID:   uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		EntryIDs:  ids,
		Timestamp: at,
		Severity:  sev,
		Actions:   actions,
		Entries:   matched,
	}
}
