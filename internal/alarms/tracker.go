package alarms

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// ErrStaleTransition reports an Acknowledge/Clear entry that arrived with
// no live alarm for its key. History is never synthesized retroactively;
// the caller logs and discards.
var ErrStaleTransition = errors.New("no live alarm for key")

const defaultLanes = 16

// Tracker maintains one alarm state machine per (tag, alarm-type) key:
// None -> Active -> Acknowledged -> Cleared, with Active -> Cleared also
// permitted. The keyspace is sharded by hash across fixed lanes so
// concurrent tags do not contend on one lock.
type Tracker struct {
	lanes []*lane
}

type lane struct {
	mu   sync.Mutex
	live map[models.AlarmKey]*models.ProcessAlarm
}

// NewTracker creates a tracker with the given lane count.
func NewTracker(laneCount int) *Tracker {
	if laneCount <= 0 {
		laneCount = defaultLanes
	}
	t := &Tracker{lanes: make([]*lane, laneCount)}
	for i := range t.lanes {
		t.lanes[i] = &lane{live: make(map[models.AlarmKey]*models.ProcessAlarm)}
	}
	return t
}

func (t *Tracker) laneFor(key models.AlarmKey) *lane {
	h := fnv.New32a()
	h.Write([]byte(key.Tag))
	h.Write([]byte{0})
	h.Write([]byte(key.Type))
	return t.lanes[h.Sum32()%uint32(len(t.lanes))]
}

// Ingest applies an alarm-bearing entry to its keyed state machine and
// returns a snapshot of the resulting alarm. Entries without an alarm
// type return (nil, nil). A Cleared alarm is returned one last time with
// its duration computed, then leaves the live index.
func (t *Tracker) Ingest(e *models.LogEntry) (*models.ProcessAlarm, error) {
	if !e.AlarmBearing() {
		return nil, nil
	}
	key := models.AlarmKey{Tag: e.TagName, Type: e.AlarmType}
	ln := t.laneFor(key)

	ln.mu.Lock()
	defer ln.mu.Unlock()

	alarm := ln.live[key]
	switch e.AlarmState {
	case models.StateActive:
		if alarm == nil {
			alarm = &models.ProcessAlarm{
				Key:           key,
				Priority:      e.AlarmPriority,
				CurrentValue:  e.TagValue,
				AlarmLimit:    e.Setpoint,
				ProcessArea:   e.ProcessArea,
				ControlModule: e.ControlModule,
				State:         models.StateActive,
				RaisedAt:      e.Timestamp,
			}
			ln.live[key] = alarm
			break
		}
		// Re-notification of a live alarm: refresh the reading, never
		// open a second lifecycle for the same key.
		alarm.CurrentValue = e.TagValue
		if e.AlarmPriority != 0 {
			alarm.Priority = e.AlarmPriority
		}
		if alarm.State == models.StateSuppressed {
			alarm.State = models.StateActive
		}

	case models.StateAcknowledged:
		if alarm == nil {
			return nil, ErrStaleTransition
		}
		if alarm.State == models.StateActive || alarm.State == models.StateSuppressed {
			alarm.State = models.StateAcknowledged
		}
		ackAt := e.Timestamp
		if e.AckAt != nil {
			ackAt = *e.AckAt
		}
		alarm.AckAt = &ackAt
		alarm.AckBy = e.OperatorID

	case models.StateCleared:
		if alarm == nil {
			return nil, ErrStaleTransition
		}
		clearedAt := e.Timestamp
		alarm.State = models.StateCleared
		alarm.ClearedAt = &clearedAt
		alarm.DurationSeconds = clearedAt.Sub(alarm.RaisedAt).Seconds()
		if e.TagValue.Kind != models.TagValueNone {
			alarm.CurrentValue = e.TagValue
		}
		delete(ln.live, key)

	case models.StateSuppressed:
		if alarm == nil {
			return nil, ErrStaleTransition
		}
		alarm.State = models.StateSuppressed

	default:
		logger.Warnf("Entry %s carries alarm type %s without a lifecycle state", e.ID, e.AlarmType)
		return nil, nil
	}

	snapshot := *alarm
	return &snapshot, nil
}

// Get returns a snapshot of the live alarm for key.
func (t *Tracker) Get(key models.AlarmKey) (*models.ProcessAlarm, bool) {
	ln := t.laneFor(key)
	ln.mu.Lock()
	defer ln.mu.Unlock()

	alarm, ok := ln.live[key]
	if !ok {
		return nil, false
	}
	snapshot := *alarm
	return &snapshot, true
}

// ListActive returns snapshots of every live alarm, ordered by key.
func (t *Tracker) ListActive() []*models.ProcessAlarm {
	var out []*models.ProcessAlarm
	for _, ln := range t.lanes {
		ln.mu.Lock()
		for _, alarm := range ln.live {
			snapshot := *alarm
			out = append(out, &snapshot)
		}
		ln.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Tag != out[j].Key.Tag {
			return out[i].Key.Tag < out[j].Key.Tag
		}
		return out[i].Key.Type < out[j].Key.Type
	})
	return out
}

// Len reports the number of live alarms.
func (t *Tracker) Len() int {
	n := 0
	for _, ln := range t.lanes {
		ln.mu.Lock()
		n += len(ln.live)
		ln.mu.Unlock()
	}
	return n
}
