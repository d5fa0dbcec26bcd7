package alarms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadaflow/pkg/models"
)

func alarmEntry(tag string, typ models.AlarmType, state models.AlarmState, ts time.Time) *models.LogEntry {
	return &models.LogEntry{
		ID:         models.EntryID(models.SystemDeltaV, tag+string(typ)+string(state)+ts.String()),
		Timestamp:  ts,
		System:     models.SystemDeltaV,
		TagName:    tag,
		AlarmType:  typ,
		AlarmState: state,
		TagValue:   models.NumericTagValue(85.5),
	}
}

func TestTrackerFullLifecycle(t *testing.T) {
	tr := NewTracker(4)
	base := time.Date(2025, 1, 15, 14, 31, 15, 0, time.UTC)

	raised, err := tr.Ingest(alarmEntry("REACTOR01/TIC_001/PV.CV", models.AlarmHigh, models.StateActive, base))
	require.NoError(t, err)
	require.NotNil(t, raised)
	assert.Equal(t, models.StateActive, raised.State)
	assert.Equal(t, 1, tr.Len())

	acked, err := tr.Ingest(alarmEntry("REACTOR01/TIC_001/PV.CV", models.AlarmHigh, models.StateAcknowledged, base.Add(65*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, models.StateAcknowledged, acked.State)
	require.NotNil(t, acked.AckAt)
	assert.Equal(t, 1, tr.Len())

	cleared, err := tr.Ingest(alarmEntry("REACTOR01/TIC_001/PV.CV", models.AlarmHigh, models.StateCleared, base.Add(530*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, models.StateCleared, cleared.State)
	assert.InDelta(t, 530.0, cleared.DurationSeconds, 0.001)
	assert.Equal(t, 0, tr.Len())

	_, ok := tr.Get(models.AlarmKey{Tag: "REACTOR01/TIC_001/PV.CV", Type: models.AlarmHigh})
	assert.False(t, ok)
}

func TestTrackerActiveToClearedSkippingAck(t *testing.T) {
	tr := NewTracker(4)
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	_, err := tr.Ingest(alarmEntry("A/T1", models.AlarmLow, models.StateActive, base))
	require.NoError(t, err)
	cleared, err := tr.Ingest(alarmEntry("A/T1", models.AlarmLow, models.StateCleared, base.Add(10*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, models.StateCleared, cleared.State)
	assert.InDelta(t, 10.0, cleared.DurationSeconds, 0.001)
}

func TestTrackerStaleTransitionsAreDiscarded(t *testing.T) {
	tr := NewTracker(4)
	base := time.Now().UTC()

	_, err := tr.Ingest(alarmEntry("A/T1", models.AlarmHigh, models.StateAcknowledged, base))
	assert.ErrorIs(t, err, ErrStaleTransition)

	_, err = tr.Ingest(alarmEntry("A/T1", models.AlarmHigh, models.StateCleared, base))
	assert.ErrorIs(t, err, ErrStaleTransition)

	// Neither anomaly may have synthesized an alarm.
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerOneLiveAlarmPerKey(t *testing.T) {
	tr := NewTracker(4)
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	first, err := tr.Ingest(alarmEntry("A/T1", models.AlarmHigh, models.StateActive, base))
	require.NoError(t, err)

	renotified, err := tr.Ingest(alarmEntry("A/T1", models.AlarmHigh, models.StateActive, base.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, first.RaisedAt, renotified.RaisedAt, "re-notification must not restart the lifecycle")

	// Distinct alarm types on the same tag are distinct keys.
	_, err = tr.Ingest(alarmEntry("A/T1", models.AlarmHighHigh, models.StateActive, base.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Len())
}

func TestTrackerListActiveSorted(t *testing.T) {
	tr := NewTracker(4)
	base := time.Now().UTC()
	for _, tag := range []string{"Z/T", "A/T", "M/T"} {
		_, err := tr.Ingest(alarmEntry(tag, models.AlarmHigh, models.StateActive, base))
		require.NoError(t, err)
	}

	active := tr.ListActive()
	require.Len(t, active, 3)
	assert.Equal(t, "A/T", active[0].Key.Tag)
	assert.Equal(t, "M/T", active[1].Key.Tag)
	assert.Equal(t, "Z/T", active[2].Key.Tag)
}

func TestTrackerConcurrentKeys(t *testing.T) {
	tr := NewTracker(8)
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := fmt.Sprintf("AREA%02d/MOD/PV", i)
			_, _ = tr.Ingest(alarmEntry(tag, models.AlarmHigh, models.StateActive, base))
			_, _ = tr.Ingest(alarmEntry(tag, models.AlarmHigh, models.StateCleared, base.Add(time.Second)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, tr.Len())
}
