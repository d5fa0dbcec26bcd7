package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadaflow/pkg/models"
)

var t0 = time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)

func entry(id string, at time.Time, system models.SourceSystem, sev models.Severity, alarmType models.AlarmType, msg string) *models.LogEntry {
	return &models.LogEntry{
		ID:        id,
		Timestamp: at,
		System:    system,
		Severity:  sev,
		AlarmType: alarmType,
		Message:   msg,
	}
}

func orderedRule() Rule {
	r := Rule{
		ID:   "esd-precursor",
		Name: "High alarm followed by trip",
		Mode: ModeOrdered,
		Steps: []Step{
			{System: models.SystemDeltaV, AlarmTypes: []models.AlarmType{models.AlarmHighHigh}},
			{System: models.SystemDeltaV, AlarmTypes: []models.AlarmType{models.AlarmSafety}},
		},
		WindowSeconds: 60,
		Actions:       []string{ActionNotify},
		Enabled:       true,
	}
	return r
}

func TestOrderedRuleFiresWithinWindow(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	alerts, err := eng.Add(entry("a", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, "PV above HH"))
	require.NoError(t, err)
	assert.Empty(t, alerts)

	alerts, err = eng.Add(entry("b", t0.Add(45*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, "SIS trip"))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	alert := alerts[0]
	assert.Equal(t, "esd-precursor", alert.RuleID)
	assert.Equal(t, []string{"a", "b"}, alert.EntryIDs)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, []string{ActionNotify}, alert.Actions)
	assert.NotEmpty(t, alert.AlertID)
}

func TestOrderedRuleOutsideWindow(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	_, err := eng.Add(entry("a", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("b", t0.Add(61*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	assert.Empty(t, alerts, "trip outside the rule window must not correlate")
}

func TestOrderedRuleRejectsReversedOrder(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	_, err := eng.Add(entry("trip", t0, models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("hh", t0.Add(time.Second), models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAntiFloodSuppressesSameEvidence(t *testing.T) {
	rule := Rule{
		ID:   "comm-storm",
		Mode: ModeCount,
		Steps: []Step{
			{AlarmTypes: []models.AlarmType{models.AlarmCommFail}, Count: 3},
		},
		WindowSeconds: 120,
		Actions:       []string{ActionNotify},
		Enabled:       true,
	}
	require.NoError(t, rule.Validate())

	var suppressed []string
	eng := NewEngine(Config{
		Rules:      []Rule{rule},
		OnSuppress: func(id string) { suppressed = append(suppressed, id) },
	})

	fired := 0
	for i := 0; i < 3; i++ {
		alerts, err := eng.Add(entry(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Second), models.SystemExperion, models.SeverityError, models.AlarmCommFail, "FTE comm loss"))
		require.NoError(t, err)
		fired += len(alerts)
	}
	require.Equal(t, 1, fired, "rule fires exactly once when the count is reached")

	// A fourth failure re-satisfies the count with one new entry plus two
	// already-fired ones. New evidence means a new alert, and the fifth
	// again, so anti-flood only swallows firings with zero new entries.
	alerts, err := eng.Add(entry("d", t0.Add(3*time.Second), models.SystemExperion, models.SeverityError, models.AlarmCommFail, "FTE comm loss"))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Empty(t, suppressed)
}

func TestAntiFloodSuppressesRedeliveredEvidence(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	var suppressed int
	eng := NewEngine(Config{
		Rules:      []Rule{rule},
		OnSuppress: func(string) { suppressed++ },
	})

	_, err := eng.Add(entry("hh", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("trip1", t0.Add(10*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	// Feed redelivery of the trip entry: same content-derived ID, new
	// arrival. The pair it forms is exactly the evidence of the previous
	// firing, so anti-flood swallows it.
	alerts, err = eng.Add(entry("trip1", t0.Add(12*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, suppressed)

	// A genuinely new trip is new evidence and fires again.
	alerts, err = eng.Add(entry("trip2", t0.Add(20*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestLatePrecursorCompletesPattern(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}, Skew: 5 * time.Second})

	alerts, err := eng.Add(entry("trip", t0.Add(10*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// The high-high arrives late but timestamps 3s before the trip. It is
	// inserted at its timestamp position and the pattern it completes is
	// anchored on the trip already in the buffer, so the alert fires on
	// this insertion rather than waiting for the trip to recur.
	alerts, err = eng.Add(entry("hh", t0.Add(7*time.Second), models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{"hh", "trip"}, alerts[0].EntryIDs)
	assert.Equal(t, t0.Add(10*time.Second), alerts[0].Timestamp, "alert carries the anchor's timestamp")

	// A second trip pairs with the same high-high: still new evidence.
	alerts, err = eng.Add(entry("trip2", t0.Add(12*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{"hh", "trip2"}, alerts[0].EntryIDs)
}

func TestLateUnrelatedEntryDoesNotRefire(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	var suppressed int
	eng := NewEngine(Config{
		Rules:      []Rule{rule},
		Skew:       5 * time.Second,
		OnSuppress: func(string) { suppressed++ },
	})

	_, err := eng.Add(entry("hh", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("trip", t0.Add(10*time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	// A late entry that matches no step of the already-fired pattern must
	// not resurrect it, with or without anti-flood.
	alerts, err = eng.Add(entry("noise", t0.Add(8*time.Second), models.SystemDeltaV, models.SeverityInfo, "", "setpoint change"))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Zero(t, suppressed)
}

func TestSkewToleranceRejectsAncientEntries(t *testing.T) {
	eng := NewEngine(Config{Skew: 5 * time.Second})
	_, err := eng.Add(entry("now", t0, models.SystemPCS7, models.SeverityInfo, "", ""))
	require.NoError(t, err)
	_, err = eng.Add(entry("old", t0.Add(-6*time.Second), models.SystemPCS7, models.SeverityInfo, "", ""))
	assert.ErrorIs(t, err, ErrTooOld)

	_, err = eng.Add(entry("late", t0.Add(-4*time.Second), models.SystemPCS7, models.SeverityInfo, "", ""))
	assert.NoError(t, err, "entries inside the skew tolerance are accepted")
}

func TestMissingTimestampRejected(t *testing.T) {
	eng := NewEngine(Config{})
	_, err := eng.Add(&models.LogEntry{ID: "x"})
	assert.Error(t, err)
}

func TestBufferEvictsOldest(t *testing.T) {
	eng := NewEngine(Config{BufferSize: 3, Skew: time.Hour})
	for i := 0; i < 5; i++ {
		_, err := eng.Add(entry(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Second), models.SystemIFix, models.SeverityInfo, "", ""))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, eng.Len())
}

func TestEqualTimestampsBreakTiesByArrival(t *testing.T) {
	rule := orderedRule()
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	_, err := eng.Add(entry("hh", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("trip", t0, models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	require.Len(t, alerts, 1, "same-timestamp entries order by arrival sequence")
	assert.Equal(t, []string{"hh", "trip"}, alerts[0].EntryIDs)
}

func TestPatternAndSeverityFilters(t *testing.T) {
	rule := Rule{
		ID:   "auth-burst",
		Mode: ModeCount,
		Steps: []Step{
			{Pattern: "(?i)login failed", MinSeverity: "warning", Count: 2},
		},
		WindowSeconds: 30,
		Enabled:       true,
	}
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	_, err := eng.Add(entry("a", t0, models.SystemSyslog, models.SeverityWarning, "", "Login failed for user mgr"))
	require.NoError(t, err)
	// Severity below the floor does not count.
	alerts, err := eng.Add(entry("b", t0.Add(time.Second), models.SystemSyslog, models.SeverityInfo, "", "login failed again"))
	require.NoError(t, err)
	assert.Empty(t, alerts)

	alerts, err = eng.Add(entry("c", t0.Add(2*time.Second), models.SystemSyslog, models.SeverityError, "", "LOGIN FAILED station2"))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestAutoEscalateAppendsAction(t *testing.T) {
	rule := orderedRule()
	rule.AutoEscalate = true
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	_, err := eng.Add(entry("hh", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("trip", t0.Add(time.Second), models.SystemDeltaV, models.SeverityAlert, models.AlarmSafety, ""))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Actions, ActionEscalate)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	rule := orderedRule()
	rule.Enabled = false
	require.NoError(t, rule.Validate())
	eng := NewEngine(Config{Rules: []Rule{rule}})

	_, err := eng.Add(entry("hh", t0, models.SystemDeltaV, models.SeverityError, models.AlarmHighHigh, ""))
	require.NoError(t, err)
	alerts, err := eng.Add(entry("trip", t0.Add(time.Second), models.SystemDeltaV, models.SeverityCritical, models.AlarmSafety, ""))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
