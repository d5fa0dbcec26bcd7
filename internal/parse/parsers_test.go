package parse

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadaflow/pkg/models"
)

func TestExperionParse(t *testing.T) {
	p := NewExperionParser()

	e, err := p.Parse("2025-01-15 14:31:15.456|EXPSVR01|REACTOR01.TIC001.PV|PVHIHI|ACTIVE|U|97.2 DEG_C|PV high high|OP1")
	require.NoError(t, err)
	assert.Equal(t, "EXPSVR01", e.SourceNode)
	assert.Equal(t, "REACTOR01/TIC001/PV", e.TagName)
	assert.Equal(t, models.AlarmHighHigh, e.AlarmType)
	assert.Equal(t, models.StateActive, e.AlarmState)
	assert.Equal(t, 1, e.AlarmPriority)
	assert.Equal(t, models.SeverityCritical, e.Severity)
	assert.Equal(t, 97.2, e.TagValue.Num)
	assert.Equal(t, "DEG_C", e.EngUnits)
	assert.Equal(t, "PV high high", e.Message)
	assert.Equal(t, "OP1", e.OperatorID)
}

func TestExperionRejectsShortRow(t *testing.T) {
	_, err := NewExperionParser().Parse("2025-01-15 14:31:15|EXPSVR01|TAG")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestPCS7ParseXML(t *testing.T) {
	p := NewPCS7Parser()

	raw := `<AlarmMessage><TimeStamp>2025-01-15T14:31:15.456Z</TimeStamp>` +
		`<Source>REACTOR01/TIC001</Source><SignalClass>HH</SignalClass>` +
		`<State>COMING</State><Value>97.2</Value><Unit>DEG_C</Unit>` +
		`<Setpoint>90</Setpoint><Priority>1</Priority><User>OP1</User>` +
		`<Text>Temperature very high</Text></AlarmMessage>`
	e, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 31, 15, 456000000, time.UTC), e.Timestamp)
	assert.Equal(t, "REACTOR01/TIC001", e.TagName)
	assert.Equal(t, models.AlarmHighHigh, e.AlarmType)
	assert.Equal(t, models.StateActive, e.AlarmState)
	assert.Equal(t, models.SeverityCritical, e.Severity)
	require.NotNil(t, e.Setpoint)
	assert.Equal(t, 90.0, *e.Setpoint)
	assert.Equal(t, "Temperature very high", e.Message)
}

func TestPCS7RejectsBrokenXML(t *testing.T) {
	_, err := NewPCS7Parser().Parse("<AlarmMessage><TimeStamp>2025")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestFactoryTalkParse(t *testing.T) {
	p := NewFactoryTalkParser()

	e, err := p.Parse("[2025-01-15 14:31:15.456] [HIHI] [ACTIVE] Area:REACTOR01 Tag:TIC_001 Value:97.2 Units:DEG_C Pri:1 Op:OPERATOR1 Msg:High high temperature")
	require.NoError(t, err)
	assert.Equal(t, "REACTOR01/TIC_001", e.TagName)
	assert.Equal(t, "REACTOR01", e.ProcessArea)
	assert.Equal(t, models.AlarmHighHigh, e.AlarmType)
	assert.Equal(t, 1, e.AlarmPriority)
	assert.Equal(t, "High high temperature", e.Message)
	assert.Equal(t, "OPERATOR1", e.OperatorID)
}

func TestFactoryTalkRequiresTag(t *testing.T) {
	_, err := NewFactoryTalkParser().Parse("[2025-01-15 14:31:15] [HIHI] Area:REACTOR01 Value:97.2")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestWonderwareParse(t *testing.T) {
	p := NewWonderwareParser()

	e, err := p.Parse("2025/01/15 14:31:15.456,NODE1,REACTOR01.LIC001,LoLo,Active,2,12.1,PCT,OPERATOR1,Reactor level low low")
	require.NoError(t, err)
	assert.Equal(t, "NODE1", e.SourceNode)
	assert.Equal(t, "REACTOR01/LIC001", e.TagName)
	assert.Equal(t, models.AlarmLowLow, e.AlarmType)
	assert.Equal(t, 2, e.AlarmPriority)
	assert.Equal(t, 12.1, e.TagValue.Num)
	assert.Equal(t, "Reactor level low low", e.Message)
}

func TestCentumParse(t *testing.T) {
	p := NewCentumParser()

	e, err := p.Parse("01/15/2025 14:31:15 STN01 REACTOR01/TIC001 HI ALM 85.5 DEG_C PR=2 OPR=OP1 Reactor temperature high")
	require.NoError(t, err)
	assert.Equal(t, "STN01", e.SourceNode)
	assert.Equal(t, models.AlarmHigh, e.AlarmType)
	assert.Equal(t, models.StateActive, e.AlarmState)
	assert.Equal(t, 2, e.AlarmPriority)
	assert.Equal(t, "Reactor temperature high", e.Message)

	rtn, err := p.Parse("01/15/2025 14:45:00 STN01 REACTOR01/TIC001 HI RTN 79.0 DEG_C")
	require.NoError(t, err)
	assert.Equal(t, models.StateCleared, rtn.AlarmState)
}

func TestSyslogParse(t *testing.T) {
	p := NewSyslogParser(models.SystemABB800xA)

	e, err := p.Parse("<131>2025-01-15T14:31:15Z abbnode1 alarmlog[220]: TAG=REACTOR01/TIC001 COND=HIGH STATE=ACTIVE VAL=85.5 UNITS=DEG_C PRIO=2 USER=OP1 temp high")
	require.NoError(t, err)
	assert.Equal(t, models.SystemABB800xA, e.System)
	assert.Equal(t, "abbnode1", e.SourceNode)
	assert.Equal(t, "REACTOR01/TIC001", e.TagName)
	assert.Equal(t, models.AlarmHigh, e.AlarmType)
	// PRI 131 is severity 3 (error); the HIGH token does not outrank it.
	assert.Equal(t, models.SeverityError, e.Severity)
	assert.Equal(t, "temp high", e.Message)
}

func TestSyslogClassicStampGetsCurrentYear(t *testing.T) {
	p := NewSyslogParser(models.SystemSyslog)
	p.now = func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) }

	e, err := p.Parse("<14>Jan 15 14:31:15 node1 scada[99]: plain status message")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 31, 15, 0, time.UTC), e.Timestamp)
	assert.Equal(t, models.SeverityInfo, e.Severity)
	assert.Empty(t, e.AlarmType)
}

func TestSyslogDecemberStampReadInJanuary(t *testing.T) {
	p := NewSyslogParser(models.SystemSyslog)
	p.now = func() time.Time { return time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC) }

	// The yearless stamp must not land a year in the future when the
	// line crosses the rollover in flight.
	e, err := p.Parse("<14>Dec 31 23:59:58 node1 scada[99]: year rollover")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 59, 58, 0, time.UTC), e.Timestamp)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	e, err := r.Parse(models.SystemDeltaV, "15-JAN-25 14:31:15.456 REACTOR01/TIC_001/PV.CV HI_ALM 85.5 DEG_C PRIO=3 USER=OPERATOR1")
	require.NoError(t, err)
	assert.Equal(t, models.SystemDeltaV, e.System)

	_, err = r.Parse(models.SourceSystem("BOGUS"), "whatever")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	assert.Len(t, r.Systems(), 10)
}

func TestEntryIDIsNamespacedBySystem(t *testing.T) {
	raw := "identical payload"
	assert.NotEqual(t,
		models.EntryID(models.SystemDeltaV, raw),
		models.EntryID(models.SystemExperion, raw),
	)
}

func TestMapStateTokenSpellings(t *testing.T) {
	for token, want := range map[string]models.AlarmState{
		"ACK":          models.StateAcknowledged,
		"acknowledged": models.StateAcknowledged,
		"RTN":          models.StateCleared,
		"NORMAL":       models.StateCleared,
		"SHELVED":      models.StateSuppressed,
		"COMING":       models.StateActive,
	} {
		st, ok := MapStateToken(token)
		require.True(t, ok, fmt.Sprintf("token %s", token))
		assert.Equal(t, want, st)
	}
	_, ok := MapStateToken("GIBBERISH")
	assert.False(t, ok)
}
