package parse

import (
	"encoding/xml"
	"strconv"
	"strings"

	"scadaflow/pkg/models"
)

// PCS7Parser reads Siemens PCS 7 / WinCC alarm export records, one XML
// document per line:
//
//	<AlarmMessage><TimeStamp>2025-01-15T14:31:15.456Z</TimeStamp>
//	<Source>REACTOR01/TIC001</Source><SignalClass>HH</SignalClass>
//	<State>COMING</State><Value>85.5</Value><Unit>DEG_C</Unit>
//	<Priority>2</Priority><User>OP1</User><Text>...</Text></AlarmMessage>
type PCS7Parser struct{}

// NewPCS7Parser creates the PCS 7 grammar.
func NewPCS7Parser() *PCS7Parser { return &PCS7Parser{} }

// System implements Parser.
func (p *PCS7Parser) System() models.SourceSystem { return models.SystemPCS7 }

type pcs7Message struct {
	XMLName     xml.Name `xml:"AlarmMessage"`
	TimeStamp   string   `xml:"TimeStamp"`
	Source      string   `xml:"Source"`
	SignalClass string   `xml:"SignalClass"`
	State       string   `xml:"State"`
	Value       string   `xml:"Value"`
	Unit        string   `xml:"Unit"`
	Quality     string   `xml:"Quality"`
	Setpoint    string   `xml:"Setpoint"`
	Priority    string   `xml:"Priority"`
	User        string   `xml:"User"`
	Text        string   `xml:"Text"`
}

// Parse implements Parser.
func (p *PCS7Parser) Parse(raw string) (*models.LogEntry, error) {
	var msg pcs7Message
	if err := xml.Unmarshal([]byte(strings.TrimSpace(raw)), &msg); err != nil {
		return nil, parseErrWrap(models.SystemPCS7, "invalid alarm XML", err)
	}

	ts, err := parseTimestamp(models.SystemPCS7, msg.TimeStamp,
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.000",
	)
	if err != nil {
		return nil, err
	}
	if msg.Source == "" {
		return nil, parseErr(models.SystemPCS7, "missing Source element")
	}

	e := &models.LogEntry{
		Timestamp:  ts,
		TagName:    msg.Source,
		Message:    strings.TrimSpace(msg.Text),
		TagQuality: strings.TrimSpace(msg.Quality),
	}

	if msg.SignalClass != "" {
		mapping, known := MapAlarmToken(models.SystemPCS7, msg.SignalClass)
		e.AlarmType = mapping.Type
		e.Severity = mapping.Severity
		if !known {
			e.Extra = map[string]string{extraUnmappedToken: msg.SignalClass}
		}
	} else {
		e.Severity = models.SeverityInfo
	}
	if st, ok := MapStateToken(msg.State); ok {
		e.AlarmState = st
	}
	if msg.Value != "" {
		e.TagValue = parseTagValue(msg.Value)
		e.EngUnits = strings.TrimSpace(msg.Unit)
	}
	if msg.Setpoint != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(msg.Setpoint), 64); err == nil {
			e.Setpoint = &f
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(msg.Priority)); err == nil && n >= 1 && n <= 4 {
		e.AlarmPriority = n
		e.Severity = SeverityForPriority(n, e.Severity)
	}
	e.OperatorID = strings.TrimSpace(msg.User)
	if e.AlarmState == models.StateAcknowledged && e.AckAt == nil {
		e.AckAt = &ts
	}
	return finalize(e, models.SystemPCS7, raw), nil
}
