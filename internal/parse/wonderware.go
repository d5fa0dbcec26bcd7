package parse

import (
	"strconv"
	"strings"

	"scadaflow/pkg/models"
)

// WonderwareParser reads AVEVA/Wonderware alarm-DB CSV rows:
//
//	2025/01/15 14:31:15.456,NODE1,REACTOR01.TIC001,LoLo,Active,2,85.5,DEG_C,OPERATOR1,Reactor level low low
//
// Columns: timestamp, node, tag, condition, state, priority, value, units,
// operator, comment. Trailing columns may be empty but must be present.
type WonderwareParser struct{}

// NewWonderwareParser creates the Wonderware grammar.
func NewWonderwareParser() *WonderwareParser { return &WonderwareParser{} }

// System implements Parser.
func (p *WonderwareParser) System() models.SourceSystem { return models.SystemWonderware }

// Parse implements Parser.
func (p *WonderwareParser) Parse(raw string) (*models.LogEntry, error) {
	cols := strings.SplitN(strings.TrimSpace(raw), ",", 10)
	if len(cols) < 10 {
		return nil, parseErr(models.SystemWonderware, "expected 10 comma-separated columns")
	}

	ts, err := parseTimestamp(models.SystemWonderware, cols[0],
		"2006/01/02 15:04:05.000",
		"2006/01/02 15:04:05",
	)
	if err != nil {
		return nil, err
	}

	mapping, known := MapAlarmToken(models.SystemWonderware, cols[3])
	e := &models.LogEntry{
		Timestamp:  ts,
		SourceNode: strings.TrimSpace(cols[1]),
		TagName:    strings.ReplaceAll(strings.TrimSpace(cols[2]), ".", "/"),
		AlarmType:  mapping.Type,
		Severity:   mapping.Severity,
		OperatorID: strings.TrimSpace(cols[8]),
		Message:    strings.TrimSpace(cols[9]),
	}
	if !known {
		e.Extra = map[string]string{extraUnmappedToken: cols[3]}
	}
	if st, ok := MapStateToken(cols[4]); ok {
		e.AlarmState = st
	}
	if n, err := strconv.Atoi(strings.TrimSpace(cols[5])); err == nil && n >= 1 && n <= 4 {
		e.AlarmPriority = n
		e.Severity = SeverityForPriority(n, e.Severity)
	}
	if v := strings.TrimSpace(cols[6]); v != "" {
		e.TagValue = parseTagValue(v)
	}
	e.EngUnits = strings.TrimSpace(cols[7])
	if e.AlarmState == models.StateAcknowledged && e.AckAt == nil {
		e.AckAt = &ts
	}
	return finalize(e, models.SystemWonderware, raw), nil
}
