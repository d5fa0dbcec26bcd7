package parse

import (
	"strconv"
	"strings"

	"scadaflow/pkg/models"
)

// ExperionParser reads Honeywell Experion pipe-delimited event exports:
//
//	2025-01-15 14:31:15.456|EXPSVR01|REACTOR01.TIC001.PV|PVHIGH|ACTIVE|U|85.5 DEG_C|High PV alarm|OP1
//
// Columns: timestamp, server node, tag, condition, state, priority letter
// (U/H/L/J), value with units, description, optional operator.
type ExperionParser struct{}

// NewExperionParser creates the Experion grammar.
func NewExperionParser() *ExperionParser { return &ExperionParser{} }

// System implements Parser.
func (p *ExperionParser) System() models.SourceSystem { return models.SystemExperion }

var experionPriorities = map[string]int{
	"U": 1, // urgent
	"H": 2,
	"L": 3,
	"J": 4, // journal
}

// Parse implements Parser.
func (p *ExperionParser) Parse(raw string) (*models.LogEntry, error) {
	cols := strings.Split(raw, "|")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	if len(cols) < 6 {
		return nil, parseErr(models.SystemExperion, "expected at least 6 pipe-delimited columns")
	}

	ts, err := parseTimestamp(models.SystemExperion, cols[0],
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	)
	if err != nil {
		return nil, err
	}

	mapping, known := MapAlarmToken(models.SystemExperion, cols[3])
	e := &models.LogEntry{
		Timestamp:  ts,
		SourceNode: cols[1],
		TagName:    strings.ReplaceAll(cols[2], ".", "/"),
		AlarmType:  mapping.Type,
		Severity:   mapping.Severity,
	}
	if !known {
		e.Extra = map[string]string{extraUnmappedToken: cols[3]}
	}

	if st, ok := MapStateToken(cols[4]); ok {
		e.AlarmState = st
	}
	if prio, ok := experionPriorities[strings.ToUpper(cols[5])]; ok {
		e.AlarmPriority = prio
		e.Severity = SeverityForPriority(prio, e.Severity)
	}

	if len(cols) > 6 && cols[6] != "" {
		value, units, _ := strings.Cut(cols[6], " ")
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			e.TagValue = models.NumericTagValue(f)
			e.EngUnits = strings.TrimSpace(units)
		} else {
			e.TagValue = parseTagValue(cols[6])
		}
	}
	if len(cols) > 7 {
		e.Message = cols[7]
	}
	if len(cols) > 8 {
		e.OperatorID = cols[8]
	}
	if e.AlarmState == models.StateAcknowledged && e.AckAt == nil {
		e.AckAt = &ts
	}
	return finalize(e, models.SystemExperion, raw), nil
}
