package parse

import (
	"regexp"
	"strconv"
	"strings"

	"scadaflow/pkg/models"
)

// FactoryTalkParser reads Rockwell FactoryTalk alarm-log lines:
//
//	[2025-01-15 14:31:15.456] [HIHI] [ACTIVE] Area:REACTOR01 Tag:TIC_001 Value:85.5 Units:DEG_C Pri:2 Op:OPERATOR1 Msg:High high temperature
//
// Bracketed header (timestamp, condition, optional state) followed by
// colon-separated attributes; Msg: consumes the rest of the line.
type FactoryTalkParser struct{}

// NewFactoryTalkParser creates the FactoryTalk grammar.
func NewFactoryTalkParser() *FactoryTalkParser { return &FactoryTalkParser{} }

// System implements Parser.
func (p *FactoryTalkParser) System() models.SourceSystem { return models.SystemFactoryTalk }

var ftHeaderRegex = regexp.MustCompile(`^\[([^\]]+)\]\s+\[([^\]]+)\](?:\s+\[([^\]]+)\])?\s*(.*)$`)

// Parse implements Parser.
func (p *FactoryTalkParser) Parse(raw string) (*models.LogEntry, error) {
	m := ftHeaderRegex.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil, parseErr(models.SystemFactoryTalk, "missing bracketed header")
	}

	ts, err := parseTimestamp(models.SystemFactoryTalk, m[1],
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	)
	if err != nil {
		return nil, err
	}

	mapping, known := MapAlarmToken(models.SystemFactoryTalk, m[2])
	e := &models.LogEntry{
		Timestamp: ts,
		AlarmType: mapping.Type,
		Severity:  mapping.Severity,
	}
	if !known {
		e.Extra = map[string]string{extraUnmappedToken: m[2]}
	}
	if m[3] != "" {
		if st, ok := MapStateToken(m[3]); ok {
			e.AlarmState = st
		}
	}

	rest := m[4]
	area, tag := "", ""
	for rest != "" {
		var field string
		field, rest = nextField(rest)
		key, val, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "area":
			area = val
		case "tag":
			tag = val
		case "value":
			e.TagValue = parseTagValue(val)
		case "units":
			e.EngUnits = val
		case "sp":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				e.Setpoint = &f
			}
		case "qual":
			e.TagQuality = val
		case "pri":
			if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= 4 {
				e.AlarmPriority = n
			}
		case "op":
			e.OperatorID = val
		case "msg":
			// Msg consumes everything that remains.
			e.Message = strings.TrimSpace(val + " " + rest)
			rest = ""
		}
	}

	if tag == "" {
		return nil, parseErr(models.SystemFactoryTalk, "missing Tag attribute")
	}
	if area != "" {
		e.TagName = area + "/" + tag
	} else {
		e.TagName = tag
	}

	e.Severity = SeverityForPriority(e.AlarmPriority, e.Severity)
	if e.AlarmState == models.StateAcknowledged && e.AckAt == nil {
		e.AckAt = &ts
	}
	return finalize(e, models.SystemFactoryTalk, raw), nil
}

func nextField(s string) (field, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}
