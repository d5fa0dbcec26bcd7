package parse

import (
	"strconv"
	"strings"
	"time"

	"scadaflow/pkg/models"
)

// SyslogParser reads RFC3164-style lines as forwarded by the syslog
// gateways of several platforms (ABB 800xA, GE iFix, Citect and plain
// syslog devices):
//
//	<131>Jan 15 14:31:15 abbnode1 alarmlog[220]: TAG=REACTOR01/TIC001 COND=HIGH STATE=ACTIVE VAL=85.5 UNITS=DEG_C PRIO=2 USER=OP1 temp high
//
// The PRI field carries the syslog severity; an RFC5424/RFC3339
// timestamp is also accepted. KEY=VALUE pairs in the content are
// structured attributes, everything else is the free-form message.
type SyslogParser struct {
	system models.SourceSystem
	now    func() time.Time
}

// NewSyslogParser creates the syslog grammar bound to a system tag.
func NewSyslogParser(system models.SourceSystem) *SyslogParser {
	return &SyslogParser{system: system, now: time.Now}
}

// System implements Parser.
func (p *SyslogParser) System() models.SourceSystem { return p.system }

// Parse implements Parser.
func (p *SyslogParser) Parse(raw string) (*models.LogEntry, error) {
	line := strings.TrimSpace(raw)
	e := &models.LogEntry{Severity: models.SeverityInfo}

	if strings.HasPrefix(line, "<") {
		end := strings.IndexByte(line, '>')
		if end < 2 {
			return nil, parseErr(p.system, "malformed PRI field")
		}
		pri, err := strconv.Atoi(line[1:end])
		if err != nil || pri < 0 || pri > 191 {
			return nil, parseErr(p.system, "malformed PRI field")
		}
		e.Severity = models.Severity(pri % 8)
		line = line[end+1:]
	}

	rest, ts, err := p.readTimestamp(line)
	if err != nil {
		return nil, err
	}
	e.Timestamp = ts

	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil, parseErr(p.system, "missing hostname and content")
	}
	e.SourceNode = fields[0]

	content := strings.Join(fields[1:], " ")
	if i := strings.Index(content, ": "); i >= 0 {
		// Drop the "app[pid]:" prefix.
		if !strings.Contains(content[:i], " ") {
			content = content[i+2:]
		}
	}

	var messageWords []string
	for _, word := range strings.Fields(content) {
		key, val, ok := strings.Cut(word, "=")
		if !ok {
			messageWords = append(messageWords, word)
			continue
		}
		switch strings.ToUpper(key) {
		case "TAG":
			e.TagName = val
		case "COND":
			mapping, known := MapAlarmToken(p.system, val)
			e.AlarmType = mapping.Type
			if mapping.Severity.MoreSevereThan(e.Severity) {
				e.Severity = mapping.Severity
			}
			if !known {
				if e.Extra == nil {
					e.Extra = make(map[string]string)
				}
				e.Extra[extraUnmappedToken] = val
			}
		case "STATE":
			if st, ok := MapStateToken(val); ok {
				e.AlarmState = st
			}
		case "VAL":
			e.TagValue = parseTagValue(val)
		case "UNITS":
			e.EngUnits = val
		case "SP":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				e.Setpoint = &f
			}
		case "QUAL":
			e.TagQuality = val
		case "PRIO":
			if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= 4 {
				e.AlarmPriority = n
			}
		case "USER":
			e.OperatorID = val
		default:
			messageWords = append(messageWords, word)
		}
	}
	if len(messageWords) > 0 {
		e.Message = strings.Join(messageWords, " ")
	}
	if e.AlarmState == models.StateAcknowledged && e.AckAt == nil {
		e.AckAt = &e.Timestamp
	}
	return finalize(e, p.system, raw), nil
}

// readTimestamp consumes either an RFC3339 timestamp or the classic
// "Jan  2 15:04:05" stamp, which carries no year. The current year is
// assumed unless that lands the stamp more than a day in the future, as
// happens to December lines read in January; those get the prior year.
func (p *SyslogParser) readTimestamp(line string) (string, time.Time, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", time.Time{}, parseErr(p.system, "missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[0]); err == nil {
		return strings.Join(fields[1:], " "), t.UTC(), nil
	}
	if len(fields) < 3 {
		return "", time.Time{}, parseErr(p.system, "missing timestamp")
	}
	stamp := strings.Join(fields[:3], " ")
	t, err := time.ParseInLocation(time.Stamp, stamp, time.UTC)
	if err != nil {
		return "", time.Time{}, parseErr(p.system, "unrecognized timestamp "+strconv.Quote(stamp))
	}
	now := p.now().UTC()
	t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if t.Sub(now) > 24*time.Hour {
		t = t.AddDate(-1, 0, 0)
	}
	return strings.Join(fields[3:], " "), t, nil
}
