package parse

import (
	"strconv"
	"strings"
	"time"

	"scadaflow/pkg/models"
)

// DeltaVParser reads Emerson DeltaV event-journal lines:
//
//	15-JAN-25 14:31:15.456 REACTOR01/TIC_001/PV.CV HI_ALM 85.5 DEG_C PRIO=3 USER=OPERATOR1
//
// An optional lifecycle token (ACK, RTN, SUP) follows the alarm token, and
// trailing KEY=VALUE pairs carry priority, operator, setpoint, quality and
// acknowledgement time.
type DeltaVParser struct{}

// NewDeltaVParser creates the DeltaV grammar.
func NewDeltaVParser() *DeltaVParser { return &DeltaVParser{} }

// System implements Parser.
func (p *DeltaVParser) System() models.SourceSystem { return models.SystemDeltaV }

// Parse implements Parser.
func (p *DeltaVParser) Parse(raw string) (*models.LogEntry, error) {
	fields := strings.Fields(raw)
	if len(fields) < 4 {
		return nil, parseErr(models.SystemDeltaV, "expected at least date, time, tag and token")
	}

	ts, err := parseTimestamp(models.SystemDeltaV, fixMonthCase(fields[0]+" "+fields[1]),
		"02-Jan-06 15:04:05.000",
		"02-Jan-06 15:04:05",
	)
	if err != nil {
		return nil, err
	}

	tag := fields[2]
	mapping, known := MapAlarmToken(models.SystemDeltaV, fields[3])

	e := &models.LogEntry{
		Timestamp: ts,
		TagName:   tag,
		AlarmType: mapping.Type,
		Severity:  mapping.Severity,
	}
	if !known {
		e.Extra = map[string]string{extraUnmappedToken: fields[3]}
	}

	i := 4
	if i < len(fields) {
		if st, ok := MapStateToken(fields[i]); ok {
			e.AlarmState = st
			i++
		}
	}
	if i < len(fields) {
		if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
			e.TagValue = models.NumericTagValue(v)
			i++
			if i < len(fields) && !strings.Contains(fields[i], "=") {
				e.EngUnits = fields[i]
				i++
			}
		}
	}

	var messageWords []string
	for ; i < len(fields); i++ {
		key, val, ok := strings.Cut(fields[i], "=")
		if !ok {
			messageWords = append(messageWords, fields[i])
			continue
		}
		switch strings.ToUpper(key) {
		case "PRIO", "PRI":
			if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= 4 {
				e.AlarmPriority = n
			}
		case "USER":
			e.OperatorID = val
		case "SP":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				e.Setpoint = &f
			}
		case "QUAL":
			e.TagQuality = val
		case "ACK":
			if at, err := time.ParseInLocation("15:04:05.000", val, time.UTC); err == nil {
				ackAt := time.Date(ts.Year(), ts.Month(), ts.Day(),
					at.Hour(), at.Minute(), at.Second(), at.Nanosecond(), time.UTC)
				e.AckAt = &ackAt
			}
		default:
			messageWords = append(messageWords, fields[i])
		}
	}
	if len(messageWords) > 0 {
		e.Message = strings.Join(messageWords, " ")
	}

	e.Severity = SeverityForPriority(e.AlarmPriority, e.Severity)
	if e.AlarmState == models.StateAcknowledged && e.AckAt == nil {
		e.AckAt = &ts
	}
	return finalize(e, models.SystemDeltaV, raw), nil
}
