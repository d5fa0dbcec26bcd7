package parse

import (
	"strconv"
	"strings"

	"scadaflow/pkg/models"
)

// CentumParser reads Yokogawa CENTUM VP message-printer lines:
//
//	01/15/2025 14:31:15 STN01 REACTOR01/TIC001 HI ALM 85.5 DEG_C PR=2 OPR=OP1 Reactor temperature high
//
// The alarm token uses the CENTUM condition set (HI, HH, LO, LL, IOP,
// VEL+, DV+, ...) followed by a lifecycle word (ALM, ACK, RTN).
type CentumParser struct{}

// NewCentumParser creates the CENTUM VP grammar.
func NewCentumParser() *CentumParser { return &CentumParser{} }

// System implements Parser.
func (p *CentumParser) System() models.SourceSystem { return models.SystemCentumVP }

// Parse implements Parser.
func (p *CentumParser) Parse(raw string) (*models.LogEntry, error) {
	fields := strings.Fields(raw)
	if len(fields) < 6 {
		return nil, parseErr(models.SystemCentumVP, "expected at least date, time, station, tag, condition and state")
	}

	ts, err := parseTimestamp(models.SystemCentumVP, fields[0]+" "+fields[1],
		"01/02/2006 15:04:05.000",
		"01/02/2006 15:04:05",
	)
	if err != nil {
		return nil, err
	}

	mapping, known := MapAlarmToken(models.SystemCentumVP, fields[4])
	e := &models.LogEntry{
		Timestamp:  ts,
		SourceNode: fields[2],
		TagName:    fields[3],
		AlarmType:  mapping.Type,
		Severity:   mapping.Severity,
	}
	if !known {
		e.Extra = map[string]string{extraUnmappedToken: fields[4]}
	}
	st, ok := MapStateToken(fields[5])
	if !ok {
		return nil, parseErr(models.SystemCentumVP, "unrecognized lifecycle word "+strconv.Quote(fields[5]))
	}
	e.AlarmState = st

	i := 6
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
		key, val, cut := strings.Cut(fields[i], "=")
		if !cut {
			messageWords = append(messageWords, fields[i])
			continue
		}
		switch strings.ToUpper(key) {
		case "PR":
			if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= 4 {
				e.AlarmPriority = n
			}
		case "OPR":
			e.OperatorID = val
		case "SV":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				e.Setpoint = &f
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
	return finalize(e, models.SystemCentumVP, raw), nil
}
