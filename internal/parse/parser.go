package parse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"scadaflow/pkg/models"
)

// Parser converts one raw vendor line into a normalized LogEntry.
// Implementations are pure: no I/O and no shared mutable state.
type Parser interface {
	// System returns the vendor this grammar belongs to.
	System() models.SourceSystem
	// Parse fails with *ParseError when raw does not match the grammar.
	Parse(raw string) (*models.LogEntry, error)
}

// ParseError reports a line the declared grammar could not read. Callers
// log and drop; a malformed line never aborts ingestion.
type ParseError struct {
	System models.SourceSystem
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.System, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.System, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(system models.SourceSystem, reason string) error {
	return &ParseError{System: system, Reason: reason}
}

func parseErrWrap(system models.SourceSystem, reason string, err error) error {
	return &ParseError{System: system, Reason: reason, Err: err}
}

// Registry selects the grammar declared for a source system.
type Registry struct {
	parsers map[models.SourceSystem]Parser
}

// NewRegistry builds the default parser bank. ABB 800xA, GE iFix and
// Citect feeds arrive through their syslog forwarders, so those systems
// share the syslog grammar.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[models.SourceSystem]Parser)}
	r.Register(NewDeltaVParser())
	r.Register(NewExperionParser())
	r.Register(NewPCS7Parser())
	r.Register(NewFactoryTalkParser())
	r.Register(NewWonderwareParser())
	r.Register(NewCentumParser())
	r.Register(NewSyslogParser(models.SystemSyslog))
	r.Register(NewSyslogParser(models.SystemABB800xA))
	r.Register(NewSyslogParser(models.SystemIFix))
	r.Register(NewSyslogParser(models.SystemCitect))
	return r
}

// Register adds or replaces the grammar for the parser's system.
func (r *Registry) Register(p Parser) {
	r.parsers[p.System()] = p
}

// Parse dispatches raw to the grammar declared for system.
func (r *Registry) Parse(system models.SourceSystem, raw string) (*models.LogEntry, error) {
	p, ok := r.parsers[system]
	if !ok {
		return nil, parseErr(system, "no grammar registered for system")
	}
	return p.Parse(raw)
}

// Systems lists the registered systems in stable order.
func (r *Registry) Systems() []models.SourceSystem {
	out := make([]models.SourceSystem, 0, len(r.parsers))
	for s := range r.parsers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// finalize stamps the fields every grammar fills the same way.
func finalize(e *models.LogEntry, system models.SourceSystem, raw string) *models.LogEntry {
	e.System = system
	e.ID = models.EntryID(system, raw)
	if e.Message == "" {
		e.Message = strings.TrimSpace(raw)
	}
	if e.AlarmType != "" {
		if e.AlarmState == "" {
			e.AlarmState = models.StateActive
		}
		if e.Category == "" {
			if e.AlarmState == models.StateAcknowledged {
				e.Category = models.CategoryOperatorAction
			} else {
				e.Category = CategoryForAlarm(e.AlarmType)
			}
		}
	} else if e.Category == "" {
		e.Category = models.CategorySystemStatus
	}
	splitTagPath(e)
	return e
}

// splitTagPath derives process area and control module from a
// hierarchical AREA/MODULE/PARAMETER tag path.
func splitTagPath(e *models.LogEntry) {
	if e.TagName == "" || e.ProcessArea != "" {
		return
	}
	parts := strings.Split(e.TagName, "/")
	if len(parts) >= 2 {
		e.ProcessArea = parts[0]
		e.ControlModule = parts[1]
	}
}

// parseTagValue infers the reading type from its raw form.
func parseTagValue(s string) models.TagValue {
	v := strings.TrimSpace(s)
	if v == "" {
		return models.TagValue{}
	}
	switch strings.ToUpper(v) {
	case "ON", "TRUE", "YES":
		return models.BoolTagValue(true)
	case "OFF", "FALSE", "NO":
		return models.BoolTagValue(false)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return models.NumericTagValue(f)
	}
	return models.StringTagValue(v)
}

func parseTimestamp(system models.SourceSystem, value string, layouts ...string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, parseErr(system, "missing timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, parseErr(system, "unrecognized timestamp "+strconv.Quote(value))
}

// fixMonthCase rewrites 15-JAN-25 style dates so the stdlib month names
// match.
func fixMonthCase(s string) string {
	b := []byte(s)
	inAlpha := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		switch {
		case isAlpha && !inAlpha && c >= 'a' && c <= 'z':
			b[i] = c - ('a' - 'A')
		case isAlpha && inAlpha && c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		}
		inAlpha = isAlpha
	}
	return string(b)
}
