package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceSystem identifies the control-system vendor that emitted a log line.
type SourceSystem string

const (
	SystemDeltaV      SourceSystem = "DELTAV"
	SystemExperion    SourceSystem = "EXPERION"
	SystemPCS7        SourceSystem = "PCS7"
	SystemFactoryTalk SourceSystem = "FACTORYTALK"
	SystemWonderware  SourceSystem = "WONDERWARE"
	SystemCentumVP    SourceSystem = "CENTUM_VP"
	SystemABB800xA    SourceSystem = "ABB_800XA"
	SystemIFix        SourceSystem = "IFIX"
	SystemCitect      SourceSystem = "CITECT"
	SystemSyslog      SourceSystem = "SYSLOG"
)

// Severity is an 8-level syslog-style severity. Lower is more severe.
type Severity int

const (
	SeverityEmergency Severity = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
)

var severityNames = []string{
	"emergency", "alert", "critical", "error", "warning", "notice", "info", "debug",
}

// String returns the lowercase severity name.
func (s Severity) String() string {
	if s >= 0 && int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "unknown"
}

// MoreSevereThan reports whether s outranks other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s < other
}

// ParseSeverity resolves a severity name used in rule and config files.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

// Category classifies what part of the plant a log entry concerns.
type Category string

const (
	CategoryProcessControl Category = "process_control"
	CategorySafety         Category = "safety"
	CategorySecurity       Category = "security"
	CategoryMaintenance    Category = "maintenance"
	CategoryOperatorAction Category = "operator_action"
	CategoryBatch          Category = "batch"
	CategoryHistorian      Category = "historian"
	CategoryCommunication  Category = "communication"
	CategorySystemStatus   Category = "system_status"
)

// AlarmType is the canonical process-alarm classification.
type AlarmType string

const (
	AlarmHighHigh   AlarmType = "HIGH_HIGH"
	AlarmHigh       AlarmType = "HIGH"
	AlarmLow        AlarmType = "LOW"
	AlarmLowLow     AlarmType = "LOW_LOW"
	AlarmDeviation  AlarmType = "DEVIATION"
	AlarmRate       AlarmType = "RATE"
	AlarmBadQuality AlarmType = "BAD_QUALITY"
	AlarmCommFail   AlarmType = "COMM_FAIL"
	AlarmSafety     AlarmType = "SAFETY"
	AlarmBatch      AlarmType = "BATCH"
)

// AlarmState is the lifecycle state carried by an alarm-bearing entry.
type AlarmState string

const (
	StateActive       AlarmState = "Active"
	StateAcknowledged AlarmState = "Acknowledged"
	StateCleared      AlarmState = "Cleared"
	StateSuppressed   AlarmState = "Suppressed"
)

// TagValueKind discriminates the TagValue payload.
type TagValueKind int

const (
	TagValueNone TagValueKind = iota
	TagValueNumeric
	TagValueString
	TagValueBool
)

// TagValue is a process-variable reading. One typed slot is populated
// according to Kind.
type TagValue struct {
	Kind TagValueKind `json:"kind"`
	Num  float64      `json:"num,omitempty"`
	Str  string       `json:"str,omitempty"`
	Bool bool         `json:"bool,omitempty"`
}

// NumericTagValue wraps a float reading.
func NumericTagValue(v float64) TagValue {
	return TagValue{Kind: TagValueNumeric, Num: v}
}

// StringTagValue wraps a string reading.
func StringTagValue(v string) TagValue {
	return TagValue{Kind: TagValueString, Str: v}
}

// BoolTagValue wraps a boolean reading.
func BoolTagValue(v bool) TagValue {
	return TagValue{Kind: TagValueBool, Bool: v}
}

// LogEntry is one normalized log or alarm record. Entries are immutable
// once built by the parser bank; downstream components only read them.
type LogEntry struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"@timestamp"`
	System        SourceSystem      `json:"system"`
	SourceNode    string            `json:"source_node,omitempty"`
	ConnectionID  string            `json:"connection_id,omitempty"`
	Severity      Severity          `json:"severity"`
	Category      Category          `json:"category,omitempty"`
	Message       string            `json:"message"`
	ProcessArea   string            `json:"process_area,omitempty"`
	ControlModule string            `json:"control_module,omitempty"`
	TagName       string            `json:"tag_name,omitempty"`
	TagValue      TagValue          `json:"tag_value,omitempty"`
	TagQuality    string            `json:"tag_quality,omitempty"`
	EngUnits      string            `json:"eng_units,omitempty"`
	Setpoint      *float64          `json:"setpoint,omitempty"`
	AlarmType     AlarmType         `json:"alarm_type,omitempty"`
	AlarmPriority int               `json:"alarm_priority,omitempty"`
	AlarmState    AlarmState        `json:"alarm_state,omitempty"`
	OperatorID    string            `json:"operator_id,omitempty"`
	AckAt         *time.Time        `json:"ack_at,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	SecurityTags  []string          `json:"security_tags,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// EntryID derives the entry hash, namespaced by system so identical text
// from two systems cannot collide.
func EntryID(system SourceSystem, raw string) string {
	sum := sha256.Sum256([]byte(string(system) + "\n" + raw))
	return hex.EncodeToString(sum[:])
}

// AlarmBearing reports whether the entry carries alarm lifecycle data.
func (e *LogEntry) AlarmBearing() bool {
	return e != nil && e.AlarmType != ""
}
