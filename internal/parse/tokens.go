package parse

import (
	"strings"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// TokenMapping is the canonical classification for a vendor alarm token.
type TokenMapping struct {
	Type     models.AlarmType
	Severity models.Severity
}

// alarmTokens translates vendor alarm tokens across all grammars. The
// table is append-only; new vendor tokens land here, not in the parsers.
var alarmTokens = map[string]TokenMapping{
	// DeltaV
	"HI_HI_ALM": {models.AlarmHighHigh, models.SeverityCritical},
	"HI_ALM":    {models.AlarmHigh, models.SeverityError},
	"LO_ALM":    {models.AlarmLow, models.SeverityError},
	"LO_LO_ALM": {models.AlarmLowLow, models.SeverityCritical},
	"DEV_ALM":   {models.AlarmDeviation, models.SeverityWarning},
	"ROC_ALM":   {models.AlarmRate, models.SeverityWarning},
	"BAD_PV":    {models.AlarmBadQuality, models.SeverityWarning},
	"COMM_ALM":  {models.AlarmCommFail, models.SeverityError},
	"SIS_TRIP":  {models.AlarmSafety, models.SeverityCritical},
	"BATCH_ALM": {models.AlarmBatch, models.SeverityNotice},

	// Honeywell Experion
	"PVHIHI":   {models.AlarmHighHigh, models.SeverityCritical},
	"PVHIGH":   {models.AlarmHigh, models.SeverityError},
	"PVLOW":    {models.AlarmLow, models.SeverityError},
	"PVLOLO":   {models.AlarmLowLow, models.SeverityCritical},
	"DEVHI":    {models.AlarmDeviation, models.SeverityWarning},
	"DEVLO":    {models.AlarmDeviation, models.SeverityWarning},
	"ROC":      {models.AlarmRate, models.SeverityWarning},
	"BADPV":    {models.AlarmBadQuality, models.SeverityWarning},
	"COMMFAIL": {models.AlarmCommFail, models.SeverityError},
	"SAFEOP":   {models.AlarmSafety, models.SeverityCritical},

	// Siemens PCS7 signal classes
	"HH": {models.AlarmHighHigh, models.SeverityCritical},
	"H":  {models.AlarmHigh, models.SeverityError},
	"L":  {models.AlarmLow, models.SeverityError},
	"LL": {models.AlarmLowLow, models.SeverityCritical},

	// Rockwell FactoryTalk
	"HIHI": {models.AlarmHighHigh, models.SeverityCritical},
	"LOLO": {models.AlarmLowLow, models.SeverityCritical},

	// Yokogawa CentumVP
	"HI":   {models.AlarmHigh, models.SeverityError},
	"LO":   {models.AlarmLow, models.SeverityError},
	"IOP":  {models.AlarmBadQuality, models.SeverityWarning},
	"IOP-": {models.AlarmBadQuality, models.SeverityWarning},
	"VEL+": {models.AlarmRate, models.SeverityWarning},
	"VEL-": {models.AlarmRate, models.SeverityWarning},
	"DV+":  {models.AlarmDeviation, models.SeverityWarning},
	"DV-":  {models.AlarmDeviation, models.SeverityWarning},

	// Shared spellings
	"HIGH":      {models.AlarmHigh, models.SeverityError},
	"HIGH_HIGH": {models.AlarmHighHigh, models.SeverityCritical},
	"LOW":       {models.AlarmLow, models.SeverityError},
	"LOW_LOW":   {models.AlarmLowLow, models.SeverityCritical},
	"DEVIATION": {models.AlarmDeviation, models.SeverityWarning},
	"RATE":      {models.AlarmRate, models.SeverityWarning},
	"BAD":       {models.AlarmBadQuality, models.SeverityWarning},
	"COMM":      {models.AlarmCommFail, models.SeverityError},
	"SAFETY":    {models.AlarmSafety, models.SeverityCritical},
	"ESD":       {models.AlarmSafety, models.SeverityCritical},
	"TRIP":      {models.AlarmSafety, models.SeverityCritical},
	"BATCH":     {models.AlarmBatch, models.SeverityNotice},
}

// extraUnmappedToken marks entries whose alarm token hit the lossy
// fallback; the pipeline counts these.
const extraUnmappedToken = "unmapped_token"

// UnmappedToken reports whether the entry's alarm token hit the lossy
// HIGH fallback.
func UnmappedToken(e *models.LogEntry) bool {
	_, ok := e.Extra[extraUnmappedToken]
	return ok
}

// MapAlarmToken classifies a vendor alarm token. Unknown tokens fall
// back to HIGH: a deliberately lossy mapping, surfaced to the caller so
// it is counted instead of silently wrong.
func MapAlarmToken(system models.SourceSystem, token string) (TokenMapping, bool) {
	key := strings.ToUpper(strings.TrimSpace(token))
	if m, ok := alarmTokens[key]; ok {
		return m, true
	}
	logger.Warnf("Unknown alarm token %q from %s, defaulting to HIGH", token, system)
	return TokenMapping{Type: models.AlarmHigh, Severity: models.SeverityError}, false
}

var stateTokens = map[string]models.AlarmState{
	"ACT":        models.StateActive,
	"ACTIVE":     models.StateActive,
	"ALM":        models.StateActive,
	"COMING":     models.StateActive,
	"IN":         models.StateActive,
	"ACK":        models.StateAcknowledged,
	"ACKED":      models.StateAcknowledged,
	"ACKNOWLEDG": models.StateAcknowledged,
	"RTN":        models.StateCleared,
	"CLR":        models.StateCleared,
	"CLEARED":    models.StateCleared,
	"GOING":      models.StateCleared,
	"NORMAL":     models.StateCleared,
	"OK":         models.StateCleared,
	"INACTIVE":   models.StateCleared,
	"SUP":        models.StateSuppressed,
	"SUPPRESSED": models.StateSuppressed,
	"SHELVED":    models.StateSuppressed,
}

// MapStateToken translates a vendor lifecycle token.
func MapStateToken(token string) (models.AlarmState, bool) {
	key := strings.ToUpper(strings.TrimSpace(token))
	if len(key) > 10 {
		key = key[:10]
	}
	st, ok := stateTokens[key]
	return st, ok
}

// CategoryForAlarm picks the entry category implied by the alarm type.
func CategoryForAlarm(t models.AlarmType) models.Category {
	switch t {
	case models.AlarmSafety:
		return models.CategorySafety
	case models.AlarmCommFail:
		return models.CategoryCommunication
	case models.AlarmBatch:
		return models.CategoryBatch
	case models.AlarmBadQuality:
		return models.CategoryMaintenance
	default:
		return models.CategoryProcessControl
	}
}

// SeverityForPriority tightens severity from the vendor alarm priority
// (1 highest .. 4 lowest) when the priority outranks the token default.
func SeverityForPriority(priority int, fallback models.Severity) models.Severity {
	var s models.Severity
	switch priority {
	case 1:
		s = models.SeverityCritical
	case 2:
		s = models.SeverityError
	case 3:
		s = models.SeverityWarning
	case 4:
		s = models.SeverityNotice
	default:
		return fallback
	}
	if s.MoreSevereThan(fallback) {
		return s
	}
	return fallback
}
