package models

import "time"

// AlarmKey identifies one alarm lifecycle: a tag and the alarm type raised on it.
type AlarmKey struct {
	Tag  string    `json:"tag"`
	Type AlarmType `json:"type"`
}

// ProcessAlarm tracks the lifecycle of one raised alarm. At most one live
// (non-Cleared) ProcessAlarm exists per key at any time.
type ProcessAlarm struct {
	Key             AlarmKey   `json:"key"`
	Priority        int        `json:"priority"`
	CurrentValue    TagValue   `json:"current_value,omitempty"`
	AlarmLimit      *float64   `json:"alarm_limit,omitempty"`
	ProcessArea     string     `json:"process_area,omitempty"`
	ControlModule   string     `json:"control_module,omitempty"`
	State           AlarmState `json:"state"`
	RaisedAt        time.Time  `json:"raised_at"`
	AckAt           *time.Time `json:"ack_at,omitempty"`
	AckBy           string     `json:"ack_by,omitempty"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// Live reports whether the alarm still occupies its key.
func (a *ProcessAlarm) Live() bool {
	return a != nil && a.State != StateCleared
}
