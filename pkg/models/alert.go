package models

import "time"

// AlertEvent is a compound incident surfaced by the correlation engine.
// Severity is the maximum severity across the matched entries. ActionsTaken
// records only the dispatcher actions that actually succeeded.
type AlertEvent struct {
	AlertID      string    `json:"alert_id"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name,omitempty"`
	EntryIDs     []string  `json:"entry_ids"`
	Timestamp    time.Time `json:"@timestamp"`
	Severity     Severity  `json:"severity"`
	ActionsTaken []string  `json:"actions_taken,omitempty"`

	// Actions is the rule's requested action list; the dispatcher moves
	// the ones that succeed into ActionsTaken.
	Actions []string    `json:"-"`
	Entries []*LogEntry `json:"-"`
}

// Critical reports whether the alert reached critical severity or worse.
func (a *AlertEvent) Critical() bool {
	return a != nil && !SeverityCritical.MoreSevereThan(a.Severity)
}
