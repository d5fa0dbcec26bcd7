package correlate

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"scadaflow/pkg/models"
)

// Rule evaluation modes. Ordered rules require the matched entries of
// successive steps to appear in non-decreasing timestamp order; count
// rules only require each step's repeat count inside the window.
const (
	ModeOrdered = "ordered"
	ModeCount   = "count"
)

// Dispatcher action names a rule may request.
const (
	ActionNotify         = "notify"
	ActionForwardSIEM    = "forward_to_siem"
	ActionCreateIncident = "create_incident"
	ActionEscalate       = "escalate"
)

var knownActions = map[string]bool{
	ActionNotify:         true,
	ActionForwardSIEM:    true,
	ActionCreateIncident: true,
	ActionEscalate:       true,
}

// Step is one condition of a correlation rule. Empty filters match
// everything; Count is the minimum number of buffer entries that must
// satisfy the step inside the rule window.
type Step struct {
	System      models.SourceSystem `yaml:"system,omitempty"`
	Pattern     string              `yaml:"pattern,omitempty"`
	MinSeverity string              `yaml:"min_severity,omitempty"`
	AlarmTypes  []models.AlarmType  `yaml:"alarm_types,omitempty"`
	SecurityTag string              `yaml:"security_tag,omitempty"`
	Count       int                 `yaml:"count,omitempty"`

	pattern        *regexp.Regexp
	minSeverity    models.Severity
	hasMinSeverity bool
}

// Matches reports whether the entry satisfies every filter of the step.
func (s *Step) Matches(e *models.LogEntry) bool {
	if s.System != "" && e.System != s.System {
		return false
	}
	if s.hasMinSeverity && s.minSeverity.MoreSevereThan(e.Severity) {
		return false
	}
	if len(s.AlarmTypes) > 0 {
		found := false
		for _, t := range s.AlarmTypes {
			if e.AlarmType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.pattern != nil && !s.pattern.MatchString(e.Message) && !s.pattern.MatchString(e.TagName) {
		return false
	}
	if s.SecurityTag != "" {
		found := false
		for _, tag := range e.SecurityTags {
			if tag == s.SecurityTag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Rule is one correlation rule as loaded from the rules file.
type Rule struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Mode          string   `yaml:"mode"`
	Steps         []Step   `yaml:"steps"`
	WindowSeconds int      `yaml:"window_seconds"`
	Actions       []string `yaml:"actions"`
	Enabled       bool     `yaml:"enabled"`
	AutoEscalate  bool     `yaml:"auto_escalate"`
}

// ValidationError reports an invalid rule definition. These are fatal at
// startup: a broken rule must never be silently skipped into production.
type ValidationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %q: %s: %s", e.RuleID, e.Field, e.Reason)
}

// Validate checks the rule and compiles its step filters in place.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "rule id is required"}
	}
	if r.Mode == "" {
		r.Mode = ModeCount
	}
	if r.Mode != ModeOrdered && r.Mode != ModeCount {
		return &ValidationError{RuleID: r.ID, Field: "mode", Reason: "must be ordered or count"}
	}
	if len(r.Steps) == 0 {
		return &ValidationError{RuleID: r.ID, Field: "steps", Reason: "at least one step is required"}
	}
	if r.WindowSeconds <= 0 {
		return &ValidationError{RuleID: r.ID, Field: "window_seconds", Reason: "must be positive"}
	}
	for _, action := range r.Actions {
		if !knownActions[action] {
			return &ValidationError{RuleID: r.ID, Field: "actions", Reason: fmt.Sprintf("unknown action %q", action)}
		}
	}
	for i := range r.Steps {
		step := &r.Steps[i]
		if step.Count <= 0 {
			step.Count = 1
		}
		if step.Pattern != "" {
			re, err := regexp.Compile(step.Pattern)
			if err != nil {
				return &ValidationError{RuleID: r.ID, Field: fmt.Sprintf("steps[%d].pattern", i), Reason: err.Error()}
			}
			step.pattern = re
		}
		if step.MinSeverity != "" {
			sev, err := models.ParseSeverity(step.MinSeverity)
			if err != nil {
				return &ValidationError{RuleID: r.ID, Field: fmt.Sprintf("steps[%d].min_severity", i), Reason: err.Error()}
			}
			step.minSeverity = sev
			step.hasMinSeverity = true
		}
	}
	return nil
}

// Window returns the rule's correlation window.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and validates a YAML rules file. Any invalid rule
// fails the whole load; startup aborts before traffic is accepted.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(rf.Rules))
	for i := range rf.Rules {
		if err := rf.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
		if seen[rf.Rules[i].ID] {
			return nil, fmt.Errorf("rules file %s: duplicate rule id %q", path, rf.Rules[i].ID)
		}
		seen[rf.Rules[i].ID] = true
	}
	return rf.Rules, nil
}
