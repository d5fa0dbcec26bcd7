package correlate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadaflow/pkg/models"
)

const sampleRules = `
rules:
  - id: esd-precursor
    name: High alarm followed by safety trip
    mode: ordered
    window_seconds: 60
    enabled: true
    actions: [notify, create_incident]
    steps:
      - system: DELTAV
        alarm_types: [HIGH_HIGH]
      - system: DELTAV
        alarm_types: [SAFETY]
  - id: comm-storm
    name: Communication failure burst
    mode: count
    window_seconds: 120
    enabled: true
    actions: [notify, forward_to_siem]
    steps:
      - alarm_types: [COMM_FAIL]
        count: 5
`

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(writeRules(t, sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "esd-precursor", rules[0].ID)
	assert.Equal(t, ModeOrdered, rules[0].Mode)
	assert.Len(t, rules[0].Steps, 2)
	assert.Equal(t, models.SystemDeltaV, rules[0].Steps[0].System)
	assert.Equal(t, 1, rules[0].Steps[0].Count, "count defaults to one")

	assert.Equal(t, 5, rules[1].Steps[0].Count)
	assert.Equal(t, []string{ActionNotify, ActionForwardSIEM}, rules[1].Actions)
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRulesDuplicateID(t *testing.T) {
	body := `
rules:
  - {id: dup, mode: count, window_seconds: 10, steps: [{count: 1}]}
  - {id: dup, mode: count, window_seconds: 10, steps: [{count: 1}]}
`
	_, err := LoadRules(writeRules(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestRuleValidation(t *testing.T) {
	cases := []struct {
		name  string
		rule  Rule
		field string
	}{
		{
			name:  "missing id",
			rule:  Rule{Mode: ModeCount, WindowSeconds: 10, Steps: []Step{{}}},
			field: "id",
		},
		{
			name:  "bad mode",
			rule:  Rule{ID: "r", Mode: "sequence", WindowSeconds: 10, Steps: []Step{{}}},
			field: "mode",
		},
		{
			name:  "no steps",
			rule:  Rule{ID: "r", Mode: ModeCount, WindowSeconds: 10},
			field: "steps",
		},
		{
			name:  "zero window",
			rule:  Rule{ID: "r", Mode: ModeCount, Steps: []Step{{}}},
			field: "window_seconds",
		},
		{
			name:  "unknown action",
			rule:  Rule{ID: "r", Mode: ModeCount, WindowSeconds: 10, Steps: []Step{{}}, Actions: []string{"page_everyone"}},
			field: "actions",
		},
		{
			name:  "bad pattern",
			rule:  Rule{ID: "r", Mode: ModeCount, WindowSeconds: 10, Steps: []Step{{Pattern: "(unclosed"}}},
			field: "steps[0].pattern",
		},
		{
			name:  "bad severity",
			rule:  Rule{ID: "r", Mode: ModeCount, WindowSeconds: 10, Steps: []Step{{MinSeverity: "severe"}}},
			field: "steps[0].min_severity",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateDefaultsMode(t *testing.T) {
	r := Rule{ID: "r", WindowSeconds: 10, Steps: []Step{{}}}
	require.NoError(t, r.Validate())
	assert.Equal(t, ModeCount, r.Mode)
}
