package alertstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadaflow/pkg/models"
)

func alert(id string, sev models.Severity) *models.AlertEvent {
	return &models.AlertEvent{AlertID: id, RuleID: "r", Severity: sev}
}

func TestAddAndRecent(t *testing.T) {
	s, err := New(8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.Add(alert(fmt.Sprintf("a%d", i), models.SeverityWarning))
	}
	assert.Equal(t, 3, s.Len())

	recent := s.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "a2", recent[0].AlertID, "newest first")
	assert.Equal(t, "a0", recent[2].AlertID)

	assert.Len(t, s.Recent(2), 2)
}

func TestDuplicateAlertIgnored(t *testing.T) {
	s, err := New(8)
	require.NoError(t, err)
	s.Add(alert("dup", models.SeverityError))
	s.Add(alert("dup", models.SeverityError))
	assert.Equal(t, 1, s.Len())
}

func TestRingEvictsOldest(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		s.Add(alert(fmt.Sprintf("a%d", i), models.SeverityNotice))
	}
	assert.Equal(t, 4, s.Len())
	recent := s.Recent(0)
	require.Len(t, recent, 4)
	assert.Equal(t, "a5", recent[0].AlertID)
	assert.Equal(t, "a2", recent[3].AlertID)
}

func TestCriticalRecent(t *testing.T) {
	s, err := New(8)
	require.NoError(t, err)
	s.Add(alert("warn", models.SeverityWarning))
	s.Add(alert("crit", models.SeverityCritical))
	s.Add(alert("alert", models.SeverityAlert))
	s.Add(alert("info", models.SeverityInfo))

	crit := s.CriticalRecent(0)
	require.Len(t, crit, 2)
	assert.Equal(t, "alert", crit[0].AlertID)
	assert.Equal(t, "crit", crit[1].AlertID)
}
