package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadaflow/internal/alarms"
	"scadaflow/internal/alertstore"
	"scadaflow/internal/connections"
	"scadaflow/internal/correlate"
	"scadaflow/internal/dispatch"
	"scadaflow/internal/metrics"
	"scadaflow/internal/parse"
	"scadaflow/internal/pipeline"
	"scadaflow/pkg/models"
)

func testServer(t *testing.T) (*Server, *alarms.Tracker, *alertstore.Store, *connections.Registry, *dispatch.Dispatcher) {
	t.Helper()
	tracker := alarms.NewTracker(0)
	store, err := alertstore.New(16)
	require.NoError(t, err)
	conns := connections.NewRegistry()
	disp := dispatch.New(dispatch.Config{})
	pipe := pipeline.New(pipeline.Config{}, pipeline.Components{
		Parsers: parse.NewRegistry(),
		Tracker: tracker,
		Engine:  correlate.NewEngine(correlate.Config{}),
	})
	return NewServer(pipe, tracker, store, conns, disp, metrics.New()), tracker, store, conns, disp
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthOK(t *testing.T) {
	s, _, _, _, _ := testServer(t)
	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHealthDegradedAfterActionFailure(t *testing.T) {
	s, _, _, _, disp := testServer(t)

	// An unconfigured action failing marks alerting degraded.
	alert := &models.AlertEvent{AlertID: "a1", Actions: []string{"escalate"}}
	require.Error(t, disp.Dispatch(context.Background(), alert))

	var resp healthResponse
	rec := get(t, s, "/healthz")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 1, resp.ActionFailures["escalate"])
}

func TestActiveAlarmsEndpoint(t *testing.T) {
	s, tracker, _, _, _ := testServer(t)
	_, err := tracker.Ingest(&models.LogEntry{
		ID:         "e1",
		Timestamp:  time.Now().UTC(),
		System:     models.SystemDeltaV,
		TagName:    "REACTOR01/TIC_001/PV.CV",
		AlarmType:  models.AlarmHigh,
		AlarmState: models.StateActive,
	})
	require.NoError(t, err)

	rec := get(t, s, "/alarms/active")
	require.Equal(t, http.StatusOK, rec.Code)

	var alarmsOut []models.ProcessAlarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarmsOut))
	require.Len(t, alarmsOut, 1)
	assert.Equal(t, "REACTOR01/TIC_001/PV.CV", alarmsOut[0].Key.Tag)
}

func TestAlertEndpointsHonorLimit(t *testing.T) {
	s, _, store, _, _ := testServer(t)
	store.Add(&models.AlertEvent{AlertID: "a1", Severity: models.SeverityCritical})
	store.Add(&models.AlertEvent{AlertID: "a2", Severity: models.SeverityWarning})
	store.Add(&models.AlertEvent{AlertID: "a3", Severity: models.SeverityAlert})

	var recent []models.AlertEvent
	rec := get(t, s, "/alerts/recent?limit=2")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	assert.Len(t, recent, 2)

	var crit []models.AlertEvent
	rec = get(t, s, "/alerts/critical")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &crit))
	require.Len(t, crit, 2)
	assert.Equal(t, "a3", crit[0].AlertID)
}

func TestConnectionsEndpoint(t *testing.T) {
	s, _, _, conns, _ := testServer(t)
	conns.Register(models.ScadaConnection{ConnectionID: "dv-01", System: models.SystemDeltaV})

	rec := get(t, s, "/connections")
	var out []models.ScadaConnection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, models.ConnectionConnected, out[0].Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _, _, _ := testServer(t)
	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scadaflow_")
}
