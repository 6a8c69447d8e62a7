package telemetry_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillbox-tech/pillbox/core"
	"github.com/pillbox-tech/pillbox/core/client"
	"github.com/pillbox-tech/pillbox/telemetry"
)

// mockStore implements telemetry.Store
type mockStore struct {
	reports   []telemetry.DeviceReport
	ingestErr error

	latestReading *telemetry.EnvironmentalReading
	latestErr     error

	statuses    []telemetry.CompartmentStatus
	statusLimit int

	history       []telemetry.EnvironmentalReading
	historyWindow time.Duration
}

func (m *mockStore) IngestReport(ctx context.Context, report telemetry.DeviceReport) error {
	if m.ingestErr != nil {
		return m.ingestErr
	}
	m.reports = append(m.reports, report)
	return nil
}

func (m *mockStore) LatestReading(ctx context.Context, boxID string) (*telemetry.EnvironmentalReading, error) {
	return m.latestReading, m.latestErr
}

func (m *mockStore) LatestCompartmentStatus(ctx context.Context, boxID string, limit int) ([]telemetry.CompartmentStatus, error) {
	m.statusLimit = limit
	return m.statuses, nil
}

func (m *mockStore) ReadingHistory(ctx context.Context, boxID string, window time.Duration) ([]telemetry.EnvironmentalReading, error) {
	m.historyWindow = window
	return m.history, nil
}

// mockNotifier implements core.Notifier
type mockNotifier struct {
	resources  []string
	operations []core.Operation
	payloads   [][]byte
}

func (m *mockNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	m.resources = append(m.resources, resource)
	m.operations = append(m.operations, operation)
	m.payloads = append(m.payloads, payload)
}

func newTestAPI(t *testing.T, store telemetry.Store, notifier core.Notifier) client.Client {
	t.Helper()
	router := mux.NewRouter()
	telemetry.NewAPI(&telemetry.Builder{
		Store:    store,
		Router:   router,
		Notifier: notifier,
	})
	return client.NewWithRouter(router)
}

func TestIngestDecomposesReport(t *testing.T) {
	store := &mockStore{}
	notifier := &mockNotifier{}
	cl := newTestAPI(t, store, notifier)

	body := []byte(`{"boxId":"box1","temperature":22.5,"humidity":40,` +
		`"compartmentStatus":[{"id":1,"isOpen":true},{"id":2,"isOpen":false}]}`)
	result := struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{}
	status, err := cl.RawPost("/api/sensor-data", body, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, result.Success)

	require.Len(t, store.reports, 1)
	report := store.reports[0]
	assert.Equal(t, "box1", report.BoxID)
	assert.Equal(t, 22.5, report.Temperature)
	assert.Equal(t, 40.0, report.Humidity)
	require.Len(t, report.CompartmentStatus, 2)
	assert.Equal(t, telemetry.CompartmentReport{ID: 1, IsOpen: true}, report.CompartmentStatus[0])
	assert.Equal(t, telemetry.CompartmentReport{ID: 2, IsOpen: false}, report.CompartmentStatus[1])

	require.Len(t, notifier.payloads, 1)
	assert.Equal(t, []string{"reading"}, notifier.resources)
	assert.Equal(t, []core.Operation{core.OperationCreate}, notifier.operations)
	assert.JSONEq(t, string(body), string(notifier.payloads[0]))
}

func TestIngestWithoutCompartments(t *testing.T) {
	store := &mockStore{}
	cl := newTestAPI(t, store, nil)

	status, err := cl.RawPost("/api/sensor-data",
		[]byte(`{"boxId":"box1","temperature":18,"humidity":55}`), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, store.reports, 1)
	assert.Empty(t, store.reports[0].CompartmentStatus)
}

func TestIngestRejectsInvalidReports(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing box id", `{"temperature":22.5,"humidity":40}`},
		{"empty box id", `{"boxId":"","temperature":22.5,"humidity":40}`},
		{"temperature not a number", `{"boxId":"box1","temperature":"hot","humidity":40}`},
		{"compartment status not a sequence", `{"boxId":"box1","temperature":22.5,"humidity":40,"compartmentStatus":{"id":1,"isOpen":true}}`},
		{"compartment without state", `{"boxId":"box1","temperature":22.5,"humidity":40,"compartmentStatus":[{"id":1}]}`},
		{"not json at all", `temperature=22.5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			notifier := &mockNotifier{}
			router := mux.NewRouter()
			telemetry.NewAPI(&telemetry.Builder{Store: store, Router: router, Notifier: notifier})

			r := httptest.NewRequest(http.MethodPost, "/api/sensor-data", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, r)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			result := struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}{Success: true}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
			assert.Empty(t, store.reports, "invalid report must not reach the store")
			assert.Empty(t, notifier.payloads, "invalid report must not be notified")
		})
	}
}

func TestIngestStoreFailure(t *testing.T) {
	store := &mockStore{ingestErr: errors.New("connection refused")}
	notifier := &mockNotifier{}
	router := mux.NewRouter()
	telemetry.NewAPI(&telemetry.Builder{Store: store, Router: router, Notifier: notifier})

	body := `{"boxId":"box1","temperature":22.5,"humidity":40}`
	r := httptest.NewRequest(http.MethodPost, "/api/sensor-data", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	result := struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Empty(t, notifier.payloads, "failed ingestion must not be notified")
}

func TestLatest(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	store := &mockStore{
		latestReading: &telemetry.EnvironmentalReading{
			BoxID: "box1", Temperature: 22.5, Humidity: 40, Timestamp: now,
		},
		statuses: []telemetry.CompartmentStatus{
			{BoxID: "box1", CompartmentID: 2, IsOpen: false, Timestamp: now},
			{BoxID: "box1", CompartmentID: 1, IsOpen: true, Timestamp: now.Add(-time.Minute)},
		},
	}
	cl := newTestAPI(t, store, nil)

	result := struct {
		Success      bool                          `json:"success"`
		Sensor       *telemetry.EnvironmentalReading `json:"sensor"`
		Compartments []telemetry.CompartmentStatus `json:"compartments"`
	}{}
	status, err := cl.RawGet("/api/sensor-data/latest/box1", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, result.Success)
	require.NotNil(t, result.Sensor)
	assert.Equal(t, 22.5, result.Sensor.Temperature)
	require.Len(t, result.Compartments, 2)
	assert.Equal(t, 2, result.Compartments[0].CompartmentID)
	assert.Equal(t, 4, store.statusLimit, "latest view is capped at the maximum compartment count")
}

func TestLatestWithoutReadings(t *testing.T) {
	store := &mockStore{statuses: []telemetry.CompartmentStatus{}}
	cl := newTestAPI(t, store, nil)

	var raw []byte
	status, err := cl.RawGet("/api/sensor-data/latest/ghost", &raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	result := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, true, result["success"])
	assert.Nil(t, result["sensor"], "a box that never reported has an explicit null sensor")
}

func TestHistory(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	store := &mockStore{
		history: []telemetry.EnvironmentalReading{
			{BoxID: "box1", Temperature: 23, Humidity: 41, Timestamp: now},
			{BoxID: "box1", Temperature: 22, Humidity: 40, Timestamp: now.Add(-time.Hour)},
		},
	}
	cl := newTestAPI(t, store, nil)

	result := struct {
		Success bool                           `json:"success"`
		Data    []telemetry.EnvironmentalReading `json:"data"`
	}{}
	status, err := cl.RawGet("/api/sensor-data/history/box1", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, result.Success)
	require.Len(t, result.Data, 2)
	assert.True(t, result.Data[0].Timestamp.After(result.Data[1].Timestamp))
	assert.Equal(t, 24*time.Hour, store.historyWindow)
}

func TestParseReport(t *testing.T) {
	report, err := telemetry.ParseReport([]byte(`{"boxId":"box9","temperature":19.5,"humidity":61,"compartmentStatus":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "box9", report.BoxID)
	assert.Empty(t, report.CompartmentStatus)

	_, err = telemetry.ParseReport([]byte(`{"boxId":42,"temperature":19.5,"humidity":61}`))
	assert.Error(t, err)
}
