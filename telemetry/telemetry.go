package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/pillbox-tech/pillbox/core"
	"github.com/pillbox-tech/pillbox/core/logger"
	"github.com/pillbox-tech/pillbox/core/schema"
	"github.com/pillbox-tech/pillbox/telemetry/schemas"
)

const (
	reportSchemaID = "http://pillbox-tech.io/device-report.json"

	// maximum number of compartments per box, used as query-size cap
	// for the latest-state view
	maxCompartments = 4

	// trailing window for the history view
	historyWindow = 24 * time.Hour
)

var reportValidator = mustNewReportValidator()

func mustNewReportValidator() *schema.Validator {
	v, err := schema.NewValidatorFromFS(schemas.FS)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseReport validates raw JSON against the device report schema and
// decodes it. It is used by the HTTP ingestion route and by the MQTT
// bridge, so both transports accept the exact same reports.
func ParseReport(data []byte) (DeviceReport, error) {
	report := DeviceReport{}
	if err := reportValidator.ValidateBytes(data, reportSchemaID); err != nil {
		return report, fmt.Errorf("invalid device report: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("invalid device report: %w", err)
	}
	return report, nil
}

// API is the RESTful interface for box sensor data.
type API struct {
	store    Store
	notifier core.Notifier
}

// Builder is a builder helper for the telemetry API
type Builder struct {
	// Store is the persistence layer for sensor reports. This is mandatory.
	Store Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives one notification per successfully stored report.
	// This is optional.
	Notifier core.Notifier
}

// NewAPI realizes the actual API and adds routes to the router
func NewAPI(b *Builder) *API {
	if b.Store == nil {
		panic("Store is missing")
	}
	if b.Router == nil {
		panic("Router is missing")
	}

	a := &API{
		store:    b.Store,
		notifier: b.Notifier,
	}
	a.handleRoutes(b.Router)
	return a
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type latestResponse struct {
	Success      bool                  `json:"success"`
	Sensor       *EnvironmentalReading `json:"sensor"`
	Compartments []CompartmentStatus   `json:"compartments"`
}

type historyResponse struct {
	Success bool                   `json:"success"`
	Data    []EnvironmentalReading `json:"data"`
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("telemetry: handle route /api/sensor-data POST")
	logger.Default().Debugln("telemetry: handle route /api/sensor-data/latest/{box_id} GET")
	logger.Default().Debugln("telemetry: handle route /api/sensor-data/history/{box_id} GET")

	router.HandleFunc("/api/sensor-data", a.ingest).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/api/sensor-data/latest/{box_id}", a.latest).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/api/sensor-data/history/{box_id}", a.history).Methods(http.MethodOptions, http.MethodGet)
}

func (a *API) ingest(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := ParseReport(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := a.store.IngestReport(r.Context(), report); err != nil {
		writeError(w, r, err)
		return
	}

	if a.notifier != nil {
		a.notifier.Notify("reading", core.OperationCreate, body)
	}

	writeJSON(w, ackResponse{Success: true, Message: "sensor data recorded"})
}

func (a *API) latest(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	boxID := mux.Vars(r)["box_id"]
	reading, err := a.store.LatestReading(r.Context(), boxID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	statuses, err := a.store.LatestCompartmentStatus(r.Context(), boxID, maxCompartments)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, latestResponse{Success: true, Sensor: reading, Compartments: statuses})
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	boxID := mux.Vars(r)["box_id"]
	readings, err := a.store.ReadingHistory(r.Context(), boxID, historyWindow)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, historyResponse{Success: true, Data: readings})
}

func writeJSON(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	jsonData, _ := json.MarshalIndent(response, "", " ")
	w.Write(jsonData)
}

// writeError reports any failure uniformly: logged, then answered as a
// structured response with a server-fault status. Malformed input and
// store failure are deliberately not distinguished on the wire.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Errorln("telemetry:", err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	jsonData, _ := json.MarshalIndent(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: err.Error()}, "", " ")
	w.Write(jsonData)
}
