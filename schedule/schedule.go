package schedule

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pillbox-tech/pillbox/core/logger"
)

// API is the RESTful interface for the medication schedule.
type API struct {
	store Store
}

// Builder is a builder helper for the schedule API
type Builder struct {
	// Store is the persistence layer for schedule entries. This is mandatory.
	Store Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
}

// NewAPI realizes the actual API and adds routes to the router
func NewAPI(b *Builder) *API {
	if b.Store == nil {
		panic("Store is missing")
	}
	if b.Router == nil {
		panic("Router is missing")
	}

	a := &API{store: b.Store}
	a.handleRoutes(b.Router)
	return a
}

type createRequest struct {
	BoxID         string    `json:"boxId"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

type completeRequest struct {
	ScheduleID string `json:"scheduleId"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type entriesResponse struct {
	Success bool    `json:"success"`
	Data    []Entry `json:"data"`
}

type entryResponse struct {
	Success bool  `json:"success"`
	Data    Entry `json:"data"`
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("schedule: handle route /api/medication-schedule POST")
	logger.Default().Debugln("schedule: handle route /api/medication-schedule/{box_id} GET")
	logger.Default().Debugln("schedule: handle route /api/medication-schedule/complete POST")
	logger.Default().Debugln("schedule: handle route /api/medication-history/{box_id} GET")

	router.HandleFunc("/api/medication-schedule", a.create).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/api/medication-schedule/complete", a.complete).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/api/medication-schedule/{box_id}", a.outstanding).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/api/medication-history/{box_id}", a.history).Methods(http.MethodOptions, http.MethodGet)
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	request := createRequest{}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, r, err)
		return
	}
	if len(request.BoxID) == 0 || request.ScheduledTime.IsZero() {
		writeError(w, r, fmt.Errorf("boxId and scheduledTime are required"))
		return
	}

	entry, err := a.store.Create(r.Context(), request.BoxID, request.ScheduledTime)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, entryResponse{Success: true, Data: entry})
}

func (a *API) outstanding(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	boxID := mux.Vars(r)["box_id"]
	entries, err := a.store.Outstanding(r.Context(), boxID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, entriesResponse{Success: true, Data: entries})
}

func (a *API) complete(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	request := completeRequest{}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, r, err)
		return
	}
	scheduleID, err := uuid.Parse(request.ScheduleID)
	if err != nil {
		writeError(w, r, fmt.Errorf("invalid schedule id: %w", err))
		return
	}

	if err := a.store.Complete(r.Context(), scheduleID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, ackResponse{Success: true, Message: "schedule entry completed"})
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	boxID := mux.Vars(r)["box_id"]
	entries, err := a.store.History(r.Context(), boxID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, entriesResponse{Success: true, Data: entries})
}

func writeJSON(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	jsonData, _ := json.MarshalIndent(response, "", " ")
	w.Write(jsonData)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Errorln("schedule:", err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	jsonData, _ := json.MarshalIndent(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: err.Error()}, "", " ")
	w.Write(jsonData)
}
