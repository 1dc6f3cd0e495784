package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/models"
	"github.com/punchamoorthee/flightsurety/internal/service"
	"github.com/rs/zerolog"
)

// CallerHeader carries the identity the request acts as.
const CallerHeader = "X-Caller"

type Handler struct {
	surety   *service.Surety
	feed     *service.Feed
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(s *service.Surety, feed *service.Feed, logger zerolog.Logger) *Handler {
	return &Handler{surety: s, feed: feed, validate: validator.New(), log: logger}
}

// Router wires every ledger route plus /metrics and /health.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, accessLog(h.log), instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", h.GetStatus).Methods("GET")
	v1.HandleFunc("/status", h.SetStatus).Methods("PUT")
	v1.HandleFunc("/consortium", h.GetConsortium).Methods("GET")
	v1.HandleFunc("/audit", h.GetAudit).Methods("GET")
	v1.HandleFunc("/events", h.GetEvents).Methods("GET")

	v1.HandleFunc("/airlines", h.RegisterAirline).Methods("POST")
	v1.HandleFunc("/airlines/{address}", h.GetAirline).Methods("GET")
	v1.HandleFunc("/airlines/{address}/votes", h.Vote).Methods("POST")
	v1.HandleFunc("/airlines/{address}/funds", h.Fund).Methods("POST")

	v1.HandleFunc("/flights", h.RegisterFlight).Methods("POST")
	const flight = "/flights/{airline}/{flight}/{timestamp:[0-9]+}"
	v1.HandleFunc(flight, h.GetFlight).Methods("GET")
	v1.HandleFunc(flight+"/policies", h.Buy).Methods("POST")
	v1.HandleFunc(flight+"/policies/{passenger}", h.GetPolicy).Methods("GET")
	v1.HandleFunc(flight+"/status-requests", h.FetchFlightStatus).Methods("POST")
	v1.HandleFunc(flight+"/status-requests/{index:[0-9]+}", h.GetRequest).Methods("GET")
	v1.HandleFunc(flight+"/credits", h.CreditInsurees).Methods("POST")

	v1.HandleFunc("/oracles", h.RegisterOracle).Methods("POST")
	v1.HandleFunc("/oracles/responses", h.SubmitOracleResponse).Methods("POST")
	v1.HandleFunc("/oracles/{address}/indexes", h.GetOracleIndexes).Methods("GET")

	v1.HandleFunc("/passengers/{address}/balance", h.GetBalance).Methods("GET")
	v1.HandleFunc("/withdrawals", h.Withdraw).Methods("POST")
	return r
}

// caller returns the acting identity or writes a 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	c := domain.NormalizeAddress(r.Header.Get(CallerHeader))
	if c == "" {
		respondError(w, r, http.StatusUnauthorized, "Missing "+CallerHeader+" header")
		return "", false
	}
	return c, true
}

// decode reads a JSON body into dst and validates it, writing a 400 or 422 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request: %v", err))
		return false
	}
	return true
}

func flightKey(r *http.Request) (domain.FlightKey, error) {
	vars := mux.Vars(r)
	ts, err := strconv.ParseInt(vars["timestamp"], 10, 64)
	if err != nil {
		return domain.FlightKey{}, fmt.Errorf("bad timestamp %q", vars["timestamp"])
	}
	return domain.FlightKey{
		Airline:   domain.NormalizeAddress(vars["airline"]),
		Flight:    vars["flight"],
		Timestamp: ts,
	}, nil
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrOperational):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrInvalidArgument):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "Internal Server Error"
	}
	respondError(w, r, code, msg)
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, code int, message string) {
	respondJSON(w, code, models.ErrorResponse{Error: message, RequestID: RequestIDFrom(r.Context())})
}
