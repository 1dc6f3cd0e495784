package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/models"
	"github.com/punchamoorthee/flightsurety/internal/service"
)

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := h.surety.IsOperational(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.StatusResponse{Operational: ok})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.OperatingStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.surety.SetOperatingStatus(r.Context(), caller, *req.Operational); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.StatusResponse{Operational: *req.Operational})
}

func (h *Handler) GetConsortium(w http.ResponseWriter, r *http.Request) {
	n, err := h.surety.GetTotalRegister(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := h.surety.GetTotalFund(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ConsortiumResponse{Registered: n, TotalFund: int64(total), Display: total.String()})
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.surety.Audit(r.Context())
	if errors.Is(err, service.ErrOutOfBalance) {
		respondJSON(w, http.StatusInternalServerError, report)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, _ := strconv.ParseUint(q.Get("since"), 10, 64)
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 100
	}
	events := h.feed.Since(since, limit)
	if events == nil {
		events = []service.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handler) RegisterAirline(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.RegisterAirlineRequest
	if !h.decode(w, r, &req) {
		return
	}
	adm, err := h.surety.RegisterAirline(r.Context(), caller, domain.NormalizeAddress(req.Airline), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	code := http.StatusCreated
	if !adm.Registered {
		code = http.StatusAccepted
	}
	respondJSON(w, code, adm)
}

func (h *Handler) GetAirline(w http.ResponseWriter, r *http.Request) {
	a, err := h.surety.Airline(r.Context(), domain.NormalizeAddress(mux.Vars(r)["address"]))
	if errors.Is(err, service.ErrInvalidState) {
		respondError(w, r, http.StatusNotFound, "Airline not found")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	adm, err := h.surety.Vote(r.Context(), caller, domain.NormalizeAddress(mux.Vars(r)["address"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, adm)
}

func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.FundRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.surety.Fund(r.Context(), caller, domain.NormalizeAddress(mux.Vars(r)["address"]), domain.Amount(req.Amount))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) RegisterFlight(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.RegisterFlightRequest
	if !h.decode(w, r, &req) {
		return
	}
	f, err := h.surety.RegisterFlight(r.Context(), caller, req.Flight, req.Timestamp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	key, err := flightKey(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f, err := h.surety.Flight(r.Context(), key)
	if errors.Is(err, service.ErrInvalidState) {
		respondError(w, r, http.StatusNotFound, "Flight not found")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, err := flightKey(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req models.BuyRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.surety.Buy(r.Context(), caller, key, domain.Amount(req.Amount))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	key, err := flightKey(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	insured, err := h.surety.IsFlightInsured(r.Context(), domain.NormalizeAddress(mux.Vars(r)["passenger"]), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.FlagResponse{Value: insured})
}

func (h *Handler) FetchFlightStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, err := flightKey(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rk, err := h.surety.FetchFlightStatus(r.Context(), caller, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, rk)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	key, err := flightKey(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 8)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "bad index")
		return
	}
	req, err := h.surety.Request(r.Context(), domain.RequestKey{Index: uint8(index), Flight: key})
	if errors.Is(err, service.ErrInvalidState) {
		respondError(w, r, http.StatusNotFound, "Request not found")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handler) CreditInsurees(w http.ResponseWriter, r *http.Request) {
	key, err := flightKey(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	credits, err := h.surety.CreditInsurees(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if credits == nil {
		credits = []service.Credit{}
	}
	respondJSON(w, http.StatusOK, credits)
}

func (h *Handler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.RegisterOracleRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.surety.RegisterOracle(r.Context(), caller, domain.Amount(req.Fee))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, indexesResponse(o.Address, o.Indexes))
}

func (h *Handler) GetOracleIndexes(w http.ResponseWriter, r *http.Request) {
	addr := domain.NormalizeAddress(mux.Vars(r)["address"])
	idx, err := h.surety.OracleIndexes(r.Context(), addr)
	if errors.Is(err, service.ErrInvalidState) {
		respondError(w, r, http.StatusNotFound, "Oracle not found")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, indexesResponse(addr, idx))
}

func indexesResponse(oracle domain.Address, idx [domain.IndicesPerOracle]uint8) models.IndexesResponse {
	out := models.IndexesResponse{Oracle: string(oracle)}
	for _, i := range idx {
		out.Indexes = append(out.Indexes, int(i))
	}
	return out
}

// settlementResponse adds the deferred credit reason to a Settlement.
type settlementResponse struct {
	service.Settlement
	CreditError string `json:"credit_error,omitempty"`
}

func (h *Handler) SubmitOracleResponse(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.OracleResponseRequest
	if !h.decode(w, r, &req) {
		return
	}
	rk := domain.RequestKey{
		Index: req.Index,
		Flight: domain.FlightKey{
			Airline:   domain.NormalizeAddress(req.Airline),
			Flight:    req.Flight,
			Timestamp: req.Timestamp,
		},
	}
	st, err := h.surety.SubmitOracleResponse(r.Context(), caller, rk, domain.StatusCode(req.StatusCode))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := settlementResponse{Settlement: st}
	if st.CreditErr != nil {
		resp.CreditError = st.CreditErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.surety.GetTotalInsure(r.Context(), domain.NormalizeAddress(mux.Vars(r)["address"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.AmountResponse{Amount: int64(b), Display: b.String()})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	wd, err := h.surety.Withdraw(r.Context(), caller)
	if err != nil && wd.Amount == 0 {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		// The balance is already zeroed and the outbox holds the withdrawal.
		h.log.Error().Err(err).Str("passenger", string(caller)).Msg("withdrawal pending disbursement")
		respondJSON(w, http.StatusAccepted, wd)
		return
	}
	respondJSON(w, http.StatusOK, wd)
}
