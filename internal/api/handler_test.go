package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/models"
	"github.com/punchamoorthee/flightsurety/internal/service"
	"github.com/punchamoorthee/flightsurety/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router *mux.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	feed := service.NewFeed(1024)
	s := service.New(store.NewMemory(), service.Options{
		Entropy: []byte("api-test"),
		Sink:    feed,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, s.Init(context.Background(), service.Genesis{Owner: "owner", FirstAirline: "airline-01"}))
	return &testServer{t: t, router: NewHandler(s, feed, zerolog.Nop()).Router()}
}

func (ts *testServer) do(method, path, caller string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedConsortium funds the genesis airline and admits three more funded airlines.
func (ts *testServer) seedConsortium() {
	t := ts.t
	fund := map[string]int64{"amount": int64(domain.MinFunding)}
	require.Equal(t, http.StatusOK, ts.do("POST", "/airlines/airline-01/funds", "airline-01", fund).Code)
	for i := 2; i <= domain.BootstrapAirlines; i++ {
		addr := fmt.Sprintf("airline-%02d", i)
		rec := ts.do("POST", "/airlines", "airline-01", models.RegisterAirlineRequest{Airline: addr})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.Equal(t, http.StatusOK, ts.do("POST", "/airlines/"+addr+"/funds", addr, fund).Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("GET", "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest("POST", "/api/v1/withdrawals", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", decodeBody[models.ErrorResponse](t, rec).RequestID)
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do("POST", "/airlines", "", models.RegisterAirlineRequest{Airline: "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/airlines", "airline-01", "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/airlines", "airline-01", `{"airline":"x","extra":1}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do("POST", "/airlines", "airline-01", `{"name":"no address"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do("PUT", "/status", "owner", `{}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do("POST", "/flights", "airline-01", `{"flight":"SU1"}`).Code)
}

func TestConsortiumFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("POST", "/airlines", "airline-01", models.RegisterAirlineRequest{Airline: "airline-02"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "unfunded genesis airline")

	ts.seedConsortium()

	c := decodeBody[models.ConsortiumResponse](t, ts.do("GET", "/consortium", "", nil))
	assert.Equal(t, 4, c.Registered)
	assert.Equal(t, int64(4*domain.MinFunding), c.TotalFund)
	assert.Equal(t, "40", c.Display)

	rec = ts.do("POST", "/airlines", "airline-01", models.RegisterAirlineRequest{Airline: "Airline-05", Name: "Fifth"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	adm := decodeBody[service.Admission](t, rec)
	assert.Equal(t, domain.Address("airline-05"), adm.Candidate)
	assert.Equal(t, 1, adm.Votes)
	assert.Equal(t, 3, adm.Required)

	assert.Equal(t, http.StatusConflict, ts.do("POST", "/airlines", "airline-01", models.RegisterAirlineRequest{Airline: "airline-05"}).Code)
	assert.Equal(t, http.StatusOK, ts.do("POST", "/airlines/airline-05/votes", "airline-02", nil).Code)
	assert.Equal(t, http.StatusConflict, ts.do("POST", "/airlines/airline-05/votes", "airline-02", nil).Code)

	rec = ts.do("POST", "/airlines", "airline-03", models.RegisterAirlineRequest{Airline: "airline-05"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decodeBody[service.Admission](t, rec).Registered)

	a := decodeBody[domain.Airline](t, ts.do("GET", "/airlines/airline-05", "", nil))
	assert.Equal(t, "Fifth", a.Name)
	assert.True(t, a.Registered)
	assert.False(t, a.Funded)

	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/airlines/nobody", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do("POST", "/airlines/airline-05/funds", "airline-01", map[string]int64{"amount": 1}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do("POST", "/airlines/airline-05/funds", "airline-05", map[string]int64{"amount": 0}).Code)
}

func TestOperatingStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seedConsortium()

	off := map[string]bool{"operational": false}
	assert.Equal(t, http.StatusForbidden, ts.do("PUT", "/status", "airline-01", off).Code)
	require.Equal(t, http.StatusOK, ts.do("PUT", "/status", "owner", off).Code)
	assert.False(t, decodeBody[models.StatusResponse](t, ts.do("GET", "/status", "", nil)).Operational)

	flight := models.RegisterFlightRequest{Flight: "SU100", Timestamp: 1714564800}
	assert.Equal(t, http.StatusServiceUnavailable, ts.do("POST", "/flights", "airline-01", flight).Code)

	require.Equal(t, http.StatusOK, ts.do("PUT", "/status", "owner", map[string]bool{"operational": true}).Code)
	assert.Equal(t, http.StatusCreated, ts.do("POST", "/flights", "airline-01", flight).Code)
}

func TestInsuranceFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seedConsortium()

	const departs = 1714564800
	rec := ts.do("POST", "/flights", "airline-01", models.RegisterFlightRequest{Flight: "SU100", Timestamp: departs})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusConflict, ts.do("POST", "/flights", "airline-01", models.RegisterFlightRequest{Flight: "SU100", Timestamp: departs}).Code)

	path := fmt.Sprintf("/flights/airline-01/SU100/%d", departs)
	fl := decodeBody[domain.Flight](t, ts.do("GET", path, "", nil))
	assert.Equal(t, domain.StatusUnknown, fl.Status)
	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/flights/airline-01/NOPE/1", "", nil).Code)

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do("POST", path+"/policies", "alice", models.BuyRequest{Amount: int64(domain.PremiumCap) + 1}).Code)
	require.Equal(t, http.StatusCreated, ts.do("POST", path+"/policies", "alice", models.BuyRequest{Amount: int64(domain.Unit)}).Code)
	assert.Equal(t, http.StatusConflict, ts.do("POST", path+"/policies", "alice", models.BuyRequest{Amount: int64(domain.Unit)}).Code)
	assert.True(t, decodeBody[models.FlagResponse](t, ts.do("GET", path+"/policies/alice", "", nil)).Value)

	assert.Equal(t, http.StatusConflict, ts.do("POST", path+"/credits", "", nil).Code, "flight not late")

	oracles := map[string][]int{}
	for i := 0; i < 40; i++ {
		addr := fmt.Sprintf("oracle-%02d", i)
		rec := ts.do("POST", "/oracles", addr, models.RegisterOracleRequest{Fee: int64(domain.RegistrationFee)})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decodeBody[models.IndexesResponse](t, rec)
		require.Len(t, resp.Indexes, domain.IndicesPerOracle)
		oracles[addr] = resp.Indexes
	}
	assert.Equal(t, http.StatusConflict, ts.do("POST", "/oracles", "oracle-00", models.RegisterOracleRequest{Fee: int64(domain.RegistrationFee)}).Code)
	got := decodeBody[models.IndexesResponse](t, ts.do("GET", "/oracles/oracle-00/indexes", "", nil))
	assert.Equal(t, oracles["oracle-00"], got.Indexes)

	rec = ts.do("POST", path+"/status-requests", "alice", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rk := decodeBody[domain.RequestKey](t, rec)

	var settled bool
	reports := 0
	for addr, idx := range oracles {
		if settled {
			break
		}
		holds := false
		for _, i := range idx {
			holds = holds || i == int(rk.Index)
		}
		if !holds {
			continue
		}
		resp := models.OracleResponseRequest{
			Index: rk.Index, Airline: "airline-01", Flight: "SU100", Timestamp: departs,
			StatusCode: uint8(domain.StatusLateAirline),
		}
		rec := ts.do("POST", "/oracles/responses", addr, resp)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		reports++
		st := decodeBody[settlementResponse](t, rec)
		settled = st.Settled
	}
	require.True(t, settled)
	assert.Equal(t, domain.ResponseQuorum, reports)

	req := decodeBody[domain.OracleRequest](t, ts.do("GET", fmt.Sprintf("%s/status-requests/%d", path, rk.Index), "", nil))
	assert.True(t, req.Settled)
	assert.Equal(t, domain.StatusLateAirline, req.Outcome)

	bal := decodeBody[models.AmountResponse](t, ts.do("GET", "/passengers/alice/balance", "", nil))
	assert.Equal(t, int64(1_500_000_000), bal.Amount)
	assert.Equal(t, "1.5", bal.Display)

	rec = ts.do("POST", "/withdrawals", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Amount(1_500_000_000), decodeBody[domain.Withdrawal](t, rec).Amount)
	assert.Equal(t, http.StatusConflict, ts.do("POST", "/withdrawals", "alice", nil).Code)

	report := decodeBody[service.AuditReport](t, ts.do("GET", "/audit", "", nil))
	assert.True(t, report.Balanced)

	events := decodeBody[[]service.Event](t, ts.do("GET", "/events?since=0&limit=1000", "", nil))
	var seen []service.EventKind
	for _, e := range events {
		seen = append(seen, e.Kind)
	}
	assert.Contains(t, seen, service.EventCredited)
	assert.Contains(t, seen, service.EventWithdrawn)

	tail := decodeBody[[]service.Event](t, ts.do("GET", fmt.Sprintf("/events?since=%d", events[len(events)-1].Seq), "", nil))
	assert.Empty(t, tail)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrOperational, http.StatusServiceUnavailable},
		{service.ErrUnauthorized, http.StatusForbidden},
		{service.ErrDuplicate, http.StatusConflict},
		{service.ErrInvalidState, http.StatusConflict},
		{service.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{service.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{service.ErrInvalidArgument, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", service.ErrDuplicate), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	h := &Handler{log: zerolog.Nop()}
	rec := httptest.NewRecorder()
	h.fail(rec, httptest.NewRequest("GET", "/", nil), errors.New("db password leaked"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "password"))
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(CallerHeader, "alice")
	requestID(accessLog(logger)(next)).ServeHTTP(rec, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "alice", entry["caller"])
	assert.Equal(t, "warn", entry["level"])
	assert.NotEmpty(t, entry["request_id"])
}
