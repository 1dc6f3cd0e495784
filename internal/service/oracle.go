package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
)

// RegisterOracle enrolls caller as an oracle for fee and assigns its three indices.
func (s *Surety) RegisterOracle(ctx context.Context, caller domain.Address, fee domain.Amount) (domain.Oracle, error) {
	var out domain.Oracle
	err := s.update(ctx, "register_oracle", func(t *txn) error {
		c, err := requireOperational(ctx, t)
		if err != nil {
			return err
		}
		if err := requireAddress("oracle", caller); err != nil {
			return err
		}
		if fee < domain.RegistrationFee {
			return fmt.Errorf("registration fee is %s, got %s: %w", domain.RegistrationFee, fee, ErrInvalidAmount)
		}
		if _, err := t.Oracle(ctx, caller); err == nil {
			return fmt.Errorf("oracle %s already registered: %w", caller, ErrDuplicate)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		drawn := s.index.Draw(caller, c.OracleNonce, domain.IndicesPerOracle, true)
		c.OracleNonce++
		out = domain.Oracle{Address: caller}
		copy(out.Indexes[:], drawn)

		if err := deposit(fee, &c.Treasury.Deposited, &c.Treasury.OracleFees); err != nil {
			return err
		}
		if err := t.SaveOracle(ctx, out); err != nil {
			return err
		}
		if err := t.SaveControl(ctx, c); err != nil {
			return err
		}
		t.emit(Event{Kind: EventOracleRegistered, Actor: caller, Amount: fee})
		return nil
	})
	return out, err
}

// OracleIndexes returns the indices assigned to a registered oracle.
func (s *Surety) OracleIndexes(ctx context.Context, oracle domain.Address) ([domain.IndicesPerOracle]uint8, error) {
	var out [domain.IndicesPerOracle]uint8
	err := s.view(ctx, func(tx store.Tx) error {
		o, err := tx.Oracle(ctx, oracle)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s is not a registered oracle: %w", oracle, ErrInvalidState)
		}
		out = o.Indexes
		return err
	})
	return out, err
}

// FetchFlightStatus opens, or reuses, the oracle request for the flight at an
// index drawn for caller, and emits an OracleRequest event for oracles holding it.
func (s *Surety) FetchFlightStatus(ctx context.Context, caller domain.Address, key domain.FlightKey) (domain.RequestKey, error) {
	var rk domain.RequestKey
	err := s.update(ctx, "fetch_flight_status", func(t *txn) error {
		c, err := requireOperational(ctx, t)
		if err != nil {
			return err
		}
		if err := requireAddress("caller", caller); err != nil {
			return err
		}
		if err := requireFlightKey(key); err != nil {
			return err
		}
		f, err := registeredFlight(ctx, t, key)
		if err != nil {
			return err
		}
		if f.Finalized() {
			return fmt.Errorf("flight %s already finalized as %s: %w", key, f.Status, ErrInvalidState)
		}

		index := s.index.Draw(caller, c.OracleNonce, 1, false)[0]
		c.OracleNonce++
		if err := t.SaveControl(ctx, c); err != nil {
			return err
		}

		rk = domain.RequestKey{Index: index, Flight: key}
		req, err := t.Request(ctx, rk)
		switch {
		case errors.Is(err, store.ErrNotFound):
			req = domain.OracleRequest{Key: rk, Requester: caller, Responses: map[domain.StatusCode][]domain.Address{}}
			if err := t.SaveRequest(ctx, req); err != nil {
				return err
			}
		case err != nil:
			return err
		case req.Settled:
			return fmt.Errorf("request %d for %s already settled: %w", index, key, ErrInvalidState)
		}
		t.emit(Event{Kind: EventOracleRequest, Actor: caller, Flight: flightRef(key), Index: indexRef(index)})
		return nil
	})
	return rk, err
}

// Settlement is the result of an accepted oracle response.
type Settlement struct {
	Request domain.OracleRequest `json:"request"`
	Settled bool                 `json:"settled"`
	// Finalized is set when this settlement fixed the flight's status.
	Finalized bool     `json:"finalized"`
	Credits   []Credit `json:"credits,omitempty"`
	// CreditErr holds the reason crediting was skipped; the settlement itself
	// still commits and the credit can be retried with CreditInsurees.
	CreditErr error `json:"-"`
}

// SubmitOracleResponse records caller's report for an open request. When any
// status collects ResponseQuorum matching reports the request settles, the
// flight's status is fixed and, for LateAirline, its policies are credited.
func (s *Surety) SubmitOracleResponse(ctx context.Context, caller domain.Address, rk domain.RequestKey, status domain.StatusCode) (Settlement, error) {
	var out Settlement
	err := s.update(ctx, "submit_oracle_response", func(t *txn) error {
		out = Settlement{}
		if _, err := requireOperational(ctx, t); err != nil {
			return err
		}
		if !status.Valid() || status == domain.StatusUnknown {
			return fmt.Errorf("status %s is not reportable: %w", status, ErrInvalidArgument)
		}

		o, err := t.Oracle(ctx, caller)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s is not a registered oracle: %w", caller, ErrUnauthorized)
		}
		if err != nil {
			return err
		}
		if !o.Holds(rk.Index) {
			return fmt.Errorf("index %d is not assigned to %s: %w", rk.Index, caller, ErrUnauthorized)
		}

		req, err := t.Request(ctx, rk)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no open request %d for %s: %w", rk.Index, rk.Flight, ErrInvalidState)
		}
		if err != nil {
			return err
		}
		if req.Settled {
			return fmt.Errorf("request %d for %s already settled: %w", rk.Index, rk.Flight, ErrInvalidState)
		}
		if req.Responded(caller) {
			return fmt.Errorf("%s already responded to request %d for %s: %w", caller, rk.Index, rk.Flight, ErrDuplicate)
		}

		if req.Responses == nil {
			req.Responses = make(map[domain.StatusCode][]domain.Address)
		}
		req.Responses[status] = append(req.Responses[status], caller)
		t.emit(Event{Kind: EventOracleReport, Actor: caller, Flight: flightRef(rk.Flight), Index: indexRef(rk.Index), Status: status})

		if len(req.Responses[status]) >= domain.ResponseQuorum {
			req.Settled = true
			req.Outcome = status
			out.Settled = true
			if err := s.settle(ctx, t, rk.Flight, status, &out); err != nil {
				return err
			}
		}
		if err := t.SaveRequest(ctx, req); err != nil {
			return err
		}
		out.Request = req
		return nil
	})
	if err == nil && out.Settled {
		settlementsTotal.WithLabelValues(out.Request.Outcome.String()).Inc()
	}
	return out, err
}

// settle fixes the flight's status once. A flight already finalized through
// another index's request is left untouched.
func (s *Surety) settle(ctx context.Context, t *txn, key domain.FlightKey, status domain.StatusCode, out *Settlement) error {
	f, err := registeredFlight(ctx, t, key)
	if err != nil {
		return err
	}
	if f.Finalized() {
		return nil
	}
	f.Status = status
	f.UpdatedAt = s.now().UTC()
	if err := t.SaveFlight(ctx, f); err != nil {
		return err
	}
	out.Finalized = true
	t.emit(Event{Kind: EventFlightStatusInfo, Flight: flightRef(key), Status: status})

	if status != domain.StatusLateAirline {
		return nil
	}
	credits, err := s.credit(ctx, t, key)
	if errors.Is(err, ErrInsufficientFunds) {
		out.CreditErr = err
		s.log.Warn().Stringer("flight", key).Err(err).Msg("credit deferred")
		return nil
	}
	if err != nil {
		return err
	}
	out.Credits = credits
	return nil
}

// Request returns the oracle request, or ErrInvalidState if none was opened.
func (s *Surety) Request(ctx context.Context, rk domain.RequestKey) (domain.OracleRequest, error) {
	var out domain.OracleRequest
	err := s.view(ctx, func(tx store.Tx) error {
		r, err := tx.Request(ctx, rk)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no request %d for %s: %w", rk.Index, rk.Flight, ErrInvalidState)
		}
		out = r
		return err
	})
	return out, err
}
