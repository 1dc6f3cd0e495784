package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
)

// Credit is one payout applied to a passenger balance.
type Credit struct {
	Passenger domain.Address `json:"passenger"`
	Premium   domain.Amount  `json:"premium"`
	Payout    domain.Amount  `json:"payout"`
}

// Buy insures caller on a registered flight for amount, which must lie in
// (0, PremiumCap]. The premium joins the airline's pool.
func (s *Surety) Buy(ctx context.Context, caller domain.Address, key domain.FlightKey, amount domain.Amount) (domain.Policy, error) {
	var out domain.Policy
	err := s.update(ctx, "buy", func(t *txn) error {
		c, err := requireOperational(ctx, t)
		if err != nil {
			return err
		}
		if err := requireAddress("passenger", caller); err != nil {
			return err
		}
		f, err := registeredFlight(ctx, t, key)
		if err != nil {
			return err
		}
		if f.Finalized() {
			return fmt.Errorf("flight %s already finalized as %s: %w", key, f.Status, ErrInvalidState)
		}
		if amount <= 0 || amount > domain.PremiumCap {
			return fmt.Errorf("premium must be in (0, %s], got %s: %w", domain.PremiumCap, amount, ErrInvalidAmount)
		}
		if _, err := t.Policy(ctx, caller, key); err == nil {
			return fmt.Errorf("%s already insured on %s: %w", caller, key, ErrDuplicate)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		airline, err := t.Airline(ctx, key.Airline)
		if err != nil {
			return err
		}
		if err := deposit(amount, &airline.Funds, &c.Treasury.Deposited); err != nil {
			return err
		}

		out = domain.Policy{Passenger: caller, Flight: key, Premium: amount}
		if err := t.SavePolicy(ctx, out); err != nil {
			return err
		}
		if err := t.SaveAirline(ctx, airline); err != nil {
			return err
		}
		if err := t.SaveControl(ctx, c); err != nil {
			return err
		}
		t.emit(Event{Kind: EventPolicyBought, Actor: caller, Flight: flightRef(key), Amount: amount})
		return nil
	})
	return out, err
}

// credit pays every uncredited policy on the flight 1.5x its premium out of the
// airline's pool. It checks the pool covers the whole flight before writing,
// so either every pending policy is credited or none is.
func (s *Surety) credit(ctx context.Context, t *txn, key domain.FlightKey) ([]Credit, error) {
	policies, err := t.FlightPolicies(ctx, key)
	if err != nil {
		return nil, err
	}
	var credits []Credit
	var total domain.Amount
	for _, p := range policies {
		if p.Credited {
			continue
		}
		c := Credit{Passenger: p.Passenger, Premium: p.Premium, Payout: domain.Payout(p.Premium)}
		credits = append(credits, c)
		total += c.Payout
	}
	if len(credits) == 0 {
		return nil, nil
	}

	airline, err := t.Airline(ctx, key.Airline)
	if err != nil {
		return nil, err
	}
	if airline.Funds < total {
		return nil, fmt.Errorf("pool of %s holds %s, payouts need %s: %w", key.Airline, airline.Funds, total, ErrInsufficientFunds)
	}

	for _, c := range credits {
		balance, err := t.Balance(ctx, c.Passenger)
		if err != nil {
			return nil, err
		}
		if err := t.SaveBalance(ctx, c.Passenger, balance+c.Payout); err != nil {
			return nil, err
		}
		p := domain.Policy{Passenger: c.Passenger, Flight: key, Premium: c.Premium, Credited: true}
		if err := t.SavePolicy(ctx, p); err != nil {
			return nil, err
		}
		t.emit(Event{Kind: EventCredited, Subject: c.Passenger, Flight: flightRef(key), Amount: c.Payout})
	}
	airline.Funds -= total
	if err := t.SaveAirline(ctx, airline); err != nil {
		return nil, err
	}
	t.afterCommit(func() { creditedTotal.Add(float64(total)) })
	return credits, nil
}

// CreditInsurees credits the pending policies of a flight finalized as
// LateAirline. Settlement already does this; calling it again only pays
// policies a previous attempt could not cover, and is otherwise a no-op.
func (s *Surety) CreditInsurees(ctx context.Context, key domain.FlightKey) ([]Credit, error) {
	var out []Credit
	err := s.update(ctx, "credit_insurees", func(t *txn) error {
		if _, err := requireOperational(ctx, t); err != nil {
			return err
		}
		f, err := registeredFlight(ctx, t, key)
		if err != nil {
			return err
		}
		if f.Status != domain.StatusLateAirline {
			return fmt.Errorf("flight %s status is %s: %w", key, f.Status, ErrInvalidState)
		}
		out, err = s.credit(ctx, t, key)
		return err
	})
	return out, err
}

// Withdraw pays out caller's whole balance. The balance is zeroed and the
// withdrawal recorded in one transaction; the Disburser runs only after commit.
// If it fails the withdrawal stays pending for RedeliverWithdrawals and is
// returned together with the error.
func (s *Surety) Withdraw(ctx context.Context, caller domain.Address) (domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := s.update(ctx, "withdraw", func(t *txn) error {
		c, err := requireOperational(ctx, t)
		if err != nil {
			return err
		}
		balance, err := t.Balance(ctx, caller)
		if err != nil {
			return err
		}
		if balance <= 0 {
			return fmt.Errorf("%s has nothing to withdraw: %w", caller, ErrInvalidState)
		}
		if err := t.SaveBalance(ctx, caller, 0); err != nil {
			return err
		}
		w = domain.Withdrawal{ID: uuid.NewString(), Passenger: caller, Amount: balance, CreatedAt: s.now().UTC()}
		if err := t.SaveWithdrawal(ctx, w); err != nil {
			return err
		}
		c.Treasury.Withdrawn += balance
		if err := t.SaveControl(ctx, c); err != nil {
			return err
		}
		t.afterCommit(func() { withdrawnTotal.Add(float64(balance)) })
		t.emit(Event{Kind: EventWithdrawn, Subject: caller, Amount: balance})
		return nil
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}
	return s.disburse(ctx, w)
}

// RedeliverWithdrawals offers every pending withdrawal created at least minAge
// ago to the Disburser again and reports how many it accepted. Younger records
// are left to the Withdraw call that wrote them. Failures are logged and
// joined into the returned error; they do not stop the remaining deliveries.
func (s *Surety) RedeliverWithdrawals(ctx context.Context, minAge time.Duration) (int, error) {
	var pending []domain.Withdrawal
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := requireOperational(ctx, tx); err != nil {
			return err
		}
		var err error
		pending, err = tx.PendingWithdrawals(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	cutoff := s.now().UTC().Add(-minAge)
	var delivered int
	var errs []error
	for _, w := range pending {
		if w.CreatedAt.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.disburse(ctx, w); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// disburse hands w to the Disburser and records that it was accepted. A record
// whose mark fails to commit is offered again later, so Disbursers must treat
// w.ID as an idempotency key.
func (s *Surety) disburse(ctx context.Context, w domain.Withdrawal) (domain.Withdrawal, error) {
	if err := s.payout.Disburse(ctx, w); err != nil {
		s.log.Error().Str("withdrawal", w.ID).Str("passenger", string(w.Passenger)).Stringer("amount", w.Amount).Err(err).Msg("disbursement failed")
		return w, fmt.Errorf("disbursement of %s failed: %w", w.ID, err)
	}
	done := w
	done.Disbursed = true
	err := s.update(ctx, "mark_disbursed", func(t *txn) error {
		if err := t.SaveWithdrawal(ctx, done); err != nil {
			return err
		}
		t.emit(Event{Kind: EventDisbursed, Subject: w.Passenger, Amount: w.Amount})
		return nil
	})
	if err != nil {
		s.log.Error().Str("withdrawal", w.ID).Err(err).Msg("disbursement not recorded")
		return w, err
	}
	return done, nil
}

// IsFlightInsured reports whether passenger holds an uncredited policy on the flight.
func (s *Surety) IsFlightInsured(ctx context.Context, passenger domain.Address, key domain.FlightKey) (bool, error) {
	var insured bool
	err := s.view(ctx, func(tx store.Tx) error {
		p, err := tx.Policy(ctx, passenger, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		insured = err == nil && !p.Credited
		return err
	})
	return insured, err
}

// GetTotalInsure returns the passenger's withdrawable balance.
func (s *Surety) GetTotalInsure(ctx context.Context, passenger domain.Address) (domain.Amount, error) {
	var balance domain.Amount
	err := s.view(ctx, func(tx store.Tx) error {
		b, err := tx.Balance(ctx, passenger)
		balance = b
		return err
	})
	return balance, err
}
