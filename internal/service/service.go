// Package service implements the flight surety ledger: consortium admission,
// flight registration, oracle status consensus and the insurance escrow.
//
// Every mutating operation runs inside one store transaction and either
// applies completely or not at all. Events are emitted only after commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
	"github.com/rs/zerolog"
)

// Disburser moves withdrawn value out of the ledger to the passenger.
type Disburser interface {
	Disburse(ctx context.Context, w domain.Withdrawal) error
}

// LogDisburser records disbursements in the log only.
type LogDisburser struct {
	Logger zerolog.Logger
}

func (d LogDisburser) Disburse(ctx context.Context, w domain.Withdrawal) error {
	d.Logger.Info().Str("passenger", string(w.Passenger)).Stringer("amount", w.Amount).Msg("disbursed")
	return nil
}

type Options struct {
	Entropy   []byte
	Sink      EventSink
	Disburser Disburser
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Surety is the single entry point to the ledger.
type Surety struct {
	store  store.Store
	index  Indexer
	sink   EventSink
	payout Disburser
	log    zerolog.Logger
	now    func() time.Time
}

func New(s store.Store, opts Options) *Surety {
	if opts.Sink == nil {
		opts.Sink = LogSink{Logger: opts.Logger}
	}
	if opts.Disburser == nil {
		opts.Disburser = LogDisburser{Logger: opts.Logger}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Surety{
		store:  s,
		index:  NewIndexer(opts.Entropy),
		sink:   opts.Sink,
		payout: opts.Disburser,
		log:    opts.Logger,
		now:    opts.Now,
	}
}

// Genesis is the initial ledger state: the owner allowed to pause the ledger
// and the first consortium airline, registered but not yet funded.
type Genesis struct {
	Owner            domain.Address
	FirstAirline     domain.Address
	FirstAirlineName string
}

// Init writes the genesis state unless the store already holds a ledger.
func (s *Surety) Init(ctx context.Context, g Genesis) error {
	if g.Owner == "" || g.FirstAirline == "" {
		return fmt.Errorf("genesis requires owner and first airline: %w", ErrInvalidArgument)
	}
	return s.update(ctx, "init", func(t *txn) error {
		if _, err := t.Control(ctx); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := t.SaveControl(ctx, domain.Control{Owner: g.Owner, Operational: true}); err != nil {
			return err
		}
		first := domain.Airline{Address: g.FirstAirline, Name: g.FirstAirlineName, Registered: true}
		if err := t.SaveAirline(ctx, first); err != nil {
			return err
		}
		t.emit(Event{Kind: EventAirlineRegistered, Actor: g.Owner, Subject: g.FirstAirline})
		return nil
	})
}

// txn is a store transaction plus the events and hooks it runs on commit.
type txn struct {
	store.Tx
	events []Event
	after  []func()
}

func (t *txn) emit(e Event) {
	t.events = append(t.events, e)
}

// afterCommit defers fn until the transaction has committed. It never runs
// for a rolled-back transaction.
func (t *txn) afterCommit(fn func()) {
	t.after = append(t.after, fn)
}

func (s *Surety) update(ctx context.Context, op string, fn func(t *txn) error) error {
	var done *txn
	err := s.store.Update(ctx, func(tx store.Tx) error {
		t := &txn{Tx: tx}
		if err := fn(t); err != nil {
			return err
		}
		done = t
		return nil
	})
	operationsTotal.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		s.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
		return err
	}
	for _, hook := range done.after {
		hook()
	}
	for _, e := range done.events {
		s.sink.Emit(ctx, e)
	}
	return nil
}

func (s *Surety) view(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.store.View(ctx, fn)
}

// control loads the ledger singleton, reporting an uninitialized ledger as invalid state.
func control(ctx context.Context, tx store.Tx) (domain.Control, error) {
	c, err := tx.Control(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Control{}, fmt.Errorf("ledger not initialized: %w", ErrInvalidState)
	}
	return c, err
}

// deposit adds amount to every total, or to none of them if any sum would
// overflow.
func deposit(amount domain.Amount, totals ...*domain.Amount) error {
	sums := make([]domain.Amount, len(totals))
	for i, total := range totals {
		sum, ok := total.Add(amount)
		if !ok {
			return fmt.Errorf("deposit of %s overflows a ledger total: %w", amount, ErrInvalidAmount)
		}
		sums[i] = sum
	}
	for i, total := range totals {
		*total = sums[i]
	}
	return nil
}

func requireAddress(field string, a domain.Address) error {
	if a == "" {
		return fmt.Errorf("%s is required: %w", field, ErrInvalidArgument)
	}
	return nil
}

func requireFlightKey(k domain.FlightKey) error {
	if err := requireAddress("airline", k.Airline); err != nil {
		return err
	}
	if k.Flight == "" {
		return fmt.Errorf("flight designator is required: %w", ErrInvalidArgument)
	}
	return nil
}
