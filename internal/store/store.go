package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/flightsurety/internal/domain"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrReadOnly   = errors.New("write in read-only transaction")
	ErrConstraint = errors.New("constraint violation")
)

// Store is the ledger's persistent state. Update runs fn in a transaction that
// is applied in total order with every other Update; if fn returns an error
// nothing it wrote becomes visible. View runs fn against a consistent snapshot.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close()
}

// Tx exposes the record tables. Lookups of missing records return ErrNotFound,
// except Balance which reports zero.
type Tx interface {
	Control(ctx context.Context) (domain.Control, error)
	SaveControl(ctx context.Context, c domain.Control) error

	Airline(ctx context.Context, addr domain.Address) (domain.Airline, error)
	Airlines(ctx context.Context) ([]domain.Airline, error)
	SaveAirline(ctx context.Context, a domain.Airline) error

	Flight(ctx context.Context, key domain.FlightKey) (domain.Flight, error)
	SaveFlight(ctx context.Context, f domain.Flight) error

	Policy(ctx context.Context, passenger domain.Address, key domain.FlightKey) (domain.Policy, error)
	FlightPolicies(ctx context.Context, key domain.FlightKey) ([]domain.Policy, error)
	SavePolicy(ctx context.Context, p domain.Policy) error

	Balance(ctx context.Context, passenger domain.Address) (domain.Amount, error)
	Balances(ctx context.Context) (map[domain.Address]domain.Amount, error)
	SaveBalance(ctx context.Context, passenger domain.Address, amount domain.Amount) error

	Oracle(ctx context.Context, addr domain.Address) (domain.Oracle, error)
	SaveOracle(ctx context.Context, o domain.Oracle) error

	Request(ctx context.Context, key domain.RequestKey) (domain.OracleRequest, error)
	SaveRequest(ctx context.Context, r domain.OracleRequest) error

	// SaveWithdrawal inserts or replaces the outbox record with w.ID.
	SaveWithdrawal(ctx context.Context, w domain.Withdrawal) error
	// PendingWithdrawals lists records not yet disbursed, oldest first.
	PendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error)
}
