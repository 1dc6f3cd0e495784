package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surety_operations_total",
		Help: "Ledger operations processed, labeled by outcome",
	}, []string{"operation", "outcome"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surety_settlements_total",
		Help: "Oracle requests settled by quorum, labeled by status",
	}, []string{"status"})

	creditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surety_credited_base_units_total",
		Help: "Base units credited to passenger balances",
	})

	withdrawnTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surety_withdrawn_base_units_total",
		Help: "Base units paid out to passengers",
	})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOperational):
		return "paused"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "error"
	}
}
