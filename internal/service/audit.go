package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
)

// AuditReport compares value held by the ledger with value that entered and left it.
type AuditReport struct {
	Pools      domain.Amount `json:"pools"`
	Balances   domain.Amount `json:"balances"`
	OracleFees domain.Amount `json:"oracle_fees"`
	Deposited  domain.Amount `json:"deposited"`
	Withdrawn  domain.Amount `json:"withdrawn"`
	Balanced   bool          `json:"balanced"`
}

// Held is everything currently owed to airlines, passengers and the owner.
func (r AuditReport) Held() domain.Amount {
	return r.Pools + r.Balances + r.OracleFees
}

// Audit checks that pools, balances and fees add up to deposits minus
// withdrawals and that no account is negative.
func (s *Surety) Audit(ctx context.Context) (AuditReport, error) {
	var r AuditReport
	err := s.view(ctx, func(tx store.Tx) error {
		c, err := control(ctx, tx)
		if err != nil {
			return err
		}
		airlines, err := tx.Airlines(ctx)
		if err != nil {
			return err
		}
		balances, err := tx.Balances(ctx)
		if err != nil {
			return err
		}

		r = AuditReport{
			OracleFees: c.Treasury.OracleFees,
			Deposited:  c.Treasury.Deposited,
			Withdrawn:  c.Treasury.Withdrawn,
			Balanced:   true,
		}
		for _, a := range airlines {
			if a.Funds < 0 {
				r.Balanced = false
			}
			r.Pools += a.Funds
		}
		for _, b := range balances {
			if b < 0 {
				r.Balanced = false
			}
			r.Balances += b
		}
		if r.Held() != r.Deposited-r.Withdrawn {
			r.Balanced = false
		}
		return nil
	})
	if err == nil && !r.Balanced {
		s.log.Error().Stringer("held", r.Held()).Stringer("deposited", r.Deposited).
			Stringer("withdrawn", r.Withdrawn).Msg("ledger out of balance")
		return r, fmt.Errorf("held %s, net deposits %s: %w", r.Held(), r.Deposited-r.Withdrawn, ErrOutOfBalance)
	}
	return r, err
}
