package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
)

func (s *Surety) IsOperational(ctx context.Context) (bool, error) {
	var operational bool
	err := s.view(ctx, func(tx store.Tx) error {
		c, err := control(ctx, tx)
		if err != nil {
			return err
		}
		operational = c.Operational
		return nil
	})
	return operational, err
}

// SetOperatingStatus pauses or resumes every mutating operation. Only the owner may call it.
func (s *Surety) SetOperatingStatus(ctx context.Context, caller domain.Address, operational bool) error {
	return s.update(ctx, "set_operating_status", func(t *txn) error {
		c, err := control(ctx, t)
		if err != nil {
			return err
		}
		if caller != c.Owner {
			return fmt.Errorf("%s is not the ledger owner: %w", caller, ErrUnauthorized)
		}
		if c.Operational == operational {
			return nil
		}
		c.Operational = operational
		if err := t.SaveControl(ctx, c); err != nil {
			return err
		}
		t.emit(Event{Kind: EventOperatingStatus, Actor: caller})
		return nil
	})
}

// requireOperational is the first step of every mutating operation.
func requireOperational(ctx context.Context, tx store.Tx) (domain.Control, error) {
	c, err := control(ctx, tx)
	if err != nil {
		return domain.Control{}, err
	}
	if !c.Operational {
		return domain.Control{}, ErrOperational
	}
	return c, nil
}
