package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
)

// RegisterFlight publishes a flight of the calling airline with status Unknown.
func (s *Surety) RegisterFlight(ctx context.Context, caller domain.Address, flight string, timestamp int64) (domain.Flight, error) {
	key := domain.FlightKey{Airline: caller, Flight: flight, Timestamp: timestamp}
	var out domain.Flight
	err := s.update(ctx, "register_flight", func(t *txn) error {
		if _, err := requireOperational(ctx, t); err != nil {
			return err
		}
		if err := requireFlightKey(key); err != nil {
			return err
		}
		if _, err := requireMember(ctx, t, caller); err != nil {
			return err
		}
		if _, err := t.Flight(ctx, key); err == nil {
			return fmt.Errorf("flight %s already registered: %w", key, ErrDuplicate)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		out = domain.Flight{Key: key, Registered: true, Status: domain.StatusUnknown, UpdatedAt: s.now().UTC()}
		if err := t.SaveFlight(ctx, out); err != nil {
			return err
		}
		t.emit(Event{Kind: EventFlightRegistered, Actor: caller, Flight: flightRef(key)})
		return nil
	})
	return out, err
}

// registeredFlight loads a flight, reporting a missing one as invalid state.
func registeredFlight(ctx context.Context, tx store.Tx, key domain.FlightKey) (domain.Flight, error) {
	f, err := tx.Flight(ctx, key)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !f.Registered) {
		return domain.Flight{}, fmt.Errorf("flight %s is not registered: %w", key, ErrInvalidState)
	}
	return f, err
}

// Flight returns the flight record, or ErrInvalidState if it is not registered.
func (s *Surety) Flight(ctx context.Context, key domain.FlightKey) (domain.Flight, error) {
	var out domain.Flight
	err := s.view(ctx, func(tx store.Tx) error {
		f, err := registeredFlight(ctx, tx, key)
		out = f
		return err
	})
	return out, err
}

func (s *Surety) IsFlightRegistered(ctx context.Context, key domain.FlightKey) (bool, error) {
	f, err := s.Flight(ctx, key)
	if errors.Is(err, ErrInvalidState) {
		return false, nil
	}
	return f.Registered, err
}
