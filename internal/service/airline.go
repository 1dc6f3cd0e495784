package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/store"
)

// Admission reports where a candidate stands after a registration attempt or vote.
type Admission struct {
	Candidate  domain.Address `json:"candidate"`
	Registered bool           `json:"registered"`
	Votes      int            `json:"votes"`
	Required   int            `json:"required"`
}

// requiredVotes is the smallest vote count that is a strict majority of members.
// Zero means no vote is needed.
func requiredVotes(members int) int {
	if members < domain.BootstrapAirlines {
		return 0
	}
	return members/2 + 1
}

func countRegistered(airlines []domain.Airline) int {
	n := 0
	for _, a := range airlines {
		if a.Registered {
			n++
		}
	}
	return n
}

// requireMember loads caller and checks it is a registered, funded airline.
func requireMember(ctx context.Context, tx store.Tx, caller domain.Address) (domain.Airline, error) {
	a, err := tx.Airline(ctx, caller)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Airline{}, fmt.Errorf("%s is not an airline: %w", caller, ErrUnauthorized)
	}
	if err != nil {
		return domain.Airline{}, err
	}
	if !a.Active() {
		return domain.Airline{}, fmt.Errorf("%s is not a registered, funded airline: %w", caller, ErrUnauthorized)
	}
	return a, nil
}

// candidateRecord loads the candidate, creating an empty record on first contact.
func candidateRecord(ctx context.Context, tx store.Tx, addr domain.Address) (domain.Airline, error) {
	a, err := tx.Airline(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Airline{Address: addr}, nil
	}
	return a, err
}

// RegisterAirline admits candidate on behalf of caller. While fewer than four
// airlines are registered the candidate is admitted outright. Afterwards the
// caller's vote is recorded and the candidate is admitted once its distinct
// voters are a strict majority of registered airlines; until then the
// returned Admission is pending (Registered false) and no error is returned.
func (s *Surety) RegisterAirline(ctx context.Context, caller, candidate domain.Address, name string) (Admission, error) {
	var adm Admission
	err := s.update(ctx, "register_airline", func(t *txn) error {
		if _, err := requireOperational(ctx, t); err != nil {
			return err
		}
		if err := requireAddress("candidate", candidate); err != nil {
			return err
		}
		if _, err := requireMember(ctx, t, caller); err != nil {
			return err
		}
		cand, err := candidateRecord(ctx, t, candidate)
		if err != nil {
			return err
		}
		if cand.Registered {
			return fmt.Errorf("airline %s already registered: %w", candidate, ErrDuplicate)
		}
		if name != "" {
			cand.Name = name
		}

		airlines, err := t.Airlines(ctx)
		if err != nil {
			return err
		}
		required := requiredVotes(countRegistered(airlines))
		if len(cand.Voters) < required {
			if cand.HasVoted(caller) {
				return fmt.Errorf("%s already voted for %s: %w", caller, candidate, ErrDuplicate)
			}
			cand.Voters = append(cand.Voters, caller)
			t.emit(Event{Kind: EventAirlineVoted, Actor: caller, Subject: candidate})
		}
		cand.Registered = len(cand.Voters) >= required
		if err := t.SaveAirline(ctx, cand); err != nil {
			return err
		}
		if cand.Registered {
			t.emit(Event{Kind: EventAirlineRegistered, Actor: caller, Subject: candidate})
		}
		adm = Admission{Candidate: candidate, Registered: cand.Registered, Votes: len(cand.Voters), Required: required}
		return nil
	})
	return adm, err
}

// Vote records caller's support for candidate. A vote never registers the
// candidate; RegisterAirline re-checks the majority.
func (s *Surety) Vote(ctx context.Context, caller, candidate domain.Address) (Admission, error) {
	var adm Admission
	err := s.update(ctx, "vote", func(t *txn) error {
		if _, err := requireOperational(ctx, t); err != nil {
			return err
		}
		if err := requireAddress("candidate", candidate); err != nil {
			return err
		}
		if _, err := requireMember(ctx, t, caller); err != nil {
			return err
		}
		cand, err := candidateRecord(ctx, t, candidate)
		if err != nil {
			return err
		}
		if cand.Registered {
			return fmt.Errorf("airline %s already registered: %w", candidate, ErrInvalidState)
		}
		if cand.HasVoted(caller) {
			return fmt.Errorf("%s already voted for %s: %w", caller, candidate, ErrDuplicate)
		}
		cand.Voters = append(cand.Voters, caller)
		if err := t.SaveAirline(ctx, cand); err != nil {
			return err
		}
		airlines, err := t.Airlines(ctx)
		if err != nil {
			return err
		}
		t.emit(Event{Kind: EventAirlineVoted, Actor: caller, Subject: candidate})
		adm = Admission{
			Candidate: candidate,
			Votes:     len(cand.Voters),
			Required:  requiredVotes(countRegistered(airlines)),
		}
		return nil
	})
	return adm, err
}

// Fund adds amount, which must be at least MinFunding, to the airline's pool.
// The first accepted call marks the airline funded for good.
func (s *Surety) Fund(ctx context.Context, caller, airline domain.Address, amount domain.Amount) (domain.Airline, error) {
	var out domain.Airline
	err := s.update(ctx, "fund", func(t *txn) error {
		c, err := requireOperational(ctx, t)
		if err != nil {
			return err
		}
		if caller != airline {
			return fmt.Errorf("%s cannot fund %s: %w", caller, airline, ErrUnauthorized)
		}
		a, err := t.Airline(ctx, airline)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !a.Registered) {
			return fmt.Errorf("airline %s is not registered: %w", airline, ErrInvalidState)
		}
		if err != nil {
			return err
		}
		if amount < domain.MinFunding {
			return fmt.Errorf("funding must be at least %s, got %s: %w", domain.MinFunding, amount, ErrInvalidAmount)
		}
		if err := deposit(amount, &a.Funds, &c.Treasury.Deposited); err != nil {
			return err
		}
		newlyFunded := !a.Funded
		a.Funded = true
		if err := t.SaveAirline(ctx, a); err != nil {
			return err
		}
		if err := t.SaveControl(ctx, c); err != nil {
			return err
		}
		if newlyFunded {
			t.emit(Event{Kind: EventAirlineFunded, Actor: caller, Subject: airline, Amount: a.Funds})
		}
		out = a
		return nil
	})
	return out, err
}

// Airline returns the airline record, or ErrInvalidState if it is unknown.
func (s *Surety) Airline(ctx context.Context, addr domain.Address) (domain.Airline, error) {
	var out domain.Airline
	err := s.view(ctx, func(tx store.Tx) error {
		a, err := tx.Airline(ctx, addr)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown airline %s: %w", addr, ErrInvalidState)
		}
		out = a
		return err
	})
	return out, err
}

func (s *Surety) IsAirlineRegistered(ctx context.Context, addr domain.Address) (bool, error) {
	a, err := s.Airline(ctx, addr)
	if errors.Is(err, ErrInvalidState) {
		return false, nil
	}
	return a.Registered, err
}

func (s *Surety) IsAirlineFunded(ctx context.Context, addr domain.Address) (bool, error) {
	a, err := s.Airline(ctx, addr)
	if errors.Is(err, ErrInvalidState) {
		return false, nil
	}
	return a.Funded, err
}

// GetTotalRegister counts registered airlines.
func (s *Surety) GetTotalRegister(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, func(tx store.Tx) error {
		airlines, err := tx.Airlines(ctx)
		n = countRegistered(airlines)
		return err
	})
	return n, err
}

// GetTotalFund sums every airline's pool.
func (s *Surety) GetTotalFund(ctx context.Context) (domain.Amount, error) {
	var total domain.Amount
	err := s.view(ctx, func(tx store.Tx) error {
		airlines, err := tx.Airlines(ctx)
		for _, a := range airlines {
			total += a.Funds
		}
		return err
	})
	return total, err
}
