package service

import (
	"context"
	"sync"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventOperatingStatus   EventKind = "operating_status"
	EventAirlineRegistered EventKind = "airline_registered"
	EventAirlineVoted      EventKind = "airline_voted"
	EventAirlineFunded     EventKind = "airline_funded"
	EventFlightRegistered  EventKind = "flight_registered"
	EventPolicyBought      EventKind = "policy_bought"
	EventOracleRegistered  EventKind = "oracle_registered"
	EventOracleRequest     EventKind = "oracle_request"
	EventOracleReport      EventKind = "oracle_report"
	EventFlightStatusInfo  EventKind = "flight_status_info"
	EventCredited          EventKind = "credited"
	EventWithdrawn         EventKind = "withdrawn"
	EventDisbursed         EventKind = "disbursed"
)

// Event is an outcome of a committed operation.
type Event struct {
	Seq     uint64            `json:"seq"`
	Kind    EventKind         `json:"kind"`
	Actor   domain.Address    `json:"actor,omitempty"`
	Subject domain.Address    `json:"subject,omitempty"`
	Flight  *domain.FlightKey `json:"flight,omitempty"`
	Index   *uint8            `json:"index,omitempty"`
	Status  domain.StatusCode `json:"status_code,omitempty"`
	Amount  domain.Amount     `json:"amount,omitempty"`
}

// EventSink receives events after the transaction that produced them commits.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	ev := s.Logger.Info().Str("event", string(e.Kind))
	if e.Actor != "" {
		ev = ev.Str("actor", string(e.Actor))
	}
	if e.Subject != "" {
		ev = ev.Str("subject", string(e.Subject))
	}
	if e.Flight != nil {
		ev = ev.Stringer("flight", e.Flight)
	}
	if e.Index != nil {
		ev = ev.Uint8("index", *e.Index)
	}
	if e.Status != domain.StatusUnknown {
		ev = ev.Stringer("status", e.Status)
	}
	if e.Amount != 0 {
		ev = ev.Stringer("amount", e.Amount)
	}
	ev.Msg("ledger event")
}

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Feed keeps the most recent events in memory so pollers, such as oracle
// daemons waiting for status requests, can read them by sequence number.
type Feed struct {
	mu     sync.Mutex
	next   uint64
	size   int
	events []Event
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1024
	}
	return &Feed{next: 1, size: size}
}

func (f *Feed) Emit(ctx context.Context, e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.Seq = f.next
	f.next++
	f.events = append(f.events, e)
	if len(f.events) > f.size {
		f.events = append(f.events[:0:0], f.events[len(f.events)-f.size:]...)
	}
}

// Since returns up to limit events with Seq greater than seq, oldest first.
func (f *Feed) Since(seq uint64, limit int) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.events {
		if e.Seq <= seq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func flightRef(k domain.FlightKey) *domain.FlightKey {
	return &k
}

func indexRef(i uint8) *uint8 {
	return &i
}
