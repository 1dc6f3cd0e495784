package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Address identifies a participant: owner, airline, passenger or oracle.
type Address string

// NormalizeAddress trims and lower-cases an address so that the same
// participant always maps to the same key.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// Amount is a value in base units. One Unit is 1e9 base units.
type Amount int64

const Unit Amount = 1_000_000_000

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole, frac := v/int64(Unit), v%int64(Unit)
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	return strings.TrimRight(fmt.Sprintf("%s%d.%09d", sign, whole, frac), "0")
}

// Add returns a+b. It reports false instead of wrapping when the sum of two
// non-negative amounts would exceed the int64 range.
func (a Amount) Add(b Amount) (Amount, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// Protocol constants.
const (
	BootstrapAirlines = 4
	MinFunding        = 10 * Unit
	PremiumCap        = 1 * Unit
	RegistrationFee   = 1 * Unit
	IndicesPerOracle  = 3
	IndexSpace        = 10
	ResponseQuorum    = 3
)

// Payout is the credit owed for a premium: 1.5x, rounded down.
func Payout(premium Amount) Amount {
	return premium + premium/2
}

// StatusCode is the reported state of a flight.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

func (s StatusCode) Valid() bool {
	switch s {
	case StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther:
		return true
	}
	return false
}

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on_time"
	case StatusLateAirline:
		return "late_airline"
	case StatusLateWeather:
		return "late_weather"
	case StatusLateTechnical:
		return "late_technical"
	case StatusLateOther:
		return "late_other"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Airline is a consortium member or candidate.
// Voters holds each distinct identity that voted for admission, in vote order.
type Airline struct {
	Address    Address   `json:"address"`
	Name       string    `json:"name"`
	Registered bool      `json:"registered"`
	Funded     bool      `json:"funded"`
	Funds      Amount    `json:"funds"`
	Voters     []Address `json:"voters,omitempty"`
}

func (a *Airline) HasVoted(voter Address) bool {
	for _, v := range a.Voters {
		if v == voter {
			return true
		}
	}
	return false
}

// Active reports whether the airline may act as a consortium member.
func (a *Airline) Active() bool {
	return a.Registered && a.Funded
}

// FlightKey addresses a flight. Timestamp is the scheduled departure in unix seconds.
type FlightKey struct {
	Airline   Address `json:"airline"`
	Flight    string  `json:"flight"`
	Timestamp int64   `json:"timestamp"`
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s/%s@%d", k.Airline, k.Flight, k.Timestamp)
}

// Flight is a registered flight and its finalized status.
type Flight struct {
	Key        FlightKey  `json:"key"`
	Registered bool       `json:"registered"`
	Status     StatusCode `json:"status_code"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Finalized reports whether oracles have settled the flight's status.
func (f *Flight) Finalized() bool {
	return f.Status != StatusUnknown
}

// Policy is a passenger's insurance on one flight.
type Policy struct {
	Passenger Address   `json:"passenger"`
	Flight    FlightKey `json:"flight"`
	Premium   Amount    `json:"premium"`
	Credited  bool      `json:"credited"`
}

// Oracle is a registered status reporter with its assigned indices.
type Oracle struct {
	Address Address                 `json:"address"`
	Indexes [IndicesPerOracle]uint8 `json:"indexes"`
}

func (o *Oracle) Holds(index uint8) bool {
	for _, i := range o.Indexes {
		if i == index {
			return true
		}
	}
	return false
}

// RequestKey addresses an oracle request.
type RequestKey struct {
	Index  uint8     `json:"index"`
	Flight FlightKey `json:"flight"`
}

// OracleRequest collects oracle responses for one flight at one index.
type OracleRequest struct {
	Key       RequestKey               `json:"key"`
	Requester Address                  `json:"requester"`
	Settled   bool                     `json:"settled"`
	Outcome   StatusCode               `json:"outcome"`
	Responses map[StatusCode][]Address `json:"responses"`
}

// Responded reports whether the oracle already answered this request under any code.
func (r *OracleRequest) Responded(oracle Address) bool {
	for _, voters := range r.Responses {
		for _, v := range voters {
			if v == oracle {
				return true
			}
		}
	}
	return false
}

// Treasury tracks value entering and leaving the ledger.
type Treasury struct {
	Deposited  Amount `json:"deposited"`
	Withdrawn  Amount `json:"withdrawn"`
	OracleFees Amount `json:"oracle_fees"`
}

// Control is the ledger-wide singleton record.
type Control struct {
	Owner       Address  `json:"owner"`
	Operational bool     `json:"operational"`
	OracleNonce uint64   `json:"oracle_nonce"`
	Treasury    Treasury `json:"treasury"`
}

// Withdrawal is the outbox record written when a balance is paid out.
// Disbursed is set once the Disburser has accepted it.
type Withdrawal struct {
	ID        string    `json:"id"`
	Passenger Address   `json:"passenger"`
	Amount    Amount    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	Disbursed bool      `json:"disbursed"`
}

// Clone returns a copy that shares no slices with a.
func (a Airline) Clone() Airline {
	if a.Voters != nil {
		a.Voters = append([]Address(nil), a.Voters...)
	}
	return a
}

// Clone returns a copy that shares no maps or slices with r.
func (r OracleRequest) Clone() OracleRequest {
	responses := make(map[StatusCode][]Address, len(r.Responses))
	for code, voters := range r.Responses {
		responses[code] = append([]Address(nil), voters...)
	}
	r.Responses = responses
	return r
}
