package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountString(t *testing.T) {
	cases := map[Amount]string{
		0:                "0",
		Unit:             "1",
		10 * Unit:        "10",
		Unit + Unit/2:    "1.5",
		1:                "0.000000001",
		-Unit / 4:        "-0.25",
		Payout(Unit / 3): "0.499999999",
	}
	for a, want := range cases {
		assert.Equal(t, want, a.String(), "amount %d", int64(a))
	}
}

func TestAmountAdd(t *testing.T) {
	sum, ok := Unit.Add(Unit / 2)
	assert.True(t, ok)
	assert.Equal(t, Unit+Unit/2, sum)

	sum, ok = Amount(math.MaxInt64 - 1).Add(1)
	assert.True(t, ok)
	assert.Equal(t, Amount(math.MaxInt64), sum)

	_, ok = Amount(math.MaxInt64).Add(1)
	assert.False(t, ok)
	_, ok = (10 * Unit).Add(math.MaxInt64)
	assert.False(t, ok)
}

func TestPayout(t *testing.T) {
	assert.Equal(t, Amount(1_500_000_000), Payout(Unit))
	assert.Equal(t, Amount(1), Payout(1), "rounds down")
	assert.Equal(t, Amount(3), Payout(2))
	assert.Zero(t, Payout(0))
}

func TestStatusCode(t *testing.T) {
	for _, s := range []StatusCode{StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther} {
		assert.True(t, s.Valid(), s.String())
	}
	assert.False(t, StatusCode(15).Valid())
	assert.Equal(t, "late_airline", StatusLateAirline.String())
	assert.Equal(t, "status(15)", StatusCode(15).String())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, Address("0xabc"), NormalizeAddress("  0xABC "))
}

func TestAirlineVotes(t *testing.T) {
	a := Airline{Address: "airline-05", Voters: []Address{"airline-01"}}
	assert.True(t, a.HasVoted("airline-01"))
	assert.False(t, a.HasVoted("airline-02"))

	c := a.Clone()
	c.Voters[0] = "other"
	assert.Equal(t, Address("airline-01"), a.Voters[0])

	assert.False(t, a.Active())
	a.Registered, a.Funded = true, true
	assert.True(t, a.Active())
}

func TestOracleRequestResponded(t *testing.T) {
	r := OracleRequest{Responses: map[StatusCode][]Address{StatusOnTime: {"oracle-1"}}}
	assert.True(t, r.Responded("oracle-1"))
	assert.False(t, r.Responded("oracle-2"))

	c := r.Clone()
	c.Responses[StatusOnTime][0] = "other"
	c.Responses[StatusLateAirline] = []Address{"oracle-3"}
	assert.Equal(t, Address("oracle-1"), r.Responses[StatusOnTime][0])
	assert.Len(t, r.Responses, 1)
}

func TestFlightKeyString(t *testing.T) {
	k := FlightKey{Airline: "airline-01", Flight: "SU100", Timestamp: 1714564800}
	assert.Equal(t, "airline-01/SU100@1714564800", k.String())
	f := Flight{Key: k}
	assert.False(t, f.Finalized())
	f.Status = StatusOnTime
	assert.True(t, f.Finalized())
}
