package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

// runContract checks behavior every Store must share. s must start empty.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()
	departs := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key := domain.FlightKey{Airline: "airline-01", Flight: "SU100", Timestamp: departs.Unix()}
	rk := domain.RequestKey{Index: 7, Flight: key}

	t.Run("empty store", func(t *testing.T) {
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			_, err := tx.Control(ctx)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = tx.Airline(ctx, "airline-01")
			assert.ErrorIs(t, err, ErrNotFound)
			b, err := tx.Balance(ctx, "alice")
			assert.NoError(t, err)
			assert.Zero(t, b)
			return nil
		}))
	})

	t.Run("update commits every table", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.SaveControl(ctx, domain.Control{
				Owner: "owner", Operational: true, OracleNonce: 4,
				Treasury: domain.Treasury{Deposited: 30 * domain.Unit, OracleFees: domain.Unit},
			}))
			for _, a := range []domain.Airline{
				{Address: "airline-02", Name: "Second", Registered: true, Funded: true, Funds: 10 * domain.Unit},
				{Address: "airline-01", Name: "First", Registered: true, Funded: true, Funds: 10 * domain.Unit},
				{Address: "airline-05", Voters: []domain.Address{"airline-02", "airline-01"}},
			} {
				require.NoError(t, tx.SaveAirline(ctx, a))
			}
			require.NoError(t, tx.SaveFlight(ctx, domain.Flight{Key: key, Registered: true, UpdatedAt: departs}))
			require.NoError(t, tx.SavePolicy(ctx, domain.Policy{Passenger: "bob", Flight: key, Premium: domain.Unit / 2}))
			require.NoError(t, tx.SavePolicy(ctx, domain.Policy{Passenger: "alice", Flight: key, Premium: domain.Unit}))
			require.NoError(t, tx.SaveBalance(ctx, "carol", 3*domain.Unit))
			require.NoError(t, tx.SaveOracle(ctx, domain.Oracle{Address: "oracle-01", Indexes: [3]uint8{7, 1, 4}}))
			require.NoError(t, tx.SaveRequest(ctx, domain.OracleRequest{
				Key: rk, Requester: "alice",
				Responses: map[domain.StatusCode][]domain.Address{domain.StatusOnTime: {"oracle-01"}},
			}))

			// Writes are visible to the transaction that made them.
			a, err := tx.Airline(ctx, "airline-05")
			require.NoError(t, err)
			assert.Equal(t, []domain.Address{"airline-02", "airline-01"}, a.Voters)
			return nil
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			c, err := tx.Control(ctx)
			require.NoError(t, err)
			assert.Equal(t, domain.Address("owner"), c.Owner)
			assert.Equal(t, uint64(4), c.OracleNonce)
			assert.Equal(t, 30*domain.Unit, c.Treasury.Deposited)

			airlines, err := tx.Airlines(ctx)
			require.NoError(t, err)
			require.Len(t, airlines, 3)
			assert.Equal(t, domain.Address("airline-01"), airlines[0].Address)
			assert.Equal(t, domain.Address("airline-05"), airlines[2].Address)
			assert.Equal(t, []domain.Address{"airline-02", "airline-01"}, airlines[2].Voters)

			f, err := tx.Flight(ctx, key)
			require.NoError(t, err)
			assert.True(t, f.Registered)
			assert.Equal(t, domain.StatusUnknown, f.Status)
			assert.True(t, departs.Equal(f.UpdatedAt))

			policies, err := tx.FlightPolicies(ctx, key)
			require.NoError(t, err)
			require.Len(t, policies, 2)
			assert.Equal(t, domain.Address("alice"), policies[0].Passenger)
			assert.Equal(t, domain.Unit/2, policies[1].Premium)

			p, err := tx.Policy(ctx, "alice", key)
			require.NoError(t, err)
			assert.Equal(t, domain.Unit, p.Premium)

			balances, err := tx.Balances(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[domain.Address]domain.Amount{"carol": 3 * domain.Unit}, balances)

			o, err := tx.Oracle(ctx, "oracle-01")
			require.NoError(t, err)
			assert.Equal(t, [3]uint8{7, 1, 4}, o.Indexes)

			r, err := tx.Request(ctx, rk)
			require.NoError(t, err)
			assert.Equal(t, domain.Address("alice"), r.Requester)
			assert.Equal(t, []domain.Address{"oracle-01"}, r.Responses[domain.StatusOnTime])
			return nil
		}))
	})

	t.Run("failed update leaves no trace", func(t *testing.T) {
		err := s.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.SaveBalance(ctx, "carol", 0))
			require.NoError(t, tx.SaveAirline(ctx, domain.Airline{Address: "airline-09", Registered: true}))
			require.NoError(t, tx.SaveWithdrawal(ctx, domain.Withdrawal{ID: "w-0", Passenger: "carol", Amount: 3 * domain.Unit, CreatedAt: departs}))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			b, err := tx.Balance(ctx, "carol")
			require.NoError(t, err)
			assert.Equal(t, 3*domain.Unit, b)
			_, err = tx.Airline(ctx, "airline-09")
			assert.ErrorIs(t, err, ErrNotFound)
			pending, err := tx.PendingWithdrawals(ctx)
			require.NoError(t, err)
			assert.Empty(t, pending)
			return nil
		}))
	})

	t.Run("withdrawal outbox tracks disbursement", func(t *testing.T) {
		first := domain.Withdrawal{ID: "w-1", Passenger: "carol", Amount: domain.Unit, CreatedAt: departs}
		second := domain.Withdrawal{ID: "w-2", Passenger: "dave", Amount: 2 * domain.Unit, CreatedAt: departs}
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.SaveWithdrawal(ctx, first))
			return tx.SaveWithdrawal(ctx, second)
		}))

		pending := func() []domain.Withdrawal {
			var out []domain.Withdrawal
			require.NoError(t, s.View(ctx, func(tx Tx) error {
				var err error
				out, err = tx.PendingWithdrawals(ctx)
				return err
			}))
			return out
		}
		got := pending()
		require.Len(t, got, 2)
		assert.Equal(t, "w-1", got[0].ID)
		assert.Equal(t, domain.Address("dave"), got[1].Passenger)
		assert.Equal(t, 2*domain.Unit, got[1].Amount)
		assert.False(t, got[1].Disbursed)

		first.Disbursed = true
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.SaveWithdrawal(ctx, first)
		}))
		got = pending()
		require.Len(t, got, 1)
		assert.Equal(t, "w-2", got[0].ID)

		err := s.Update(ctx, func(tx Tx) error {
			return tx.SaveWithdrawal(ctx, domain.Withdrawal{Passenger: "carol", Amount: domain.Unit, CreatedAt: departs})
		})
		assert.ErrorIs(t, err, ErrConstraint)
	})

	t.Run("updates replace records", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			a, err := tx.Airline(ctx, "airline-05")
			require.NoError(t, err)
			a.Voters = append(a.Voters, "airline-03")
			a.Registered = true
			require.NoError(t, tx.SaveAirline(ctx, a))

			r, err := tx.Request(ctx, rk)
			require.NoError(t, err)
			r.Responses[domain.StatusLateAirline] = []domain.Address{"oracle-02", "oracle-03", "oracle-04"}
			r.Settled = true
			r.Outcome = domain.StatusLateAirline
			require.NoError(t, tx.SaveRequest(ctx, r))

			return tx.SavePolicy(ctx, domain.Policy{Passenger: "alice", Flight: key, Premium: domain.Unit, Credited: true})
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			a, err := tx.Airline(ctx, "airline-05")
			require.NoError(t, err)
			assert.True(t, a.Registered)
			assert.Equal(t, []domain.Address{"airline-02", "airline-01", "airline-03"}, a.Voters)

			r, err := tx.Request(ctx, rk)
			require.NoError(t, err)
			assert.True(t, r.Settled)
			assert.Equal(t, domain.StatusLateAirline, r.Outcome)
			assert.Len(t, r.Responses[domain.StatusLateAirline], 3)
			assert.Len(t, r.Responses[domain.StatusOnTime], 1)

			p, err := tx.Policy(ctx, "alice", key)
			require.NoError(t, err)
			assert.True(t, p.Credited)
			return nil
		}))
	})

	t.Run("negative balance is rejected", func(t *testing.T) {
		err := s.Update(ctx, func(tx Tx) error {
			return tx.SaveBalance(ctx, "carol", -1)
		})
		assert.ErrorIs(t, err, ErrConstraint)
	})

	t.Run("view is read-only", func(t *testing.T) {
		err := s.View(ctx, func(tx Tx) error {
			return tx.SaveBalance(ctx, "carol", domain.Unit)
		})
		assert.ErrorIs(t, err, ErrReadOnly)
	})
}

func TestMemoryContract(t *testing.T) {
	runContract(t, NewMemory())
}

func TestMemoryIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	voters := []domain.Address{"airline-01"}
	require.NoError(t, m.Update(ctx, func(tx Tx) error {
		return tx.SaveAirline(ctx, domain.Airline{Address: "airline-05", Voters: voters})
	}))
	voters[0] = "tampered"

	require.NoError(t, m.View(ctx, func(tx Tx) error {
		a, err := tx.Airline(ctx, "airline-05")
		require.NoError(t, err)
		assert.Equal(t, []domain.Address{"airline-01"}, a.Voters)
		a.Voters[0] = "tampered"
		return nil
	}))

	require.NoError(t, m.View(ctx, func(tx Tx) error {
		a, err := tx.Airline(ctx, "airline-05")
		require.NoError(t, err)
		assert.Equal(t, domain.Address("airline-01"), a.Voters[0])
		return nil
	}))
}

func TestMemoryWithdrawalsOutbox(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.SaveWithdrawal(ctx, domain.Withdrawal{ID: "b", Passenger: "alice", Amount: domain.Unit}))
		require.NoError(t, tx.SaveWithdrawal(ctx, domain.Withdrawal{ID: "a", Passenger: "bob", Amount: 2 * domain.Unit}))
		// Rewriting a staged record keeps its position.
		return tx.SaveWithdrawal(ctx, domain.Withdrawal{ID: "b", Passenger: "alice", Amount: domain.Unit, Disbursed: true})
	}))
	require.NoError(t, m.Update(ctx, func(tx Tx) error {
		return tx.SaveWithdrawal(ctx, domain.Withdrawal{ID: "c", Passenger: "carol", Amount: 3 * domain.Unit})
	}))

	w := m.Withdrawals()
	require.Len(t, w, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{w[0].ID, w[1].ID, w[2].ID})
	assert.True(t, w[0].Disbursed)

	require.NoError(t, m.View(ctx, func(tx Tx) error {
		pending, err := tx.PendingWithdrawals(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "a", pending[0].ID)
		assert.Equal(t, "c", pending[1].ID)
		return nil
	}))
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewMemory().Update(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
