package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/flightsurety/internal/domain"
)

//go:embed schema.sql
var schema string

// ledgerLockKey is the advisory lock every Update takes, giving writers a total order.
const ledgerLockKey int64 = 0x5e7e7

type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

// Migrate creates the ledger tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.Db.Close()
}

func (p *Postgres) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return fmt.Errorf("ledger lock failed: %w", err)
	}

	if err := fn(&pgTx{tx: tx, writable: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (p *Postgres) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(&pgTx{tx: tx})
}

type pgTx struct {
	tx       pgx.Tx
	writable bool
}

func wrap(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%s: %w: %s", op, ErrConstraint, pgErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (t *pgTx) checkWritable() error {
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *pgTx) Control(ctx context.Context) (domain.Control, error) {
	var c domain.Control
	var owner string
	var nonce int64
	err := t.tx.QueryRow(ctx,
		"SELECT owner, operational, oracle_nonce, deposited, withdrawn, oracle_fees FROM ledger_control WHERE id = 1",
	).Scan(&owner, &c.Operational, &nonce, &c.Treasury.Deposited, &c.Treasury.Withdrawn, &c.Treasury.OracleFees)
	if err != nil {
		return domain.Control{}, wrap("control query failed", err)
	}
	c.Owner = domain.Address(owner)
	c.OracleNonce = uint64(nonce)
	return c, nil
}

func (t *pgTx) SaveControl(ctx context.Context, c domain.Control) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_control (id, owner, operational, oracle_nonce, deposited, withdrawn, oracle_fees)
		 VALUES (1, $1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET owner = $1, operational = $2, oracle_nonce = $3,
		   deposited = $4, withdrawn = $5, oracle_fees = $6`,
		string(c.Owner), c.Operational, int64(c.OracleNonce),
		int64(c.Treasury.Deposited), int64(c.Treasury.Withdrawn), int64(c.Treasury.OracleFees),
	)
	if err != nil {
		return wrap("control update failed", err)
	}
	return nil
}

func (t *pgTx) Airline(ctx context.Context, addr domain.Address) (domain.Airline, error) {
	a := domain.Airline{Address: addr}
	err := t.tx.QueryRow(ctx,
		"SELECT name, registered, funded, funds FROM airlines WHERE address = $1", string(addr),
	).Scan(&a.Name, &a.Registered, &a.Funded, &a.Funds)
	if err != nil {
		return domain.Airline{}, wrap("airline query failed", err)
	}

	rows, err := t.tx.Query(ctx,
		"SELECT voter FROM airline_votes WHERE candidate = $1 ORDER BY seq", string(addr))
	if err != nil {
		return domain.Airline{}, wrap("vote query failed", err)
	}
	voters, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return domain.Airline{}, wrap("vote scan failed", err)
	}
	for _, v := range voters {
		a.Voters = append(a.Voters, domain.Address(v))
	}
	return a, nil
}

func (t *pgTx) Airlines(ctx context.Context) ([]domain.Airline, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT address, name, registered, funded, funds FROM airlines ORDER BY address")
	if err != nil {
		return nil, wrap("airline list failed", err)
	}
	var out []domain.Airline
	index := make(map[domain.Address]int)
	for rows.Next() {
		var a domain.Airline
		var addr string
		if err := rows.Scan(&addr, &a.Name, &a.Registered, &a.Funded, &a.Funds); err != nil {
			rows.Close()
			return nil, wrap("airline scan failed", err)
		}
		a.Address = domain.Address(addr)
		index[a.Address] = len(out)
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("airline list failed", err)
	}

	votes, err := t.tx.Query(ctx, "SELECT candidate, voter FROM airline_votes ORDER BY candidate, seq")
	if err != nil {
		return nil, wrap("vote list failed", err)
	}
	defer votes.Close()
	for votes.Next() {
		var candidate, voter string
		if err := votes.Scan(&candidate, &voter); err != nil {
			return nil, wrap("vote scan failed", err)
		}
		if i, ok := index[domain.Address(candidate)]; ok {
			out[i].Voters = append(out[i].Voters, domain.Address(voter))
		}
	}
	return out, votes.Err()
}

func (t *pgTx) SaveAirline(ctx context.Context, a domain.Airline) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	b := &pgx.Batch{}
	b.Queue(
		`INSERT INTO airlines (address, name, registered, funded, funds) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address) DO UPDATE SET name = $2, registered = $3, funded = $4, funds = $5`,
		string(a.Address), a.Name, a.Registered, a.Funded, int64(a.Funds),
	)
	for i, v := range a.Voters {
		b.Queue(
			"INSERT INTO airline_votes (candidate, voter, seq) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			string(a.Address), string(v), i,
		)
	}
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		return wrap("airline update failed", err)
	}
	return nil
}

func (t *pgTx) Flight(ctx context.Context, key domain.FlightKey) (domain.Flight, error) {
	f := domain.Flight{Key: key}
	var status int16
	err := t.tx.QueryRow(ctx,
		"SELECT registered, status, updated_at FROM flights WHERE airline = $1 AND flight = $2 AND departs = $3",
		string(key.Airline), key.Flight, key.Timestamp,
	).Scan(&f.Registered, &status, &f.UpdatedAt)
	if err != nil {
		return domain.Flight{}, wrap("flight query failed", err)
	}
	f.Status = domain.StatusCode(status)
	return f, nil
}

func (t *pgTx) SaveFlight(ctx context.Context, f domain.Flight) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO flights (airline, flight, departs, registered, status, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (airline, flight, departs) DO UPDATE SET registered = $4, status = $5, updated_at = $6`,
		string(f.Key.Airline), f.Key.Flight, f.Key.Timestamp, f.Registered, int16(f.Status), f.UpdatedAt,
	)
	if err != nil {
		return wrap("flight update failed", err)
	}
	return nil
}

func (t *pgTx) Policy(ctx context.Context, passenger domain.Address, key domain.FlightKey) (domain.Policy, error) {
	p := domain.Policy{Passenger: passenger, Flight: key}
	err := t.tx.QueryRow(ctx,
		`SELECT premium, credited FROM policies
		 WHERE passenger = $1 AND airline = $2 AND flight = $3 AND departs = $4`,
		string(passenger), string(key.Airline), key.Flight, key.Timestamp,
	).Scan(&p.Premium, &p.Credited)
	if err != nil {
		return domain.Policy{}, wrap("policy query failed", err)
	}
	return p, nil
}

func (t *pgTx) FlightPolicies(ctx context.Context, key domain.FlightKey) ([]domain.Policy, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT passenger, premium, credited FROM policies
		 WHERE airline = $1 AND flight = $2 AND departs = $3 ORDER BY passenger`,
		string(key.Airline), key.Flight, key.Timestamp,
	)
	if err != nil {
		return nil, wrap("policy list failed", err)
	}
	defer rows.Close()

	var out []domain.Policy
	for rows.Next() {
		p := domain.Policy{Flight: key}
		var passenger string
		if err := rows.Scan(&passenger, &p.Premium, &p.Credited); err != nil {
			return nil, wrap("policy scan failed", err)
		}
		p.Passenger = domain.Address(passenger)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) SavePolicy(ctx context.Context, p domain.Policy) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO policies (passenger, airline, flight, departs, premium, credited) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (passenger, airline, flight, departs) DO UPDATE SET premium = $5, credited = $6`,
		string(p.Passenger), string(p.Flight.Airline), p.Flight.Flight, p.Flight.Timestamp, int64(p.Premium), p.Credited,
	)
	if err != nil {
		return wrap("policy update failed", err)
	}
	return nil
}

func (t *pgTx) Balance(ctx context.Context, passenger domain.Address) (domain.Amount, error) {
	var amount domain.Amount
	err := t.tx.QueryRow(ctx, "SELECT amount FROM balances WHERE passenger = $1", string(passenger)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("balance query failed", err)
	}
	return amount, nil
}

func (t *pgTx) Balances(ctx context.Context) (map[domain.Address]domain.Amount, error) {
	rows, err := t.tx.Query(ctx, "SELECT passenger, amount FROM balances")
	if err != nil {
		return nil, wrap("balance list failed", err)
	}
	defer rows.Close()

	out := make(map[domain.Address]domain.Amount)
	for rows.Next() {
		var passenger string
		var amount domain.Amount
		if err := rows.Scan(&passenger, &amount); err != nil {
			return nil, wrap("balance scan failed", err)
		}
		out[domain.Address(passenger)] = amount
	}
	return out, rows.Err()
}

func (t *pgTx) SaveBalance(ctx context.Context, passenger domain.Address, amount domain.Amount) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		"INSERT INTO balances (passenger, amount) VALUES ($1, $2) ON CONFLICT (passenger) DO UPDATE SET amount = $2",
		string(passenger), int64(amount),
	)
	if err != nil {
		return wrap("balance update failed", err)
	}
	return nil
}

func (t *pgTx) Oracle(ctx context.Context, addr domain.Address) (domain.Oracle, error) {
	o := domain.Oracle{Address: addr}
	var i0, i1, i2 int16
	err := t.tx.QueryRow(ctx, "SELECT idx0, idx1, idx2 FROM oracles WHERE address = $1", string(addr)).Scan(&i0, &i1, &i2)
	if err != nil {
		return domain.Oracle{}, wrap("oracle query failed", err)
	}
	o.Indexes = [domain.IndicesPerOracle]uint8{uint8(i0), uint8(i1), uint8(i2)}
	return o, nil
}

func (t *pgTx) SaveOracle(ctx context.Context, o domain.Oracle) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		"INSERT INTO oracles (address, idx0, idx1, idx2) VALUES ($1, $2, $3, $4)",
		string(o.Address), int16(o.Indexes[0]), int16(o.Indexes[1]), int16(o.Indexes[2]),
	)
	if err != nil {
		return wrap("oracle insert failed", err)
	}
	return nil
}

func (t *pgTx) Request(ctx context.Context, key domain.RequestKey) (domain.OracleRequest, error) {
	r := domain.OracleRequest{Key: key, Responses: make(map[domain.StatusCode][]domain.Address)}
	var requester string
	var outcome int16
	err := t.tx.QueryRow(ctx,
		`SELECT requester, settled, outcome FROM oracle_requests
		 WHERE idx = $1 AND airline = $2 AND flight = $3 AND departs = $4`,
		int16(key.Index), string(key.Flight.Airline), key.Flight.Flight, key.Flight.Timestamp,
	).Scan(&requester, &r.Settled, &outcome)
	if err != nil {
		return domain.OracleRequest{}, wrap("request query failed", err)
	}
	r.Requester = domain.Address(requester)
	r.Outcome = domain.StatusCode(outcome)

	rows, err := t.tx.Query(ctx,
		`SELECT status, oracle FROM oracle_responses
		 WHERE idx = $1 AND airline = $2 AND flight = $3 AND departs = $4 ORDER BY status, seq`,
		int16(key.Index), string(key.Flight.Airline), key.Flight.Flight, key.Flight.Timestamp,
	)
	if err != nil {
		return domain.OracleRequest{}, wrap("response query failed", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status int16
		var oracle string
		if err := rows.Scan(&status, &oracle); err != nil {
			return domain.OracleRequest{}, wrap("response scan failed", err)
		}
		code := domain.StatusCode(status)
		r.Responses[code] = append(r.Responses[code], domain.Address(oracle))
	}
	return r, rows.Err()
}

func (t *pgTx) SaveRequest(ctx context.Context, r domain.OracleRequest) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	k := r.Key
	b := &pgx.Batch{}
	b.Queue(
		`INSERT INTO oracle_requests (idx, airline, flight, departs, requester, settled, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (idx, airline, flight, departs) DO UPDATE SET settled = $6, outcome = $7`,
		int16(k.Index), string(k.Flight.Airline), k.Flight.Flight, k.Flight.Timestamp,
		string(r.Requester), r.Settled, int16(r.Outcome),
	)
	for code, voters := range r.Responses {
		for i, v := range voters {
			b.Queue(
				`INSERT INTO oracle_responses (idx, airline, flight, departs, oracle, status, seq)
				 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`,
				int16(k.Index), string(k.Flight.Airline), k.Flight.Flight, k.Flight.Timestamp,
				string(v), int16(code), i,
			)
		}
	}
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		return wrap("request update failed", err)
	}
	return nil
}

func (t *pgTx) SaveWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO withdrawals (id, passenger, amount, created_at, disbursed)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET disbursed = $5`,
		w.ID, string(w.Passenger), int64(w.Amount), w.CreatedAt, w.Disbursed,
	)
	if err != nil {
		return wrap("withdrawal update failed", err)
	}
	return nil
}

func (t *pgTx) PendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT id, passenger, amount, created_at FROM withdrawals WHERE NOT disbursed ORDER BY seq")
	if err != nil {
		return nil, wrap("withdrawal query failed", err)
	}
	defer rows.Close()
	var out []domain.Withdrawal
	for rows.Next() {
		var w domain.Withdrawal
		var passenger string
		if err := rows.Scan(&w.ID, &passenger, &w.Amount, &w.CreatedAt); err != nil {
			return nil, wrap("withdrawal scan failed", err)
		}
		w.Passenger = domain.Address(passenger)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("withdrawal query failed", err)
	}
	return out, nil
}
