package store

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/flightsurety/internal/domain"
)

type tables struct {
	control     *domain.Control
	airlines    map[domain.Address]domain.Airline
	flights     map[domain.FlightKey]domain.Flight
	policies    map[domain.FlightKey]map[domain.Address]domain.Policy
	balances    map[domain.Address]domain.Amount
	oracles     map[domain.Address]domain.Oracle
	requests    map[domain.RequestKey]domain.OracleRequest
	withdrawals map[string]domain.Withdrawal

	// order holds withdrawal ids in first-write order.
	order []string
}

func newTables() *tables {
	return &tables{
		airlines:    make(map[domain.Address]domain.Airline),
		flights:     make(map[domain.FlightKey]domain.Flight),
		policies:    make(map[domain.FlightKey]map[domain.Address]domain.Policy),
		balances:    make(map[domain.Address]domain.Amount),
		oracles:     make(map[domain.Address]domain.Oracle),
		requests:    make(map[domain.RequestKey]domain.OracleRequest),
		withdrawals: make(map[string]domain.Withdrawal),
	}
}

// Memory is an in-process Store. Update holds an exclusive lock for the whole
// transaction and stages writes in an overlay that is merged only on success.
type Memory struct {
	mu    sync.RWMutex
	state *tables
}

func NewMemory() *Memory {
	return &Memory{state: newTables()}
}

func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m.state, dirty: newTables(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: m.state, dirty: newTables()})
}

func (m *Memory) Close() {}

// Withdrawals returns every outbox record in first-write order.
func (m *Memory) Withdrawals() []domain.Withdrawal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Withdrawal, 0, len(m.state.order))
	for _, id := range m.state.order {
		out = append(out, m.state.withdrawals[id])
	}
	return out
}

type memTx struct {
	base     *tables
	dirty    *tables
	writable bool
}

func (t *memTx) commit() {
	if t.dirty.control != nil {
		c := *t.dirty.control
		t.base.control = &c
	}
	for k, v := range t.dirty.airlines {
		t.base.airlines[k] = v
	}
	for k, v := range t.dirty.flights {
		t.base.flights[k] = v
	}
	for fk, byPassenger := range t.dirty.policies {
		dst, ok := t.base.policies[fk]
		if !ok {
			dst = make(map[domain.Address]domain.Policy)
			t.base.policies[fk] = dst
		}
		for p, v := range byPassenger {
			dst[p] = v
		}
	}
	for k, v := range t.dirty.balances {
		t.base.balances[k] = v
	}
	for k, v := range t.dirty.oracles {
		t.base.oracles[k] = v
	}
	for k, v := range t.dirty.requests {
		t.base.requests[k] = v
	}
	for k, v := range t.dirty.withdrawals {
		t.base.withdrawals[k] = v
	}
	t.base.order = append(t.base.order, t.dirty.order...)
}

func (t *memTx) checkWritable() error {
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *memTx) Control(ctx context.Context) (domain.Control, error) {
	if t.dirty.control != nil {
		return *t.dirty.control, nil
	}
	if t.base.control != nil {
		return *t.base.control, nil
	}
	return domain.Control{}, ErrNotFound
}

func (t *memTx) SaveControl(ctx context.Context, c domain.Control) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.dirty.control = &c
	return nil
}

func (t *memTx) Airline(ctx context.Context, addr domain.Address) (domain.Airline, error) {
	if a, ok := t.dirty.airlines[addr]; ok {
		return a.Clone(), nil
	}
	if a, ok := t.base.airlines[addr]; ok {
		return a.Clone(), nil
	}
	return domain.Airline{}, ErrNotFound
}

func (t *memTx) Airlines(ctx context.Context) ([]domain.Airline, error) {
	merged := make(map[domain.Address]domain.Airline, len(t.base.airlines)+len(t.dirty.airlines))
	for k, v := range t.base.airlines {
		merged[k] = v
	}
	for k, v := range t.dirty.airlines {
		merged[k] = v
	}
	out := make([]domain.Airline, 0, len(merged))
	for _, a := range merged {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (t *memTx) SaveAirline(ctx context.Context, a domain.Airline) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.dirty.airlines[a.Address] = a.Clone()
	return nil
}

func (t *memTx) Flight(ctx context.Context, key domain.FlightKey) (domain.Flight, error) {
	if f, ok := t.dirty.flights[key]; ok {
		return f, nil
	}
	if f, ok := t.base.flights[key]; ok {
		return f, nil
	}
	return domain.Flight{}, ErrNotFound
}

func (t *memTx) SaveFlight(ctx context.Context, f domain.Flight) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.dirty.flights[f.Key] = f
	return nil
}

func (t *memTx) Policy(ctx context.Context, passenger domain.Address, key domain.FlightKey) (domain.Policy, error) {
	if p, ok := t.dirty.policies[key][passenger]; ok {
		return p, nil
	}
	if p, ok := t.base.policies[key][passenger]; ok {
		return p, nil
	}
	return domain.Policy{}, ErrNotFound
}

func (t *memTx) FlightPolicies(ctx context.Context, key domain.FlightKey) ([]domain.Policy, error) {
	merged := make(map[domain.Address]domain.Policy)
	for p, v := range t.base.policies[key] {
		merged[p] = v
	}
	for p, v := range t.dirty.policies[key] {
		merged[p] = v
	}
	out := make([]domain.Policy, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Passenger < out[j].Passenger })
	return out, nil
}

func (t *memTx) SavePolicy(ctx context.Context, p domain.Policy) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	byPassenger, ok := t.dirty.policies[p.Flight]
	if !ok {
		byPassenger = make(map[domain.Address]domain.Policy)
		t.dirty.policies[p.Flight] = byPassenger
	}
	byPassenger[p.Passenger] = p
	return nil
}

func (t *memTx) Balance(ctx context.Context, passenger domain.Address) (domain.Amount, error) {
	if b, ok := t.dirty.balances[passenger]; ok {
		return b, nil
	}
	return t.base.balances[passenger], nil
}

func (t *memTx) Balances(ctx context.Context) (map[domain.Address]domain.Amount, error) {
	out := make(map[domain.Address]domain.Amount, len(t.base.balances))
	for k, v := range t.base.balances {
		out[k] = v
	}
	for k, v := range t.dirty.balances {
		out[k] = v
	}
	return out, nil
}

func (t *memTx) SaveBalance(ctx context.Context, passenger domain.Address, amount domain.Amount) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if amount < 0 {
		return ErrConstraint
	}
	t.dirty.balances[passenger] = amount
	return nil
}

func (t *memTx) Oracle(ctx context.Context, addr domain.Address) (domain.Oracle, error) {
	if o, ok := t.dirty.oracles[addr]; ok {
		return o, nil
	}
	if o, ok := t.base.oracles[addr]; ok {
		return o, nil
	}
	return domain.Oracle{}, ErrNotFound
}

func (t *memTx) SaveOracle(ctx context.Context, o domain.Oracle) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.dirty.oracles[o.Address] = o
	return nil
}

func (t *memTx) Request(ctx context.Context, key domain.RequestKey) (domain.OracleRequest, error) {
	if r, ok := t.dirty.requests[key]; ok {
		return r.Clone(), nil
	}
	if r, ok := t.base.requests[key]; ok {
		return r.Clone(), nil
	}
	return domain.OracleRequest{}, ErrNotFound
}

func (t *memTx) SaveRequest(ctx context.Context, r domain.OracleRequest) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.dirty.requests[r.Key] = r.Clone()
	return nil
}

func (t *memTx) SaveWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if w.ID == "" || w.Amount <= 0 {
		return ErrConstraint
	}
	_, staged := t.dirty.withdrawals[w.ID]
	_, stored := t.base.withdrawals[w.ID]
	if !staged && !stored {
		t.dirty.order = append(t.dirty.order, w.ID)
	}
	t.dirty.withdrawals[w.ID] = w
	return nil
}

func (t *memTx) PendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	var out []domain.Withdrawal
	for _, id := range append(append([]string(nil), t.base.order...), t.dirty.order...) {
		w, ok := t.dirty.withdrawals[id]
		if !ok {
			w = t.base.withdrawals[id]
		}
		if !w.Disbursed {
			out = append(out, w)
		}
	}
	return out, nil
}
