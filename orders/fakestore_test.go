package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/money"
)

// fakeStore is an in-memory Store for property/unit tests, grounded on
// the teacher's map+mutex in-memory service style (oms/service.go).
// WithTx holds a single process-wide lock for the duration of fn,
// which is sufficient to exercise the atomic-guard semantics without a
// real database - the guard conditions are still evaluated exactly as
// the SQL would evaluate them.
type fakeStore struct {
	mu sync.Mutex

	participants map[uuid.UUID]*domain.Participant
	competitions map[uuid.UUID]*domain.Competition
	positions    map[string]*domain.Position // key: participantID.String()+":"+code
	orders       map[uuid.UUID]*domain.Order
	trades       []*domain.Trade
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[uuid.UUID]*domain.Participant),
		competitions: make(map[uuid.UUID]*domain.Competition),
		positions:    make(map[string]*domain.Position),
		orders:       make(map[uuid.UUID]*domain.Order),
	}
}

func posKey(participantID uuid.UUID, code string) string { return participantID.String() + ":" + code }

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, &fakeTx{s: f})
}

type fakeTx struct{ s *fakeStore }

var errNotFound = errors.New("not found")

func (t *fakeTx) GetParticipant(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error) {
	p, ok := t.s.participants[participantID]
	if !ok {
		return nil, errNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *fakeTx) GetCompetition(ctx context.Context, competitionID uuid.UUID) (*domain.Competition, error) {
	c, ok := t.s.competitions[competitionID]
	if !ok {
		return nil, errNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *fakeTx) GetPosition(ctx context.Context, participantID uuid.UUID, code string) (*domain.Position, error) {
	p, ok := t.s.positions[posKey(participantID, code)]
	if !ok {
		return nil, errNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *fakeTx) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, errNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) DebitBalance(ctx context.Context, participantID uuid.UUID, amount money.Decimal) (bool, error) {
	p, ok := t.s.participants[participantID]
	if !ok {
		return false, nil
	}
	if p.Balance.LessThan(amount) {
		return false, nil
	}
	p.Balance = p.Balance.Sub(amount)
	return true, nil
}

func (t *fakeTx) CreditBalance(ctx context.Context, participantID uuid.UUID, amount money.Decimal) error {
	p, ok := t.s.participants[participantID]
	if !ok {
		return errNotFound
	}
	p.Balance = p.Balance.Add(amount)
	return nil
}

func (t *fakeTx) DebitPositionQuantity(ctx context.Context, participantID uuid.UUID, code string, qty money.Decimal) (bool, error) {
	p, ok := t.s.positions[posKey(participantID, code)]
	if !ok || p.Quantity.LessThan(qty) {
		return false, nil
	}
	p.Quantity = p.Quantity.Sub(qty)
	return true, nil
}

func (t *fakeTx) CreditPositionQuantity(ctx context.Context, participantID uuid.UUID, code string, qty money.Decimal) (bool, error) {
	p, ok := t.s.positions[posKey(participantID, code)]
	if !ok {
		return false, nil
	}
	p.Quantity = p.Quantity.Add(qty)
	return true, nil
}

func (t *fakeTx) UpsertPositionBuy(ctx context.Context, participantID uuid.UUID, code string, qty, price money.Decimal) error {
	key := posKey(participantID, code)
	if p, ok := t.s.positions[key]; ok {
		newQty := p.Quantity.Add(qty)
		p.AvgBuyPrice = p.Quantity.Mul(p.AvgBuyPrice).Add(qty.Mul(price)).Div(newQty)
		p.Quantity = newQty
		p.UpdatedAt = time.Now()
		return nil
	}
	t.s.positions[key] = &domain.Position{
		ID: uuid.New(), ParticipantID: participantID, Code: code,
		Quantity: qty, AvgBuyPrice: price, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	return nil
}

func (t *fakeTx) DeletePositionIfDust(ctx context.Context, participantID uuid.UUID, code string) error {
	key := posKey(participantID, code)
	if p, ok := t.s.positions[key]; ok && p.Quantity.LessThanOrEqual(domain.PositionEpsilon) {
		delete(t.s.positions, key)
	}
	return nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *fakeTx) UpdateOrderFilled(ctx context.Context, orderID uuid.UUID, filledQty, filledPrice, fee money.Decimal, filledAt time.Time) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return errNotFound
	}
	o.Status = domain.OrderFilled
	o.FilledQuantity = filledQty
	o.FilledPrice = &filledPrice
	o.Fee = fee
	o.FilledAt = &filledAt
	return nil
}

func (t *fakeTx) UpdateOrderCancelled(ctx context.Context, orderID uuid.UUID, cancelledAt time.Time) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return errNotFound
	}
	o.Status = domain.OrderCancelled
	o.CancelledAt = &cancelledAt
	return nil
}

func (t *fakeTx) InsertTrade(ctx context.Context, tr *domain.Trade) error {
	cp := *tr
	t.s.trades = append(t.s.trades, &cp)
	return nil
}

// fakePriceSource is a PriceSource backed by a plain map, letting tests
// set the "market price" per code directly.
type fakePriceSource struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakePriceSource() *fakePriceSource {
	return &fakePriceSource{prices: make(map[string]float64)}
}

func (f *fakePriceSource) set(code string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[code] = price
}

func (f *fakePriceSource) Latest(ctx context.Context, code string) (*domain.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[code]
	if !ok {
		return nil, errNotFound
	}
	return &domain.Tick{Code: code, TradePrice: price, Timestamp: time.Now().UnixMilli()}, nil
}
