package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/money"
	"github.com/koorukuroo/contest-engine/orders"
)

// fakeStore is a minimal in-memory orders.Store + orders.PendingOrderQuery,
// just enough surface for the matching engine to resolve a fill.
type fakeStore struct {
	mu sync.Mutex

	participants map[uuid.UUID]*domain.Participant
	competitions map[uuid.UUID]*domain.Competition
	positions    map[string]*domain.Position
	orders       map[uuid.UUID]*domain.Order
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

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, &fakeTx{s: f})
}

func (f *fakeStore) PendingLimitOrders(ctx context.Context, code string, side domain.OrderSide, currentPrice money.Decimal) ([]*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Order
	for _, o := range f.orders {
		if o.Code != code || o.Status != domain.OrderPending || o.OrderType != domain.OrderLimit || o.Side != side {
			continue
		}
		eligible := false
		switch side {
		case domain.SideBuy:
			eligible = o.Price.GreaterThanOrEqual(currentPrice)
		case domain.SideSell:
			eligible = o.Price.LessThanOrEqual(currentPrice)
		}
		if eligible {
			cp := *o
			out = append(out, &cp)
		}
	}
	// Stable FIFO by creation time, oldest first.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
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
	if !ok || p.Balance.LessThan(amount) {
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

func (t *fakeTx) InsertTrade(ctx context.Context, tr *domain.Trade) error { return nil }

type fakePriceSource struct{ price float64 }

func (f fakePriceSource) Latest(ctx context.Context, code string) (*domain.Tick, error) {
	return &domain.Tick{Code: code, TradePrice: f.price}, nil
}

func mustDecimal(t *testing.T, s string) money.Decimal {
	t.Helper()
	d, err := money.New(s)
	if err != nil {
		t.Fatalf("money.New(%q): %v", s, err)
	}
	return d
}

// Two resting limit buys at different prices both fill on a tick that
// reaches both limits, oldest-created first; a resting sell above the
// tick price is left untouched.
func TestProcessTickFillsEligibleOrdersFIFO(t *testing.T) {
	store := newFakeStore()
	competitionID := uuid.New()
	store.competitions[competitionID] = &domain.Competition{
		ID: competitionID, FeeRate: mustDecimal(t, "0"),
		StartTime: time.Now().Add(-time.Hour), EndTime: time.Now().Add(time.Hour),
		Status: domain.CompetitionActive,
	}
	participantID := uuid.New()
	store.participants[participantID] = &domain.Participant{
		ID: participantID, CompetitionID: competitionID,
		Balance: mustDecimal(t, "100000000"), JoinedAt: time.Now(),
	}

	older := uuid.New()
	priceOlder := mustDecimal(t, "96000000")
	store.orders[older] = &domain.Order{
		ID: older, ParticipantID: participantID, Code: "KRW-BTC",
		Side: domain.SideBuy, OrderType: domain.OrderLimit, Status: domain.OrderPending,
		Quantity: mustDecimal(t, "0.01"), Price: &priceOlder, CreatedAt: time.Now().Add(-time.Minute),
	}
	newer := uuid.New()
	priceNewer := mustDecimal(t, "95500000")
	store.orders[newer] = &domain.Order{
		ID: newer, ParticipantID: participantID, Code: "KRW-BTC",
		Side: domain.SideBuy, OrderType: domain.OrderLimit, Status: domain.OrderPending,
		Quantity: mustDecimal(t, "0.01"), Price: &priceNewer, CreatedAt: time.Now(),
	}
	resting := uuid.New()
	priceResting := mustDecimal(t, "97000000")
	store.orders[resting] = &domain.Order{
		ID: resting, ParticipantID: participantID, Code: "KRW-BTC",
		Side: domain.SideSell, OrderType: domain.OrderLimit, Status: domain.OrderPending,
		Quantity: mustDecimal(t, "0.01"), Price: &priceResting, CreatedAt: time.Now(),
	}

	svc := orders.NewService(store, fakePriceSource{price: 95000000}, nil, nil)
	engine := New(store, svc)

	filled := engine.ProcessTick(context.Background(), domain.Tick{Code: "KRW-BTC", TradePrice: 95000000})
	if filled != 2 {
		t.Fatalf("expected 2 fills, got %d", filled)
	}

	if store.orders[older].Status != domain.OrderFilled {
		t.Fatalf("expected older order filled, got %v", store.orders[older].Status)
	}
	if store.orders[newer].Status != domain.OrderFilled {
		t.Fatalf("expected newer order filled, got %v", store.orders[newer].Status)
	}
	if store.orders[resting].Status != domain.OrderPending {
		t.Fatalf("expected resting sell untouched, got %v", store.orders[resting].Status)
	}
	if !store.orders[older].FilledPrice.Equal(mustDecimal(t, "95000000")) {
		t.Fatalf("expected fill at tick price, got %v", store.orders[older].FilledPrice)
	}
}

// A tick for a code with no resting orders is a no-op.
func TestProcessTickNoEligibleOrders(t *testing.T) {
	store := newFakeStore()
	svc := orders.NewService(store, fakePriceSource{price: 100}, nil, nil)
	engine := New(store, svc)

	filled := engine.ProcessTick(context.Background(), domain.Tick{Code: "KRW-XRP", TradePrice: 500})
	if filled != 0 {
		t.Fatalf("expected no fills, got %d", filled)
	}
}
