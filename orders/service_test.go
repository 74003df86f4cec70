package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/apperrors"
	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/money"
)

func mustDecimal(t *testing.T, s string) money.Decimal {
	t.Helper()
	d, err := money.New(s)
	if err != nil {
		t.Fatalf("money.New(%q): %v", s, err)
	}
	return d
}

type testFixture struct {
	store         *fakeStore
	prices        *fakePriceSource
	svc           *Service
	competitionID uuid.UUID
	participantID uuid.UUID
}

func newFixture(t *testing.T, initialBalance, feeRate string) *testFixture {
	t.Helper()
	store := newFakeStore()
	prices := newFakePriceSource()
	svc := NewService(store, prices, nil, nil)

	competitionID := uuid.New()
	store.competitions[competitionID] = &domain.Competition{
		ID:             competitionID,
		InitialBalance: mustDecimal(t, initialBalance),
		FeeRate:        mustDecimal(t, feeRate),
		StartTime:      time.Now().Add(-time.Hour),
		EndTime:        time.Now().Add(time.Hour),
		Status:         domain.CompetitionActive,
	}

	participantID := uuid.New()
	store.participants[participantID] = &domain.Participant{
		ID: participantID, CompetitionID: competitionID,
		Balance: mustDecimal(t, initialBalance), JoinedAt: time.Now(),
	}

	return &testFixture{store: store, prices: prices, svc: svc, competitionID: competitionID, participantID: participantID}
}

// Seed scenario 1: market buy that would overdraw is rejected, a
// smaller quantity succeeds and opens the expected position.
func TestSeedScenario1MarketBuyInsufficientThenSuccess(t *testing.T) {
	f := newFixture(t, "1000000", "0.0005")
	f.prices.set("KRW-BTC", 100000000)

	_, err := f.svc.CreateMarketOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-BTC", Side: domain.SideBuy,
		OrderType: domain.OrderMarket, Quantity: mustDecimal(t, "0.01"), ClientPrice: mustDecimal(t, "100000000"),
	})
	if kind, ok := apperrors.KindOf(err); !ok || kind != apperrors.InsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}

	order, err := f.svc.CreateMarketOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-BTC", Side: domain.SideBuy,
		OrderType: domain.OrderMarket, Quantity: mustDecimal(t, "0.005"), ClientPrice: mustDecimal(t, "100000000"),
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !order.IsFilled() {
		t.Fatalf("expected filled order, got status %v", order.Status)
	}

	p := f.store.participants[f.participantID]
	want := mustDecimal(t, "499750.00000000")
	if !p.Balance.Equal(want) {
		t.Fatalf("expected balance %v, got %v", want, p.Balance)
	}

	pos := f.store.positions[posKey(f.participantID, "KRW-BTC")]
	if pos == nil || !pos.Quantity.Equal(mustDecimal(t, "0.005")) {
		t.Fatalf("expected position quantity 0.005, got %+v", pos)
	}
}

// Crossing escalation: a limit buy at or above market
// price escalates to an immediate market fill at the market price, not
// the limit price.
func TestCrossingLimitBuyEscalatesToMarketPrice(t *testing.T) {
	f := newFixture(t, "10000000", "0.0005")
	f.prices.set("KRW-ETH", 5000000)

	price := mustDecimal(t, "5200000") // above market, within the ±10% band, crosses
	order, err := f.svc.CreateLimitOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-ETH", Side: domain.SideBuy,
		OrderType: domain.OrderLimit, Quantity: mustDecimal(t, "0.1"), Price: &price,
	})
	if err != nil {
		t.Fatalf("expected escalation to succeed, got %v", err)
	}
	if !order.IsFilled() {
		t.Fatalf("expected filled order after escalation, got %v", order.Status)
	}
	if !order.FilledPrice.Equal(mustDecimal(t, "5000000")) {
		t.Fatalf("expected fill at market price 5000000, got %v", order.FilledPrice)
	}
}

// A limit buy more than 10% below market is rejected rather than left
// resting or escalated.
func TestLimitPriceBeyondDeviationToleranceRejected(t *testing.T) {
	f := newFixture(t, "10000000", "0.0005")
	f.prices.set("KRW-ETH", 5000000)

	price := mustDecimal(t, "4400000") // 12% below market
	_, err := f.svc.CreateLimitOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-ETH", Side: domain.SideBuy,
		OrderType: domain.OrderLimit, Quantity: mustDecimal(t, "0.1"), Price: &price,
	})
	if kind, ok := apperrors.KindOf(err); !ok || kind != apperrors.PriceOutOfBand {
		t.Fatalf("expected PriceOutOfBand, got %v", err)
	}
}

// Seed scenario 4: a resting limit buy fills below its limit price on a
// favorable tick and the saved difference is refunded to balance.
func TestSeedScenario4LimitFillRefundsSavings(t *testing.T) {
	f := newFixture(t, "10000000", "0.0005")
	f.prices.set("KRW-BTC", 100000000)

	price := mustDecimal(t, "95000000")
	order, err := f.svc.CreateLimitOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-BTC", Side: domain.SideBuy,
		OrderType: domain.OrderLimit, Quantity: mustDecimal(t, "0.01"), Price: &price,
	})
	if err != nil {
		t.Fatalf("expected reserved pending order, got %v", err)
	}
	if !order.IsPending() {
		t.Fatalf("expected pending order, got %v", order.Status)
	}

	reservedBalance := mustDecimal(t, "9049525.00000000") // 10_000_000 - (950_000 + 475)
	p := f.store.participants[f.participantID]
	if !p.Balance.Equal(reservedBalance) {
		t.Fatalf("expected reserved balance %v, got %v", reservedBalance, p.Balance)
	}

	if err := f.svc.ExecuteLimit(context.Background(), order.ID, mustDecimal(t, "94000000")); err != nil {
		t.Fatalf("execute limit: %v", err)
	}

	filled := f.store.orders[order.ID]
	if !filled.IsFilled() {
		t.Fatalf("expected order filled, got %v", filled.Status)
	}

	refunded := reservedBalance.Add(mustDecimal(t, "10000")) // (95M-94M)*0.01
	got := f.store.participants[f.participantID].Balance
	if !got.Equal(refunded) {
		t.Fatalf("expected balance %v after refund, got %v", refunded, got)
	}

	pos := f.store.positions[posKey(f.participantID, "KRW-BTC")]
	if pos == nil || !pos.AvgBuyPrice.Equal(mustDecimal(t, "94000000")) {
		t.Fatalf("expected position avg price 94000000, got %+v", pos)
	}
}

// Seed scenario 6 (partial, no Redis needed): cancelling an older
// pending sell after the position was already fully drained by a
// market sell must UPSERT the position back rather than erroring.
func TestSeedScenario6CancelReinstatesDrainedPosition(t *testing.T) {
	f := newFixture(t, "1000000", "0")
	f.prices.set("KRW-XRP", 500)
	f.store.positions[posKey(f.participantID, "KRW-XRP")] = &domain.Position{
		ID: uuid.New(), ParticipantID: f.participantID, Code: "KRW-XRP",
		Quantity: mustDecimal(t, "200"), AvgBuyPrice: mustDecimal(t, "500"),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	price := mustDecimal(t, "550") // 10% above market, resting (not crossing)
	pendingSell, err := f.svc.CreateLimitOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-XRP", Side: domain.SideSell,
		OrderType: domain.OrderLimit, Quantity: mustDecimal(t, "100"), Price: &price,
	})
	if err != nil {
		t.Fatalf("reserve pending sell: %v", err)
	}

	// Drain the remainder of the position with a market sell.
	_, err = f.svc.CreateMarketOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-XRP", Side: domain.SideSell,
		OrderType: domain.OrderMarket, Quantity: mustDecimal(t, "100"), ClientPrice: mustDecimal(t, "500"),
	})
	if err != nil {
		t.Fatalf("drain position: %v", err)
	}
	if _, ok := f.store.positions[posKey(f.participantID, "KRW-XRP")]; ok {
		t.Fatalf("expected position to be ε-cleaned after fully draining")
	}

	if err := f.svc.CancelOrder(context.Background(), pendingSell.ID); err != nil {
		t.Fatalf("cancel should reinstate the position, got %v", err)
	}

	pos := f.store.positions[posKey(f.participantID, "KRW-XRP")]
	if pos == nil || !pos.Quantity.Equal(mustDecimal(t, "100")) {
		t.Fatalf("expected position reinstated at quantity 100, got %+v", pos)
	}

	cancelled := f.store.orders[pendingSell.ID]
	if cancelled.Status != domain.OrderCancelled {
		t.Fatalf("expected order cancelled, got %v", cancelled.Status)
	}
}

// CompetitionClosed: orders are rejected once a competition has ended.
func TestOrderRejectedWhenCompetitionNotActive(t *testing.T) {
	f := newFixture(t, "1000000", "0.0005")
	f.prices.set("KRW-BTC", 100000000)
	comp := f.store.competitions[f.competitionID]
	comp.Status = domain.CompetitionEnded

	_, err := f.svc.CreateMarketOrder(context.Background(), CreateOrderRequest{
		ParticipantID: f.participantID, Code: "KRW-BTC", Side: domain.SideBuy,
		OrderType: domain.OrderMarket, Quantity: mustDecimal(t, "0.001"), ClientPrice: mustDecimal(t, "100000000"),
	})
	if kind, ok := apperrors.KindOf(err); !ok || kind != apperrors.CompetitionClosed {
		t.Fatalf("expected CompetitionClosed, got %v", err)
	}
}
