package queries

import (
	"testing"

	"github.com/google/uuid"

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

func TestRankEntriesSortsByBalanceNotTotalValue(t *testing.T) {
	leader := uuid.New()
	underwater := uuid.New()

	entries := []LeaderboardEntry{
		// Sitting on a large unrealized position but a modest cash
		// balance - should NOT outrank the balance leader despite a
		// higher total_value, per the (a) decision in DESIGN.md.
		{ParticipantID: underwater, Balance: mustDecimal(t, "100000"), CoinValue: mustDecimal(t, "9000000")},
		{ParticipantID: leader, Balance: mustDecimal(t, "5000000"), CoinValue: mustDecimal(t, "0")},
	}

	ranked := rankEntries(entries, mustDecimal(t, "1000000"))

	if ranked[0].ParticipantID != leader {
		t.Fatalf("expected the higher-balance participant to rank first, got %v", ranked[0].ParticipantID)
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Fatalf("expected ranks 1 and 2, got %d and %d", ranked[0].Rank, ranked[1].Rank)
	}
	if !ranked[1].TotalValue.GreaterThan(ranked[0].TotalValue) {
		t.Fatalf("expected the second-ranked entry to still carry the larger total_value")
	}
}

func TestRankEntriesProfitRate(t *testing.T) {
	id := uuid.New()
	entries := []LeaderboardEntry{
		{ParticipantID: id, Balance: mustDecimal(t, "1100000"), CoinValue: mustDecimal(t, "0"), Reserved: mustDecimal(t, "0")},
	}

	ranked := rankEntries(entries, mustDecimal(t, "1000000"))

	if ranked[0].ProfitRate <= 0 {
		t.Fatalf("expected a positive profit rate, got %v", ranked[0].ProfitRate)
	}
	want := 0.1
	got := ranked[0].ProfitRate
	if got < want-0.0001 || got > want+0.0001 {
		t.Fatalf("expected profit_rate ~%v, got %v", want, got)
	}
}

func TestRankEntriesZeroInitialBalanceLeavesProfitRateZero(t *testing.T) {
	entries := []LeaderboardEntry{
		{ParticipantID: uuid.New(), Balance: mustDecimal(t, "500")},
	}
	ranked := rankEntries(entries, mustDecimal(t, "0"))
	if ranked[0].ProfitRate != 0 {
		t.Fatalf("expected profit_rate 0 when initial balance is 0, got %v", ranked[0].ProfitRate)
	}
}

func TestReservedValueBuyIncludesFee(t *testing.T) {
	got := reservedValue(domain.SideBuy, "KRW-BTC", mustDecimal(t, "100"), mustDecimal(t, "2"), mustDecimal(t, "0.01"), nil)
	want := mustDecimal(t, "202") // 100*2 + (100*2)*0.01
	if !got.Equal(want) {
		t.Fatalf("reservedValue(buy) = %s, want %s", got.String(), want.String())
	}
}

// TestReservedValueSellUsesMarkPriceNoFee is the regression case for a
// pending sell limit order: it must be valued at the current mark
// price rather than the order's own limit price, and carry no fee.
func TestReservedValueSellUsesMarkPriceNoFee(t *testing.T) {
	prices := map[string]money.Decimal{"KRW-BTC": mustDecimal(t, "150")}
	got := reservedValue(domain.SideSell, "KRW-BTC", mustDecimal(t, "100"), mustDecimal(t, "2"), mustDecimal(t, "0.01"), prices)
	want := mustDecimal(t, "300") // 2 * 150 mark price, order's own 100 limit price and the fee rate both ignored
	if !got.Equal(want) {
		t.Fatalf("reservedValue(sell) = %s, want %s", got.String(), want.String())
	}
}

func TestReservedValueSellUnpricedCodeContributesNothing(t *testing.T) {
	got := reservedValue(domain.SideSell, "KRW-DOGE", mustDecimal(t, "100"), mustDecimal(t, "2"), mustDecimal(t, "0.01"), nil)
	if !got.IsZero() {
		t.Fatalf("reservedValue(sell, unpriced) = %s, want zero", got.String())
	}
}

// TestLeaderboardReservedIncludesBothSides exercises rankEntries as
// Leaderboard itself would assemble it from reservedValue, confirming
// a participant with an open sell order isn't under-counted alongside
// one with an open buy order.
func TestLeaderboardReservedIncludesBothSides(t *testing.T) {
	buyer := uuid.New()
	seller := uuid.New()
	prices := map[string]money.Decimal{"KRW-BTC": mustDecimal(t, "150")}

	entries := []LeaderboardEntry{
		{ParticipantID: buyer, Balance: mustDecimal(t, "1000")},
		{ParticipantID: seller, Balance: mustDecimal(t, "1000")},
	}
	entries[0].Reserved = entries[0].Reserved.Add(
		reservedValue(domain.SideBuy, "KRW-BTC", mustDecimal(t, "100"), mustDecimal(t, "1"), mustDecimal(t, "0.01"), prices))
	entries[1].Reserved = entries[1].Reserved.Add(
		reservedValue(domain.SideSell, "KRW-BTC", mustDecimal(t, "100"), mustDecimal(t, "1"), mustDecimal(t, "0.01"), prices))

	if entries[1].Reserved.IsZero() {
		t.Fatalf("seller's pending sell order must contribute reserved value")
	}

	ranked := rankEntries(entries, mustDecimal(t, "1000"))
	for _, e := range ranked {
		if e.ParticipantID == seller && e.TotalValue.Equal(e.Balance) {
			t.Fatalf("seller's total_value must include reserved coin value, got %s == balance", e.TotalValue.String())
		}
	}
}

func TestNullDecimalScanNilIsAbsent(t *testing.T) {
	var dst money.Decimal
	var has bool
	n := scanNullable(&dst, &has)
	if err := n.Scan(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Fatalf("expected has=false for a nil source")
	}
}

func TestNullDecimalScanPresentValue(t *testing.T) {
	var dst money.Decimal
	var has bool
	n := scanNullable(&dst, &has)
	if err := n.Scan("123.45"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Fatalf("expected has=true for a non-nil source")
	}
	want := mustDecimal(t, "123.45")
	if !dst.Equal(want) {
		t.Fatalf("expected 123.45, got %s", dst.String())
	}
}
