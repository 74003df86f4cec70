package money

import (
	"encoding/json"
	"testing"
)

func TestAddSubRoundsToScale(t *testing.T) {
	a, err := New("100000000.123456789")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.String() != "100000000.12345679" {
		t.Fatalf("expected rounding to 8 places, got %s", a.String())
	}
}

func TestWeightedAverageCost(t *testing.T) {
	oldQty, _ := New("0.005")
	oldAvg, _ := New("100000000")
	addQty, _ := New("0.005")
	addPrice, _ := New("110000000")

	newQty := oldQty.Add(addQty)
	newAvg := oldAvg.Mul(oldQty).Add(addPrice.Mul(addQty)).Div(newQty)

	if newQty.String() != "0.01000000" {
		t.Fatalf("unexpected new quantity: %s", newQty.String())
	}
	if newAvg.String() != "105000000.00000000" {
		t.Fatalf("unexpected weighted avg: %s", newAvg.String())
	}
}

func TestDivByZeroIsZeroNotPanic(t *testing.T) {
	a, _ := New("10")
	if !a.Div(Zero).IsZero() {
		t.Fatalf("expected division by zero to yield Zero")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a, _ := New("1234.5")
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var c Decimal
	if err := c.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !a.Equal(c) {
		t.Fatalf("round trip mismatch: %s != %s", a, c)
	}
}
