package ingest

import (
	"testing"

	"github.com/koorukuroo/contest-engine/domain"
)

func TestHandleMessageFiltersOutOfBandPrice(t *testing.T) {
	i := New("wss://example.invalid", domain.SupportedCodes)

	var received []domain.Tick
	i.Subscribe(func(tick domain.Tick) {
		received = append(received, tick)
	})

	// Sane price within KRW-BTC's band.
	i.handleMessage([]byte(`{"code":"KRW-BTC","trade_price":50000000,"timestamp":1690000000000}`))
	// Obviously corrupt price, should be dropped.
	i.handleMessage([]byte(`{"code":"KRW-BTC","trade_price":1,"timestamp":1690000000000}`))
	// Missing code, should be dropped.
	i.handleMessage([]byte(`{"trade_price":50000000,"timestamp":1690000000000}`))

	if len(received) != 1 {
		t.Fatalf("expected exactly 1 tick to pass filtering, got %d", len(received))
	}
	if received[0].TradePrice != 50000000 {
		t.Fatalf("unexpected trade price: %v", received[0].TradePrice)
	}
}

func TestHandleMessageFansOutToAllSinks(t *testing.T) {
	i := New("wss://example.invalid", domain.SupportedCodes)

	var a, b int
	i.Subscribe(func(domain.Tick) { a++ })
	i.Subscribe(func(domain.Tick) { b++ })

	i.handleMessage([]byte(`{"code":"KRW-ETH","trade_price":3000000,"timestamp":1690000000000}`))

	if a != 1 || b != 1 {
		t.Fatalf("expected both sinks invoked once, got a=%d b=%d", a, b)
	}
}
