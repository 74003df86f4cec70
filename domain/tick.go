package domain

import "time"

// Tick is one market-data update for one code, as received from the
// upstream ticker feed. Unknown fields on the wire are ignored; the
// fields below are the ones the core actually touches.
type Tick struct {
	Code               string  `json:"code"`
	TradePrice         float64 `json:"trade_price"`
	OpeningPrice       float64 `json:"opening_price"`
	HighPrice          float64 `json:"high_price"`
	LowPrice           float64 `json:"low_price"`
	PrevClosingPrice   float64 `json:"prev_closing_price"`
	TradeVolume        float64 `json:"trade_volume"`
	AccTradeVolume     float64 `json:"acc_trade_volume"`
	AccTradeVolume24h  float64 `json:"acc_trade_volume_24h"`
	AccTradePrice      float64 `json:"acc_trade_price"`
	AccTradePrice24h   float64 `json:"acc_trade_price_24h"`
	TradeTimestamp     int64   `json:"trade_timestamp"`
	Timestamp          int64   `json:"timestamp"`
	AskBid             string  `json:"ask_bid"`
}

// At returns the tick's timestamp as a time.Time; upstream sends epoch
// milliseconds.
func (t *Tick) At() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// PriceRange is a hard-coded per-code sanity band. Any order price or
// market price outside this range is rejected regardless of how it
// was sourced.
type PriceRange struct {
	Min float64
	Max float64
}

// SanityBands are broad KRW ranges wide enough that no real market move
// should ever trip them; they exist purely to catch corrupt/garbage
// prices (a zero, a unit mistake, a test fixture leaking into prod).
var SanityBands = map[string]PriceRange{
	"KRW-BTC":   {Min: 2.5e7, Max: 4e8},
	"KRW-ETH":   {Min: 1e6, Max: 2e7},
	"KRW-XRP":   {Min: 100, Max: 1e4},
	"KRW-SOL":   {Min: 2e4, Max: 1e6},
	"KRW-DOGE":  {Min: 50, Max: 4e3},
	"KRW-ADA":   {Min: 100, Max: 6e3},
	"KRW-AVAX":  {Min: 5e3, Max: 4e5},
	"KRW-DOT":   {Min: 1e3, Max: 1e5},
	"KRW-LINK":  {Min: 2e3, Max: 2e5},
	"KRW-MATIC": {Min: 100, Max: 1e4},
}

// SupportedCodes is the fixed universe the ingestor subscribes to
// upstream.
var SupportedCodes = []string{
	"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL", "KRW-DOGE",
	"KRW-ADA", "KRW-AVAX", "KRW-DOT", "KRW-LINK", "KRW-MATIC",
}

// InSanityBand reports whether price is within the hard-coded band for
// code. Codes with no configured band pass unconditionally.
func InSanityBand(code string, price float64) bool {
	band, ok := SanityBands[code]
	if !ok {
		return true
	}
	return price >= band.Min && price <= band.Max
}
