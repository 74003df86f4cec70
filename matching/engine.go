// Package matching watches the tick stream for codes with resting
// limit orders and fills them against the order service.
package matching

import (
	"context"
	"log"
	"time"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/logging"
	"github.com/koorukuroo/contest-engine/metrics"
	"github.com/koorukuroo/contest-engine/money"
	"github.com/koorukuroo/contest-engine/orders"
)

// Engine matches resting limit orders against each incoming tick. One
// Engine instance is meant to be registered once via ingest.Subscribe;
// ProcessTick is safe to call concurrently but does no internal
// batching - the ingestor calls sinks synchronously, so a slow match
// pass here backs up ingest. Keep both query and fill fast.
type Engine struct {
	query orders.PendingOrderQuery
	svc   *orders.Service
}

func New(query orders.PendingOrderQuery, svc *orders.Service) *Engine {
	return &Engine{query: query, svc: svc}
}

// OnTick adapts Engine to the ingest.Ingestor sink signature
// (func(domain.Tick)) via Ingestor.Subscribe.
func (e *Engine) OnTick(tick domain.Tick) {
	n := e.ProcessTick(context.Background(), tick)
	if n > 0 {
		log.Printf("[matching] filled %d order(s) for %s @ %v", n, tick.Code, tick.TradePrice)
	}
}

// ProcessTick checks every resting limit order on tick.Code for a
// fill at tick.TradePrice and executes each eligible one, oldest
// first. A buy order fills when its limit price is at or above the
// current price (willing to pay at least that much); a sell order
// fills when its limit price is at or below the current price
// (willing to accept at most that much). Orders are processed FIFO by
// creation time within each side. A failure on one order is logged
// and does not stop the rest of the batch.
func (e *Engine) ProcessTick(ctx context.Context, tick domain.Tick) int {
	if tick.Code == "" || tick.TradePrice <= 0 {
		return 0
	}
	start := time.Now()
	currentPrice := money.NewFromFloat(tick.TradePrice)

	filled := 0
	filled += e.fillSide(ctx, tick.Code, domain.SideBuy, currentPrice)
	filled += e.fillSide(ctx, tick.Code, domain.SideSell, currentPrice)
	metrics.MatchingFillLatency.Observe(float64(time.Since(start).Milliseconds()))
	return filled
}

func (e *Engine) fillSide(ctx context.Context, code string, side domain.OrderSide, currentPrice money.Decimal) int {
	pending, err := e.query.PendingLimitOrders(ctx, code, side, currentPrice)
	if err != nil {
		log.Printf("[matching] query pending %s orders for %s: %v", side, code, err)
		return 0
	}

	filled := 0
	for _, order := range pending {
		if err := e.executeOne(ctx, order, currentPrice); err != nil {
			log.Printf("[matching] fill failed for order %s: %v", order.ID, err)
			logging.TrackError(ctx, err, "error", map[string]interface{}{
				"order_id": order.ID.String(), "code": code, "side": string(side),
			})
			continue
		}
		metrics.MatchingFillsTotal.WithLabelValues(code, string(side)).Inc()
		filled++
	}
	return filled
}

// executeOne recovers from a panicking execution path so one bad
// order never aborts the rest of the tick's batch.
func (e *Engine) executeOne(ctx context.Context, order *domain.Order, currentPrice money.Decimal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return e.svc.ExecuteLimit(ctx, order.ID, currentPrice)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "recovered panic in matching: " + errString(p.v) }

func errString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-error panic value"
}
