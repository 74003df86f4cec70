// Package tickarchive persists every ingested tick to Postgres and
// serves latest-price/history reads back out, with a Redis cache in
// front of the hot "latest price" path.
package tickarchive

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koorukuroo/contest-engine/cache"
	"github.com/koorukuroo/contest-engine/domain"
)

const (
	batchSize     = 100
	flushInterval = 1 * time.Second
)

// pgxIface is the slice of *pgxpool.Pool that Archive actually calls,
// narrowed so tests can substitute a fake without a live Postgres.
type pgxIface interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Archive is the Postgres-backed tick store. It batches inserts in
// memory and flushes on whichever comes first: batchSize rows or
// flushInterval elapsed, matching the teacher's periodic-persist shape
// in tickstore/service.go translated from file-append to a relational
// upsert.
type Archive struct {
	pool  pgxIface
	cache *cache.RedisCache

	mu      sync.Mutex
	pending []domain.Tick
}

func New(pool *pgxpool.Pool, rc *cache.RedisCache) *Archive {
	return &Archive{pool: pool, cache: rc}
}

// Ingest is the sink handed to ingest.Ingestor.Subscribe. It must not
// block: it only appends to the in-memory batch and refreshes the
// latest-price cache, both cheap in-process operations.
func (a *Archive) Ingest(tick domain.Tick) {
	a.mu.Lock()
	a.pending = append(a.pending, tick)
	full := len(a.pending) >= batchSize
	a.mu.Unlock()

	if a.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := cache.SetLatestTicker(ctx, a.cache, cache.LatestTickerPayload{
			Code:       tick.Code,
			TradePrice: tick.TradePrice,
			Timestamp:  tick.Timestamp,
		})
		cancel()
		if err != nil {
			log.Printf("[tickarchive] latest-price cache refresh failed for %s: %v", tick.Code, err)
		}
	}

	if full {
		a.flushNow(context.Background())
	}
}

// Run periodically flushes whatever has accumulated since the last
// batchSize-triggered flush, until ctx is cancelled.
func (a *Archive) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.flushNow(context.Background())
			return
		case <-ticker.C:
			a.flushNow(ctx)
		}
	}
}

func (a *Archive) flushNow(ctx context.Context) {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if err := a.BatchInsert(ctx, batch); err != nil {
		log.Printf("[tickarchive] batch insert of %d ticks failed: %v", len(batch), err)
	}
}

// BatchInsert upserts rows into tick_archive, last-writer-wins on the
// (code, ts) unique index.
func (a *Archive) BatchInsert(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const stmt = `
		INSERT INTO tick_archive (
			code, ts, trade_price, opening_price, high_price, low_price,
			prev_closing_price, trade_volume, acc_trade_volume,
			acc_trade_volume_24h, acc_trade_price, acc_trade_price_24h, ask_bid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code, ts) DO UPDATE SET
			trade_price = EXCLUDED.trade_price,
			opening_price = EXCLUDED.opening_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			prev_closing_price = EXCLUDED.prev_closing_price,
			trade_volume = EXCLUDED.trade_volume,
			acc_trade_volume = EXCLUDED.acc_trade_volume,
			acc_trade_volume_24h = EXCLUDED.acc_trade_volume_24h,
			acc_trade_price = EXCLUDED.acc_trade_price,
			acc_trade_price_24h = EXCLUDED.acc_trade_price_24h,
			ask_bid = EXCLUDED.ask_bid`

	for _, t := range ticks {
		batch.Queue(stmt,
			t.Code, t.At(), t.TradePrice, t.OpeningPrice, t.HighPrice, t.LowPrice,
			t.PrevClosingPrice, t.TradeVolume, t.AccTradeVolume,
			t.AccTradeVolume24h, t.AccTradePrice, t.AccTradePrice24h, t.AskBid,
		)
	}

	br := a.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ticks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recent tick for code, preferring the 1s
// Redis cache and falling back to Postgres on a miss.
func (a *Archive) Latest(ctx context.Context, code string) (*domain.Tick, error) {
	if a.cache != nil {
		payload, err := cache.GetLatestTicker(ctx, a.cache, code)
		if err == nil {
			return &domain.Tick{Code: payload.Code, TradePrice: payload.TradePrice, Timestamp: payload.Timestamp}, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.Printf("[tickarchive] latest-price cache read failed for %s: %v", code, err)
		}
	}

	const q = `
		SELECT code, ts, trade_price, opening_price, high_price, low_price,
			prev_closing_price, trade_volume, acc_trade_volume,
			acc_trade_volume_24h, acc_trade_price, acc_trade_price_24h, ask_bid
		FROM tick_archive
		WHERE code = $1
		ORDER BY ts DESC
		LIMIT 1`

	row := a.pool.QueryRow(ctx, q, code)
	tick, err := scanTick(row)
	if err != nil {
		return nil, err
	}
	return tick, nil
}

// Range returns up to limit ticks for code within [from, to], ordered
// oldest-first, for the candle/export read path.
func (a *Archive) Range(ctx context.Context, code string, from, to time.Time, limit int) ([]domain.Tick, error) {
	const q = `
		SELECT code, ts, trade_price, opening_price, high_price, low_price,
			prev_closing_price, trade_volume, acc_trade_volume,
			acc_trade_volume_24h, acc_trade_price, acc_trade_price_24h, ask_bid
		FROM tick_archive
		WHERE code = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
		LIMIT $4`

	rows, err := a.pool.Query(ctx, q, code, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tick
	for rows.Next() {
		tick, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tick)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTick(row scanner) (*domain.Tick, error) {
	var tick domain.Tick
	var ts time.Time
	err := row.Scan(
		&tick.Code, &ts, &tick.TradePrice, &tick.OpeningPrice, &tick.HighPrice, &tick.LowPrice,
		&tick.PrevClosingPrice, &tick.TradeVolume, &tick.AccTradeVolume,
		&tick.AccTradeVolume24h, &tick.AccTradePrice, &tick.AccTradePrice24h, &tick.AskBid,
	)
	if err != nil {
		return nil, err
	}
	tick.Timestamp = ts.UnixMilli()
	tick.TradeTimestamp = ts.UnixMilli()
	return &tick, nil
}
