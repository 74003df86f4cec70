// Package queries implements the read-through projections the thin
// HTTP surface serves: balance, positions, orders, trades, and the
// per-competition leaderboard. Nothing here mutates state - every
// write path lives in orders or competition.
package queries

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/money"
)

// Queries is the Postgres-backed read model.
type Queries struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// ParticipantByUser resolves the authenticated user's participant row
// within one competition. A user joins a competition at most once
// (uq (competition_id, user_id)), so this is always at most one row.
func (q *Queries) ParticipantByUser(ctx context.Context, userID, competitionID uuid.UUID) (*domain.Participant, error) {
	const query = `SELECT id, competition_id, user_id, balance, joined_at
		FROM participants WHERE user_id = $1 AND competition_id = $2`
	var p domain.Participant
	err := q.pool.QueryRow(ctx, query, userID, competitionID).Scan(&p.ID, &p.CompetitionID, &p.UserID, &p.Balance, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPositions returns every held position for participantID.
func (q *Queries) ListPositions(ctx context.Context, participantID uuid.UUID) ([]*domain.Position, error) {
	const query = `SELECT id, participant_id, code, quantity, avg_buy_price, created_at, updated_at
		FROM positions WHERE participant_id = $1 ORDER BY code`
	rows, err := q.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.ParticipantID, &p.Code, &p.Quantity, &p.AvgBuyPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListOrders returns every order ever placed by participantID, most
// recent first.
func (q *Queries) ListOrders(ctx context.Context, participantID uuid.UUID) ([]*domain.Order, error) {
	const query = `SELECT id, participant_id, code, side, order_type, quantity, price,
		filled_quantity, filled_price, fee, status, created_at, filled_at, cancelled_at
		FROM orders WHERE participant_id = $1 ORDER BY created_at DESC`
	rows, err := q.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListTrades returns every fill recorded for participantID, most
// recent first.
func (q *Queries) ListTrades(ctx context.Context, participantID uuid.UUID) ([]*domain.Trade, error) {
	const query = `SELECT id, order_id, participant_id, code, side, price, quantity, total_amount, fee, created_at
		FROM trades WHERE participant_id = $1 ORDER BY created_at DESC`
	rows, err := q.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.ParticipantID, &t.Code, &t.Side, &t.Price, &t.Quantity, &t.TotalAmount, &t.Fee, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		var o domain.Order
		var price, filledPrice money.Decimal
		var hasPrice, hasFilledPrice bool
		if err := rows.Scan(
			&o.ID, &o.ParticipantID, &o.Code, &o.Side, &o.OrderType, &o.Quantity, scanNullable(&price, &hasPrice),
			&o.FilledQuantity, scanNullable(&filledPrice, &hasFilledPrice), &o.Fee, &o.Status, &o.CreatedAt, &o.FilledAt, &o.CancelledAt,
		); err != nil {
			return nil, err
		}
		if hasPrice {
			o.Price = &price
		}
		if hasFilledPrice {
			o.FilledPrice = &filledPrice
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func scanNullable(dst *money.Decimal, has *bool) *nullDecimal {
	return &nullDecimal{dst: dst, has: has}
}

type nullDecimal struct {
	dst *money.Decimal
	has *bool
}

func (n *nullDecimal) Scan(src interface{}) error {
	if src == nil {
		*n.has = false
		return nil
	}
	*n.has = true
	return n.dst.Scan(src)
}

// LeaderboardEntry is one ranked row of GET /competitions/{id}/leaderboard.
type LeaderboardEntry struct {
	Rank          int           `json:"rank"`
	ParticipantID uuid.UUID     `json:"participant_id"`
	UserID        uuid.UUID     `json:"user_id"`
	Balance       money.Decimal `json:"balance"`
	CoinValue     money.Decimal `json:"coin_value"`
	Reserved      money.Decimal `json:"reserved"`
	TotalValue    money.Decimal `json:"total_value"`
	ProfitRate    float64       `json:"profit_rate"`
}

// Leaderboard ranks every participant of competitionID by cash balance
// (per the decision recorded in DESIGN.md, sort stays balance even
// though the payload also carries a total-value-derived profit_rate).
// currentPrices supplies the mark price per code for valuing open
// positions; a code with no entry marks at zero.
func (q *Queries) Leaderboard(ctx context.Context, competitionID uuid.UUID, currentPrices map[string]money.Decimal) ([]LeaderboardEntry, error) {
	comp, err := q.getCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	const participantQuery = `SELECT id, user_id, balance FROM participants WHERE competition_id = $1`
	rows, err := q.pool.Query(ctx, participantQuery, competitionID)
	if err != nil {
		return nil, err
	}
	entries := make(map[uuid.UUID]*LeaderboardEntry)
	order := make([]uuid.UUID, 0)
	for rows.Next() {
		var id, userID uuid.UUID
		var balance money.Decimal
		if err := rows.Scan(&id, &userID, &balance); err != nil {
			rows.Close()
			return nil, err
		}
		entries[id] = &LeaderboardEntry{ParticipantID: id, UserID: userID, Balance: balance}
		order = append(order, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	const positionQuery = `SELECT participant_id, code, quantity FROM positions WHERE participant_id = ANY($1)`
	if err := q.accumulate(ctx, positionQuery, order, func(participantID uuid.UUID, code string, qty money.Decimal) {
		price, ok := currentPrices[code]
		if !ok {
			return
		}
		e := entries[participantID]
		e.CoinValue = e.CoinValue.Add(qty.Mul(price))
	}); err != nil {
		return nil, err
	}

	const reservedQuery = `SELECT participant_id, side, code, price, quantity FROM orders
		WHERE status = $1 AND order_type = $2 AND side = ANY($3) AND participant_id = ANY($4)`
	pendingSides := []string{string(domain.SideBuy), string(domain.SideSell)}
	pendingRows, err := q.pool.Query(ctx, reservedQuery, domain.OrderPending, domain.OrderLimit, pendingSides, order)
	if err != nil {
		return nil, err
	}
	for pendingRows.Next() {
		var participantID uuid.UUID
		var side domain.OrderSide
		var code string
		var price, qty money.Decimal
		if err := pendingRows.Scan(&participantID, &side, &code, &price, &qty); err != nil {
			pendingRows.Close()
			return nil, err
		}
		e := entries[participantID]
		e.Reserved = e.Reserved.Add(reservedValue(side, code, price, qty, comp.FeeRate, currentPrices))
	}
	if err := pendingRows.Err(); err != nil {
		pendingRows.Close()
		return nil, err
	}
	pendingRows.Close()

	out := make([]LeaderboardEntry, 0, len(order))
	for _, id := range order {
		out = append(out, *entries[id])
	}
	return rankEntries(out, comp.InitialBalance), nil
}

// rankEntries finalizes total_value/profit_rate for each entry and
// sorts by cash balance descending, per the decision in DESIGN.md to
// rank on balance rather than total value. Extracted from Leaderboard
// so the computation can be exercised without a database.
func rankEntries(entries []LeaderboardEntry, initialBalance money.Decimal) []LeaderboardEntry {
	for i := range entries {
		e := &entries[i]
		e.TotalValue = e.Balance.Add(e.CoinValue).Add(e.Reserved)
		if !initialBalance.IsZero() {
			e.ProfitRate = e.TotalValue.Sub(initialBalance).Div(initialBalance).Float64()
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Balance.GreaterThan(entries[j].Balance) })
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// reservedValue computes the amount a single pending limit order ties
// up. A buy order reserves the cash it would spend plus the fee it
// would pay: price*qty*(1+fee_rate). A sell order reserves the coin it
// would deliver, valued at the current mark price for code rather than
// the order's own limit price - no fee, since the fee is deducted from
// sale proceeds at fill time, not from the reserved coin itself. A code
// with no current price (e.g. a delisted market) contributes nothing,
// consistent with how CoinValue treats an unpriced position above.
func reservedValue(side domain.OrderSide, code string, price, qty, feeRate money.Decimal, currentPrices map[string]money.Decimal) money.Decimal {
	switch side {
	case domain.SideBuy:
		total := price.Mul(qty)
		fee := total.Mul(feeRate)
		return total.Add(fee)
	case domain.SideSell:
		mark, ok := currentPrices[code]
		if !ok {
			return money.Zero
		}
		return qty.Mul(mark)
	default:
		return money.Zero
	}
}

func (q *Queries) accumulate(ctx context.Context, query string, participantIDs []uuid.UUID, fn func(uuid.UUID, string, money.Decimal)) error {
	rows, err := q.pool.Query(ctx, query, participantIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var participantID uuid.UUID
		var code string
		var qty money.Decimal
		if err := rows.Scan(&participantID, &code, &qty); err != nil {
			return err
		}
		fn(participantID, code, qty)
	}
	return rows.Err()
}

func (q *Queries) getCompetition(ctx context.Context, competitionID uuid.UUID) (*domain.Competition, error) {
	const query = `SELECT id, name, initial_balance, fee_rate, start_time, end_time, status FROM competitions WHERE id = $1`
	var c domain.Competition
	err := q.pool.QueryRow(ctx, query, competitionID).Scan(&c.ID, &c.Name, &c.InitialBalance, &c.FeeRate, &c.StartTime, &c.EndTime, &c.Status)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
