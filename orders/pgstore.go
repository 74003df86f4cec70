package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/logging"
	"github.com/koorukuroo/contest-engine/money"
)

// PgStore is the Postgres-backed Store. Every WithTx call runs inside
// a single pgx.Tx; rollback happens automatically if fn returns an
// error or panics.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	defer func() { logging.LogSlowQuery(ctx, "orders.WithTx", time.Since(start)) }()

	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := fn(ctx, &pgTxAdapter{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// pgTxAdapter adapts a pgx.Tx to the Tx interface. money.Decimal
// implements driver.Valuer/sql.Scanner directly, so values round-trip
// through NUMERIC columns without manual string marshalling.
type pgTxAdapter struct {
	tx pgx.Tx
}

func (a *pgTxAdapter) GetParticipant(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error) {
	const q = `SELECT id, competition_id, user_id, balance, joined_at FROM participants WHERE id = $1`
	var p domain.Participant
	if err := a.tx.QueryRow(ctx, q, participantID).Scan(&p.ID, &p.CompetitionID, &p.UserID, &p.Balance, &p.JoinedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *pgTxAdapter) GetCompetition(ctx context.Context, competitionID uuid.UUID) (*domain.Competition, error) {
	const q = `SELECT id, name, initial_balance, fee_rate, start_time, end_time, status FROM competitions WHERE id = $1`
	var c domain.Competition
	if err := a.tx.QueryRow(ctx, q, competitionID).Scan(&c.ID, &c.Name, &c.InitialBalance, &c.FeeRate, &c.StartTime, &c.EndTime, &c.Status); err != nil {
		return nil, err
	}
	return &c, nil
}

func (a *pgTxAdapter) GetPosition(ctx context.Context, participantID uuid.UUID, code string) (*domain.Position, error) {
	const q = `SELECT id, participant_id, code, quantity, avg_buy_price, created_at, updated_at
		FROM positions WHERE participant_id = $1 AND code = $2`
	var p domain.Position
	err := a.tx.QueryRow(ctx, q, participantID, code).Scan(&p.ID, &p.ParticipantID, &p.Code, &p.Quantity, &p.AvgBuyPrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *pgTxAdapter) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	const q = `SELECT id, participant_id, code, side, order_type, quantity, price,
		filled_quantity, filled_price, fee, status, created_at, filled_at, cancelled_at
		FROM orders WHERE id = $1`
	var o domain.Order
	var price, filledPrice money.Decimal
	var hasPrice, hasFilledPrice bool
	err := a.tx.QueryRow(ctx, q, orderID).Scan(
		&o.ID, &o.ParticipantID, &o.Code, &o.Side, &o.OrderType, &o.Quantity, scanNullable(&price, &hasPrice),
		&o.FilledQuantity, scanNullable(&filledPrice, &hasFilledPrice), &o.Fee, &o.Status, &o.CreatedAt, &o.FilledAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if hasPrice {
		o.Price = &price
	}
	if hasFilledPrice {
		o.FilledPrice = &filledPrice
	}
	return &o, nil
}

// scanNullable lets a nullable NUMERIC column scan into a money.Decimal
// while recording whether the column was non-NULL.
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

func (a *pgTxAdapter) DebitBalance(ctx context.Context, participantID uuid.UUID, amount money.Decimal) (bool, error) {
	const q = `UPDATE participants SET balance = balance - $2 WHERE id = $1 AND balance >= $2`
	tag, err := a.tx.Exec(ctx, q, participantID, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (a *pgTxAdapter) CreditBalance(ctx context.Context, participantID uuid.UUID, amount money.Decimal) error {
	const q = `UPDATE participants SET balance = balance + $2 WHERE id = $1`
	_, err := a.tx.Exec(ctx, q, participantID, amount)
	return err
}

func (a *pgTxAdapter) DebitPositionQuantity(ctx context.Context, participantID uuid.UUID, code string, qty money.Decimal) (bool, error) {
	const q = `UPDATE positions SET quantity = quantity - $3 WHERE participant_id = $1 AND code = $2 AND quantity >= $3`
	tag, err := a.tx.Exec(ctx, q, participantID, code, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (a *pgTxAdapter) CreditPositionQuantity(ctx context.Context, participantID uuid.UUID, code string, qty money.Decimal) (bool, error) {
	const q = `UPDATE positions SET quantity = quantity + $3, updated_at = now() WHERE participant_id = $1 AND code = $2`
	tag, err := a.tx.Exec(ctx, q, participantID, code, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (a *pgTxAdapter) UpsertPositionBuy(ctx context.Context, participantID uuid.UUID, code string, qty, price money.Decimal) error {
	const q = `
		INSERT INTO positions (id, participant_id, code, quantity, avg_buy_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (participant_id, code) DO UPDATE SET
			avg_buy_price = (positions.quantity * positions.avg_buy_price + $4 * $5) / (positions.quantity + $4),
			quantity = positions.quantity + $4,
			updated_at = now()`
	_, err := a.tx.Exec(ctx, q, uuid.New(), participantID, code, qty, price)
	return err
}

func (a *pgTxAdapter) DeletePositionIfDust(ctx context.Context, participantID uuid.UUID, code string) error {
	const q = `DELETE FROM positions WHERE participant_id = $1 AND code = $2 AND quantity <= $3`
	_, err := a.tx.Exec(ctx, q, participantID, code, domain.PositionEpsilon)
	return err
}

func (a *pgTxAdapter) InsertOrder(ctx context.Context, o *domain.Order) error {
	const q = `
		INSERT INTO orders (id, participant_id, code, side, order_type, quantity, price,
			filled_quantity, filled_price, fee, status, created_at, filled_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := a.tx.Exec(ctx, q,
		o.ID, o.ParticipantID, o.Code, o.Side, o.OrderType, o.Quantity, o.Price,
		o.FilledQuantity, o.FilledPrice, o.Fee, o.Status, o.CreatedAt, o.FilledAt, o.CancelledAt,
	)
	return err
}

func (a *pgTxAdapter) UpdateOrderFilled(ctx context.Context, orderID uuid.UUID, filledQty, filledPrice, fee money.Decimal, filledAt time.Time) error {
	const q = `
		UPDATE orders SET status = $2, filled_quantity = $3, filled_price = $4, fee = $5, filled_at = $6
		WHERE id = $1`
	tag, err := a.tx.Exec(ctx, q, orderID, domain.OrderFilled, filledQty, filledPrice, fee, filledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("orders: order not found for fill update")
	}
	return nil
}

func (a *pgTxAdapter) UpdateOrderCancelled(ctx context.Context, orderID uuid.UUID, cancelledAt time.Time) error {
	const q = `UPDATE orders SET status = $2, cancelled_at = $3 WHERE id = $1`
	tag, err := a.tx.Exec(ctx, q, orderID, domain.OrderCancelled, cancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("orders: order not found for cancel update")
	}
	return nil
}

// PendingLimitOrders lists resting limit orders eligible for a fill at
// currentPrice: buys with price >= currentPrice (willing to pay at
// least the market), sells with price <= currentPrice (willing to
// accept at most the market), oldest first.
func (s *PgStore) PendingLimitOrders(ctx context.Context, code string, side domain.OrderSide, currentPrice money.Decimal) ([]*domain.Order, error) {
	var cmp string
	switch side {
	case domain.SideBuy:
		cmp = ">="
	case domain.SideSell:
		cmp = "<="
	default:
		return nil, nil
	}
	q := `SELECT id, participant_id, code, side, order_type, quantity, price,
		filled_quantity, filled_price, fee, status, created_at, filled_at, cancelled_at
		FROM orders
		WHERE code = $1 AND status = $2 AND order_type = $3 AND side = $4 AND price ` + cmp + ` $5
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, code, domain.OrderPending, domain.OrderLimit, side, currentPrice)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (a *pgTxAdapter) InsertTrade(ctx context.Context, t *domain.Trade) error {
	const q = `
		INSERT INTO trades (id, order_id, participant_id, code, side, price, quantity, total_amount, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := a.tx.Exec(ctx, q, t.ID, t.OrderID, t.ParticipantID, t.Code, t.Side, t.Price, t.Quantity, t.TotalAmount, t.Fee, t.CreatedAt)
	return err
}
