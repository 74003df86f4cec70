package competition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/money"
)

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) ActivatePending(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const q = `UPDATE competitions SET status = $1 WHERE status = $2 AND start_time <= $3 RETURNING id`
	return s.scanIDs(ctx, q, domain.CompetitionActive, domain.CompetitionPending, now)
}

func (s *PgStore) EndDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const q = `UPDATE competitions SET status = $1 WHERE status = $2 AND end_time <= $3 RETURNING id`
	return s.scanIDs(ctx, q, domain.CompetitionEnded, domain.CompetitionActive, now)
}

func (s *PgStore) scanIDs(ctx context.Context, q string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PgStore) ActivateOne(ctx context.Context, competitionID uuid.UUID) (bool, error) {
	const q = `UPDATE competitions SET status = $1 WHERE id = $2 AND status = $3`
	tag, err := s.pool.Exec(ctx, q, domain.CompetitionActive, competitionID, domain.CompetitionPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) EndOne(ctx context.Context, competitionID uuid.UUID) (bool, error) {
	const q = `UPDATE competitions SET status = $1 WHERE id = $2 AND status <> $1`
	tag, err := s.pool.Exec(ctx, q, domain.CompetitionEnded, competitionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) GetCompetition(ctx context.Context, competitionID uuid.UUID) (*domain.Competition, error) {
	const q = `SELECT id, name, initial_balance, fee_rate, start_time, end_time, status FROM competitions WHERE id = $1`
	var c domain.Competition
	if err := s.pool.QueryRow(ctx, q, competitionID).Scan(&c.ID, &c.Name, &c.InitialBalance, &c.FeeRate, &c.StartTime, &c.EndTime, &c.Status); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PgStore) PendingOrdersForRepair(ctx context.Context, competitionID uuid.UUID) ([]*domain.Order, error) {
	const q = `
		SELECT o.id, o.participant_id, o.code, o.side, o.order_type, o.quantity, o.price,
			o.filled_quantity, o.filled_price, o.fee, o.status, o.created_at, o.filled_at, o.cancelled_at
		FROM orders o
		JOIN participants p ON p.id = o.participant_id
		WHERE p.competition_id = $1 AND o.status = $2`
	rows, err := s.pool.Query(ctx, q, competitionID, domain.OrderPending)
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

// CancelOrphanedOrder force-cancels order and, for a resting buy,
// refunds price × quantity (the fee reserved at placement is not
// refunded); a resting sell holds no cash reservation
// (its quantity was already debited from the position, so restoring it
// is a position credit, not a balance credit).
func (s *PgStore) CancelOrphanedOrder(ctx context.Context, order *domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if order.Side == domain.SideBuy && order.Price != nil {
		reserved := order.Price.Mul(order.Quantity)
		if _, err := tx.Exec(ctx, `UPDATE participants SET balance = balance + $2 WHERE id = $1`, order.ParticipantID, reserved); err != nil {
			return err
		}
	}
	if order.Side == domain.SideSell {
		const q = `UPDATE positions SET quantity = quantity + $3, updated_at = now() WHERE participant_id = $1 AND code = $2`
		tag, err := tx.Exec(ctx, q, order.ParticipantID, order.Code, order.Quantity)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			const ins = `INSERT INTO positions (id, participant_id, code, quantity, avg_buy_price, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())`
			if _, err := tx.Exec(ctx, ins, uuid.New(), order.ParticipantID, order.Code, order.Quantity, *order.Price); err != nil {
				return err
			}
		}
	}

	const upd = `UPDATE orders SET status = $2, cancelled_at = now() WHERE id = $1`
	if _, err := tx.Exec(ctx, upd, order.ID, domain.OrderCancelled); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// scanNullable mirrors orders.scanNullable for the one nullable column
// read here; kept local to avoid an import cycle with orders.
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
