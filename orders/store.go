package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/money"
)

// Store runs a unit of work against the relational model. Every
// Service operation that mutates state does so inside exactly one
// WithTx call, so a single rollback undoes the whole operation.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of row-level operations available inside a unit of
// work. Balance/position mutations are expressed as atomic guards
// (conditional UPDATE ... WHERE) so the store itself - not the
// caller's locking - is the source of race-free correctness.
type Tx interface {
	GetParticipant(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error)
	GetCompetition(ctx context.Context, competitionID uuid.UUID) (*domain.Competition, error)
	GetPosition(ctx context.Context, participantID uuid.UUID, code string) (*domain.Position, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)

	// DebitBalance atomically decrements balance by amount iff balance
	// >= amount, reporting whether the row matched (ok=false means
	// insufficient funds).
	DebitBalance(ctx context.Context, participantID uuid.UUID, amount money.Decimal) (ok bool, err error)
	CreditBalance(ctx context.Context, participantID uuid.UUID, amount money.Decimal) error

	// DebitPositionQuantity atomically decrements quantity by qty iff
	// quantity >= qty, reporting whether the row matched (ok=false
	// means insufficient position, including a missing row).
	DebitPositionQuantity(ctx context.Context, participantID uuid.UUID, code string, qty money.Decimal) (ok bool, err error)

	// CreditPositionQuantity atomically increments an existing
	// position's quantity by qty, reporting whether a row matched
	// (ok=false means the row doesn't exist - e.g. ε-cleaned away -
	// and the caller should UpsertPositionBuy instead).
	CreditPositionQuantity(ctx context.Context, participantID uuid.UUID, code string, qty money.Decimal) (ok bool, err error)

	// UpsertPositionBuy adds qty at price to the participant's position
	// in code, recomputing the weighted-average cost, via a single
	// INSERT ... ON CONFLICT (participant_id, code) DO UPDATE.
	UpsertPositionBuy(ctx context.Context, participantID uuid.UUID, code string, qty, price money.Decimal) error

	// DeletePositionIfDust removes the position row for (participantID,
	// code) if its quantity is at or below domain.PositionEpsilon.
	DeletePositionIfDust(ctx context.Context, participantID uuid.UUID, code string) error

	InsertOrder(ctx context.Context, order *domain.Order) error
	UpdateOrderFilled(ctx context.Context, orderID uuid.UUID, filledQty, filledPrice, fee money.Decimal, filledAt time.Time) error
	UpdateOrderCancelled(ctx context.Context, orderID uuid.UUID, cancelledAt time.Time) error

	InsertTrade(ctx context.Context, trade *domain.Trade) error
}

// PendingOrderQuery is satisfied by Store implementations that can list
// resting limit orders eligible for a fill at currentPrice, oldest
// first. It is a separate interface from Tx because the matching
// engine reads across participants outside of any single order's unit
// of work.
type PendingOrderQuery interface {
	PendingLimitOrders(ctx context.Context, code string, side domain.OrderSide, currentPrice money.Decimal) ([]*domain.Order, error)
}
