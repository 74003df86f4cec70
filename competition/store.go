package competition

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/domain"
)

// Store is the relational surface the lifecycle service needs. The
// bulk transition methods (ActivatePending/EndDue) back the periodic
// sweep and compare start_time/end_time against the clock; the
// single-row methods (ActivateOne/EndOne) back the explicit admin path
// and check status only, so an admin can activate a competition before
// its start_time or end it before its end_time.
type Store interface {
	// ActivatePending transitions every pending competition whose
	// start_time has arrived to active, returning the IDs touched.
	ActivatePending(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// EndDue transitions every active competition whose end_time has
	// passed to ended, returning the IDs touched.
	EndDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ActivateOne transitions a single competition to active if its
	// status is pending, reporting whether the row matched.
	ActivateOne(ctx context.Context, competitionID uuid.UUID) (bool, error)

	// EndOne transitions a single competition to ended if its status
	// is pending or active, reporting whether the row matched.
	EndOne(ctx context.Context, competitionID uuid.UUID) (bool, error)

	GetCompetition(ctx context.Context, competitionID uuid.UUID) (*domain.Competition, error)

	// PendingOrdersForRepair lists every pending order belonging to a
	// competition that has already ended - the shape of corruption the
	// repair tool exists to surface (an order the matching engine can
	// no longer reach because its competition closed underneath it).
	PendingOrdersForRepair(ctx context.Context, competitionID uuid.UUID) ([]*domain.Order, error)

	// CancelOrphanedOrder force-cancels a pending order outside of the
	// normal participant-initiated cancel path, crediting price×quantity
	// back to the balance for a buy (the fee reserved at placement is
	// not credited) and restoring the quantity to the position for a
	// sell. Used only by Repair when dryRun is false.
	CancelOrphanedOrder(ctx context.Context, order *domain.Order) error
}
