package competition

import (
	"context"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/domain"
)

// RepairReport describes one pending order the matching engine can no
// longer reach because its competition has already ended, and what
// Repair did or would do about it.
type RepairReport struct {
	Order   *domain.Order
	Applied bool
}

// Repair finds pending orders stranded under an ended competition - a
// shape of corruption that can only arise if a competition ends while
// a limit order is resting, since the matching engine has no reason
// to ever stop filling a pending order on its own - and, unless
// dryRun, force-cancels each one and returns its price × quantity (buy)
// or quantity (sell) to the participant; a buy's reserved fee is not
// returned.
//
// This is deliberately not part of the property-tested invariants:
// Repair is an explicit, audited operator action, not a behavior the
// core guarantees on its own.
func (s *Service) Repair(ctx context.Context, adminID string, competitionID uuid.UUID, dryRun bool) ([]RepairReport, error) {
	comp, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if comp.Status != domain.CompetitionEnded {
		return nil, nil
	}

	orders, err := s.store.PendingOrdersForRepair(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	reports := make([]RepairReport, 0, len(orders))
	for _, order := range orders {
		before := orderSnapshot(order)
		applied := false
		if !dryRun {
			if err := s.store.CancelOrphanedOrder(ctx, order); err != nil {
				return reports, err
			}
			applied = true
		}
		after := before
		if applied {
			after = map[string]interface{}{"status": string(domain.OrderCancelled)}
		}
		if s.audit != nil {
			s.audit.LogOrderRepair(ctx, adminID, order.ID.String(), dryRun, before, after)
		}
		reports = append(reports, RepairReport{Order: order, Applied: applied})
	}
	return reports, nil
}

func orderSnapshot(o *domain.Order) map[string]interface{} {
	snap := map[string]interface{}{
		"status":   string(o.Status),
		"side":     string(o.Side),
		"code":     o.Code,
		"quantity": o.Quantity.String(),
	}
	if o.Price != nil {
		snap["price"] = o.Price.String()
	}
	return snap
}
