// Package competition drives the pending->active->ended lifecycle of
// a contest, both on a periodic sweep and via explicit admin action,
// and hosts the standalone order-repair operator tool.
package competition

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/logging"
	"github.com/koorukuroo/contest-engine/metrics"
)

// sweepInterval is how often the periodic task checks for due
// transitions. Competitions are short-lived contests measured in
// hours, so a 30s resolution on start/end is well within tolerance.
const sweepInterval = 30 * time.Second

// Service drives competition status transitions. The periodic sweep
// (Run) uses the time-gated bulk Store methods (ActivatePending/EndDue);
// the explicit admin path (Activate/End) uses the single-row methods
// (ActivateOne/EndOne), which check status only. Activate moves a
// pending competition to active; End ends a pending or an active one,
// so an admin can end a competition that never became active.
type Service struct {
	store Store
	audit *logging.AuditLogger
}

func NewService(store Store, audit *logging.AuditLogger) *Service {
	return &Service{store: store, audit: audit}
}

// Run sweeps for due transitions every sweepInterval until ctx is
// cancelled. Both activation and ending are checked every tick; a
// competition whose window is shorter than sweepInterval can still
// transition straight through both on the same or a following tick.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	now := time.Now()

	activated, err := s.store.ActivatePending(ctx, now)
	if err != nil {
		log.Printf("[competition] activate sweep: %v", err)
	}
	for _, id := range activated {
		s.logTransition(ctx, id, false, "periodic_task")
	}

	ended, err := s.store.EndDue(ctx, now)
	if err != nil {
		log.Printf("[competition] end sweep: %v", err)
	}
	for _, id := range ended {
		s.logTransition(ctx, id, true, "periodic_task")
	}
}

func (s *Service) logTransition(ctx context.Context, competitionID uuid.UUID, toEnded bool, triggeredBy string) {
	toStatus := "active"
	if toEnded {
		toStatus = "ended"
	}
	metrics.CompetitionTransitionsTotal.WithLabelValues(toStatus, triggeredBy).Inc()

	if s.audit == nil {
		return
	}
	s.audit.LogCompetitionTransition(ctx, "", competitionID.String(), toEnded, triggeredBy)
}

// Activate transitions competitionID from pending to active
// immediately, bypassing the wall clock. Used by the thin admin
// surface; ordinary activation happens via the periodic sweep above.
func (s *Service) Activate(ctx context.Context, adminID string, competitionID uuid.UUID) error {
	ok, err := s.store.ActivateOne(ctx, competitionID)
	if err != nil {
		return err
	}
	if ok {
		metrics.CompetitionTransitionsTotal.WithLabelValues("active", "admin").Inc()
		if s.audit != nil {
			s.audit.LogCompetitionTransition(ctx, adminID, competitionID.String(), false, "admin")
		}
	}
	return nil
}

// End transitions competitionID to ended immediately regardless of
// its current status (pending or active), for an operator closing a
// contest early.
func (s *Service) End(ctx context.Context, adminID string, competitionID uuid.UUID) error {
	ok, err := s.store.EndOne(ctx, competitionID)
	if err != nil {
		return err
	}
	if ok {
		metrics.CompetitionTransitionsTotal.WithLabelValues("ended", "admin").Inc()
		if s.audit != nil {
			s.audit.LogCompetitionTransition(ctx, adminID, competitionID.String(), true, "admin")
		}
	}
	return nil
}
