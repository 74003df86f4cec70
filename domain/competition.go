package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/money"
)

// CompetitionStatus is the lifecycle state driven by component F.
type CompetitionStatus string

const (
	CompetitionPending CompetitionStatus = "pending"
	CompetitionActive  CompetitionStatus = "active"
	CompetitionEnded   CompetitionStatus = "ended"
)

// Competition is a time-bounded contest with a virtual starting balance.
type Competition struct {
	ID              uuid.UUID         `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	InitialBalance  money.Decimal     `json:"initial_balance"`
	FeeRate         money.Decimal     `json:"fee_rate"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	Status          CompetitionStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsActiveAt reports whether the competition is live at instant t: its
// status is active and t falls within [StartTime, EndTime].
func (c *Competition) IsActiveAt(t time.Time) bool {
	return c.Status == CompetitionActive && !t.Before(c.StartTime) && !t.After(c.EndTime)
}

// Participant owns a single virtual-cash balance within one competition.
type Participant struct {
	ID            uuid.UUID     `json:"id"`
	CompetitionID uuid.UUID     `json:"competition_id"`
	UserID        uuid.UUID     `json:"user_id"`
	Balance       money.Decimal `json:"balance"`
	JoinedAt      time.Time     `json:"joined_at"`
}

// Position is a held coin balance, unique on (participant, code).
type Position struct {
	ID            uuid.UUID     `json:"id"`
	ParticipantID uuid.UUID     `json:"participant_id"`
	Code          string        `json:"code"`
	Quantity      money.Decimal `json:"quantity"`
	AvgBuyPrice   money.Decimal `json:"avg_buy_price"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// PositionEpsilon is the dust threshold below which a position row is
// deleted rather than kept at a near-zero quantity.
var PositionEpsilon = money.NewFromFloat(0.0001)
