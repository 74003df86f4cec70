package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/money"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is created pending (limit) or filled (market), transitions only
// forward, and is never mutated after reaching filled or cancelled.
type Order struct {
	ID             uuid.UUID     `json:"id"`
	ParticipantID  uuid.UUID     `json:"participant_id"`
	Code           string        `json:"code"`
	Side           OrderSide     `json:"side"`
	OrderType      OrderType     `json:"order_type"`
	Quantity       money.Decimal `json:"quantity"`
	Price          *money.Decimal `json:"price,omitempty"` // required for limit orders
	FilledQuantity money.Decimal `json:"filled_quantity"`
	FilledPrice    *money.Decimal `json:"filled_price,omitempty"`
	Fee            money.Decimal `json:"fee"`
	Status         OrderStatus   `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	FilledAt       *time.Time    `json:"filled_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
}

func (o *Order) IsPending() bool { return o.Status == OrderPending }
func (o *Order) IsFilled() bool  { return o.Status == OrderFilled }

// Trade is an immutable fill record emitted 1:1 with the terminal fill
// of an Order.
type Trade struct {
	ID            uuid.UUID     `json:"id"`
	OrderID       uuid.UUID     `json:"order_id"`
	ParticipantID uuid.UUID     `json:"participant_id"`
	Code          string        `json:"code"`
	Side          OrderSide     `json:"side"`
	Price         money.Decimal `json:"price"`
	Quantity      money.Decimal `json:"quantity"`
	TotalAmount   money.Decimal `json:"total_amount"`
	Fee           money.Decimal `json:"fee"`
	CreatedAt     time.Time     `json:"created_at"`
}
