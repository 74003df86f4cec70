// Package orders implements the transactional heart of the platform:
// price sourcing and validation, duplicate suppression, per-participant
// serialization, and the atomic-guard create/cancel/fill operations
// for market and limit orders.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koorukuroo/contest-engine/apperrors"
	"github.com/koorukuroo/contest-engine/cache"
	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/logging"
	"github.com/koorukuroo/contest-engine/metrics"
	"github.com/koorukuroo/contest-engine/money"
)

const (
	priceDeviationTolerance = 0.10 // ±10%

	mutexLease      = 10 * time.Second
	mutexWaitBudget = 5 * time.Second
)

// PriceSource is the subset of tickarchive.Archive the order service
// needs: the latest known trade price for a code.
type PriceSource interface {
	Latest(ctx context.Context, code string) (*domain.Tick, error)
}

// Service is the Order Service. All of its exported methods run their
// mutation inside one Store.WithTx call.
type Service struct {
	store  Store
	prices PriceSource
	cache  *cache.RedisCache // optional: nil disables idempotency/content-hash/mutex
	lock   *cache.OrderLock  // optional, mirrors cache
	audit  *logging.AuditLogger
}

func NewService(store Store, prices PriceSource, rc *cache.RedisCache, audit *logging.AuditLogger) *Service {
	s := &Service{store: store, prices: prices, cache: rc, audit: audit}
	if rc != nil {
		s.lock = cache.NewOrderLock(rc)
	}
	return s
}

// CreateOrderRequest is the decoded request body for POST /orders
// already validated for shape by the transport layer.
type CreateOrderRequest struct {
	ParticipantID  uuid.UUID
	Code           string
	Side           domain.OrderSide
	OrderType      domain.OrderType
	Quantity       money.Decimal
	Price          *money.Decimal // required for limit orders
	ClientPrice    money.Decimal  // caller's belief about the current market price
	IdempotencyKey string         // optional
}

// resolvedPrice holds the outcome of the price sourcing and
// validation rule below.
type resolvedPrice struct {
	price  money.Decimal
	source *domain.Tick // nil if the archive had nothing and we fell back to ClientPrice
}

// sourcePrice implements the shared price-sourcing/validation rule used
// by both market and limit order creation.
func (s *Service) sourcePrice(ctx context.Context, code string, clientPrice money.Decimal) (resolvedPrice, error) {
	tick, err := s.prices.Latest(ctx, code)
	if err != nil {
		// Archive unreachable or genuinely empty: fall back to the
		// caller's price.
		if !domain.InSanityBand(code, clientPrice.Float64()) {
			return resolvedPrice{}, apperrors.New(apperrors.PriceOutOfBand, "client price outside sanity band")
		}
		return resolvedPrice{price: clientPrice}, nil
	}

	serverPrice := money.NewFromFloat(tick.TradePrice)
	if deviation(clientPrice, serverPrice) > priceDeviationTolerance {
		return resolvedPrice{}, apperrors.New(apperrors.PriceMismatch, "client price deviates from market price by more than 10%")
	}
	if !domain.InSanityBand(code, serverPrice.Float64()) {
		return resolvedPrice{}, apperrors.New(apperrors.PriceOutOfBand, "server price outside sanity band")
	}
	return resolvedPrice{price: serverPrice, source: tick}, nil
}

// deviation returns |a-b|/b as a float64; used only for the ±10%
// tolerance check, never for a balance-affecting computation.
func deviation(a, b money.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	diff := a.Sub(b).Abs()
	return diff.Div(b).Float64()
}

// ClaimDuplicate runs the duplicate-suppression rule: an idempotency
// key (if supplied) or a content hash of the economically significant
// order fields both short-circuit a retry into a no-op rather than a
// second order. The transport layer calls this before dispatching to
// Create*Order; it is exposed here because it is semantically part of
// the order contract, not an HTTP concern.
func (s *Service) ClaimDuplicate(ctx context.Context, req CreateOrderRequest) error {
	if s.cache == nil {
		return nil
	}
	var claimed bool
	var err error
	if req.IdempotencyKey != "" {
		claimed, err = cache.ClaimIdempotencyKey(ctx, s.cache, req.ParticipantID.String(), req.IdempotencyKey)
	} else {
		price := ""
		if req.Price != nil {
			price = req.Price.String()
		}
		claimed, err = cache.ClaimContentHash(ctx, s.cache,
			req.ParticipantID.String(), req.Code, string(req.Side), string(req.OrderType), req.Quantity.String(), price)
	}
	if err != nil {
		// Fail open: the dedup cache is a latency optimization, not a
		// correctness backstop.
		return nil
	}
	if !claimed {
		return apperrors.New(apperrors.DuplicateOrder, "duplicate order submission within suppression window")
	}
	return nil
}

// withParticipantLock acquires the per-participant mutex (fail-open on
// any backend error) and runs fn, always releasing afterward.
func (s *Service) withParticipantLock(ctx context.Context, participantID uuid.UUID, fn func() error) error {
	if s.lock == nil {
		return fn()
	}
	release, acquired := s.lock.Acquire(ctx, participantID.String(), mutexLease, mutexWaitBudget)
	if !acquired {
		return apperrors.New(apperrors.ContentionTimeout, "too many concurrent requests for this participant")
	}
	defer release()
	return fn()
}

// requireActiveCompetition enforces invariant: orders are only
// accepted while the owning competition is active at this instant.
func requireActiveCompetition(tx Tx, ctx context.Context, participant *domain.Participant) (*domain.Competition, error) {
	comp, err := tx.GetCompetition(ctx, participant.CompetitionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.NotFound, "competition not found", err)
	}
	if !comp.IsActiveAt(time.Now()) {
		return nil, apperrors.New(apperrors.CompetitionClosed, "competition is not active")
	}
	return comp, nil
}

// CreateMarketOrder executes the market-order algorithm in
// a single transaction: sanity check, atomic-guard debit, order
// insert, opposite-side ledger update, trade insert.
func (s *Service) CreateMarketOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	start := time.Now()
	var result *domain.Order
	err := s.withParticipantLock(ctx, req.ParticipantID, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			participant, err := tx.GetParticipant(ctx, req.ParticipantID)
			if err != nil {
				return apperrors.Wrap(apperrors.NotFound, "participant not found", err)
			}
			comp, err := requireActiveCompetition(tx, ctx, participant)
			if err != nil {
				return err
			}

			resolved, err := s.sourcePrice(ctx, req.Code, req.ClientPrice)
			if err != nil {
				return err
			}
			price := resolved.price
			total := price.Mul(req.Quantity)
			fee := total.Mul(comp.FeeRate)

			now := time.Now()
			order := &domain.Order{
				ID:             uuid.New(),
				ParticipantID:  req.ParticipantID,
				Code:           req.Code,
				Side:           req.Side,
				OrderType:      domain.OrderMarket,
				Quantity:       req.Quantity,
				FilledQuantity: req.Quantity,
				FilledPrice:    &price,
				Fee:            fee,
				Status:         domain.OrderFilled,
				CreatedAt:      now,
				FilledAt:       &now,
			}

			switch req.Side {
			case domain.SideBuy:
				ok, err := tx.DebitBalance(ctx, req.ParticipantID, total.Add(fee))
				if err != nil {
					return err
				}
				if !ok {
					return apperrors.New(apperrors.InsufficientFunds, "balance insufficient for market buy")
				}
				if err := tx.UpsertPositionBuy(ctx, req.ParticipantID, req.Code, req.Quantity, price); err != nil {
					return err
				}
			case domain.SideSell:
				ok, err := tx.DebitPositionQuantity(ctx, req.ParticipantID, req.Code, req.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return apperrors.New(apperrors.InsufficientPosition, "position insufficient for market sell")
				}
				if err := tx.CreditBalance(ctx, req.ParticipantID, total.Sub(fee)); err != nil {
					return err
				}
				if err := tx.DeletePositionIfDust(ctx, req.ParticipantID, req.Code); err != nil {
					return err
				}
			default:
				return apperrors.New(apperrors.NotFound, fmt.Sprintf("unknown order side %q", req.Side))
			}

			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			trade := &domain.Trade{
				ID: uuid.New(), OrderID: order.ID, ParticipantID: req.ParticipantID,
				Code: req.Code, Side: req.Side, Price: price, Quantity: req.Quantity,
				TotalAmount: total, Fee: fee, CreatedAt: now,
			}
			if err := tx.InsertTrade(ctx, trade); err != nil {
				return err
			}

			result = order
			return nil
		})
	})
	metrics.OrderLatency.WithLabelValues(string(domain.OrderMarket), string(req.Side)).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		kind, _ := apperrors.KindOf(err)
		metrics.OrdersTotal.WithLabelValues(string(domain.OrderMarket), string(req.Side), "rejected").Inc()
		metrics.OrderErrorsTotal.WithLabelValues(string(kind)).Inc()
		logging.TrackError(ctx, err, string(kind), map[string]interface{}{"order_type": "market", "side": string(req.Side)})
		if s.audit != nil {
			s.audit.LogOrderRejected(ctx, req.ParticipantID.String(), req.Code, string(kind), err.Error())
		}
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(domain.OrderMarket), string(req.Side), "filled").Inc()
	if s.audit != nil {
		s.audit.LogOrderFill(ctx, result.ID.String(), req.ParticipantID.String(), result.FilledPrice.Float64(), result.FilledQuantity.Float64(), result.Fee.Float64())
	}
	return result, nil
}

// CreateLimitOrder executes the limit-order algorithm:
// sanity/deviation checks, crossing-book escalation to a market order,
// or reservation and a pending insert.
func (s *Service) CreateLimitOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	start := time.Now()
	if req.Price == nil {
		return nil, apperrors.New(apperrors.PriceOutOfBand, "limit order requires a price")
	}
	limitPrice := *req.Price

	if !domain.InSanityBand(req.Code, limitPrice.Float64()) {
		return nil, apperrors.New(apperrors.PriceOutOfBand, "limit price outside sanity band")
	}

	tick, err := s.prices.Latest(ctx, req.Code)
	var marketPrice money.Decimal
	haveMarket := err == nil
	if haveMarket {
		marketPrice = money.NewFromFloat(tick.TradePrice)
		if deviation(limitPrice, marketPrice) > priceDeviationTolerance {
			return nil, apperrors.New(apperrors.PriceOutOfBand, "limit price deviates from market price by more than 10%")
		}

		crosses := (req.Side == domain.SideBuy && limitPrice.GreaterThanOrEqual(marketPrice)) ||
			(req.Side == domain.SideSell && limitPrice.LessThanOrEqual(marketPrice))
		if crosses {
			marketReq := req
			marketReq.ClientPrice = marketPrice
			return s.CreateMarketOrder(ctx, marketReq)
		}
	}

	var result *domain.Order
	err = s.withParticipantLock(ctx, req.ParticipantID, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			participant, err := tx.GetParticipant(ctx, req.ParticipantID)
			if err != nil {
				return apperrors.Wrap(apperrors.NotFound, "participant not found", err)
			}
			comp, err := requireActiveCompetition(tx, ctx, participant)
			if err != nil {
				return err
			}

			now := time.Now()
			order := &domain.Order{
				ID: uuid.New(), ParticipantID: req.ParticipantID, Code: req.Code,
				Side: req.Side, OrderType: domain.OrderLimit, Quantity: req.Quantity,
				Price: &limitPrice, Status: domain.OrderPending, CreatedAt: now,
			}

			switch req.Side {
			case domain.SideBuy:
				total := limitPrice.Mul(req.Quantity)
				fee := total.Mul(comp.FeeRate)
				ok, err := tx.DebitBalance(ctx, req.ParticipantID, total.Add(fee))
				if err != nil {
					return err
				}
				if !ok {
					return apperrors.New(apperrors.InsufficientFunds, "balance insufficient to reserve limit buy")
				}
			case domain.SideSell:
				ok, err := tx.DebitPositionQuantity(ctx, req.ParticipantID, req.Code, req.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return apperrors.New(apperrors.InsufficientPosition, "position insufficient to reserve limit sell")
				}
			default:
				return apperrors.New(apperrors.NotFound, fmt.Sprintf("unknown order side %q", req.Side))
			}

			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			result = order
			return nil
		})
	})
	metrics.OrderLatency.WithLabelValues(string(domain.OrderLimit), string(req.Side)).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		kind, _ := apperrors.KindOf(err)
		metrics.OrdersTotal.WithLabelValues(string(domain.OrderLimit), string(req.Side), "rejected").Inc()
		metrics.OrderErrorsTotal.WithLabelValues(string(kind)).Inc()
		logging.TrackError(ctx, err, string(kind), map[string]interface{}{"order_type": "limit", "side": string(req.Side)})
		if s.audit != nil {
			s.audit.LogOrderRejected(ctx, req.ParticipantID.String(), req.Code, string(kind), err.Error())
		}
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(domain.OrderLimit), string(req.Side), "pending").Inc()
	if s.audit != nil {
		priceF := 0.0
		if result.Price != nil {
			priceF = result.Price.Float64()
		}
		s.audit.LogOrderPlacement(ctx, result.ID.String(), req.Code, string(req.Side), req.Quantity.Float64(), priceF, string(domain.OrderLimit), req.ParticipantID.String())
	}
	return result, nil
}

// CancelOrder cancels a pending limit order and refunds whatever was
// reserved at creation time.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	var participantID uuid.UUID
	var side domain.OrderSide
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return apperrors.Wrap(apperrors.NotFound, "order not found", err)
		}
		if !order.IsPending() {
			return apperrors.New(apperrors.NotFound, "order is not a pending limit order")
		}
		participantID = order.ParticipantID
		side = order.Side
		if err := tx.UpdateOrderCancelled(ctx, orderID, time.Now()); err != nil {
			return err
		}

		switch order.Side {
		case domain.SideBuy:
			total := order.Price.Mul(order.Quantity)
			// Fee was reserved at the same rate; recompute from the
			// stored price/quantity since the order doesn't persist the
			// rate separately.
			comp, err := tx.GetCompetition(ctx, mustParticipantCompetition(ctx, tx, order.ParticipantID))
			if err != nil {
				return err
			}
			fee := total.Mul(comp.FeeRate)
			return tx.CreditBalance(ctx, order.ParticipantID, total.Add(fee))
		case domain.SideSell:
			ok, err := tx.CreditPositionQuantity(ctx, order.ParticipantID, order.Code, order.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				// Position row was ε-cleaned away after a later fill
				// drained it; UPSERT it back rather than failing the
				// cancel. The order's limit price stands in for the
				// reinstated cost basis - the exact acquisition cost
				// isn't recoverable from a cancelled sell alone.
				return tx.UpsertPositionBuy(ctx, order.ParticipantID, order.Code, order.Quantity, *order.Price)
			}
			return nil
		default:
			return apperrors.New(apperrors.NotFound, fmt.Sprintf("unknown order side %q", order.Side))
		}
	})
	if err != nil {
		kind, _ := apperrors.KindOf(err)
		metrics.OrderCancelsTotal.WithLabelValues(string(side), "rejected").Inc()
		metrics.OrderErrorsTotal.WithLabelValues(string(kind)).Inc()
		logging.TrackError(ctx, err, string(kind), map[string]interface{}{"order_id": orderID.String()})
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if s.audit != nil {
			s.audit.LogOrderCancellation(ctx, orderID.String(), participantID.String(), "participant cancel")
		}
		return nil
	})
	if err != nil {
		metrics.OrderCancelsTotal.WithLabelValues(string(side), "rejected").Inc()
		logging.TrackError(ctx, err, "error", map[string]interface{}{"order_id": orderID.String(), "stage": "commit"})
		return err
	}
	metrics.OrderCancelsTotal.WithLabelValues(string(side), "cancelled").Inc()
	return nil
}

// mustParticipantCompetition looks up a participant's competition ID.
// Cancel needs the fee rate that was in effect at reservation time;
// since Order doesn't persist it, we recompute from the competition's
// current rate, matching the source's own best-effort refund model.
func mustParticipantCompetition(ctx context.Context, tx Tx, participantID uuid.UUID) uuid.UUID {
	p, err := tx.GetParticipant(ctx, participantID)
	if err != nil {
		return uuid.Nil
	}
	return p.CompetitionID
}

// ExecuteLimit fills a resting limit order at executionPrice, called
// by the matching engine once per eligible order per tick.
func (s *Service) ExecuteLimit(ctx context.Context, orderID uuid.UUID, executionPrice money.Decimal) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return apperrors.Wrap(apperrors.NotFound, "order not found", err)
		}
		if !order.IsPending() {
			return nil // already handled by a concurrent tick or cancel
		}
		if !domain.InSanityBand(order.Code, executionPrice.Float64()) {
			return apperrors.New(apperrors.PriceOutOfBand, "execution price outside sanity band")
		}

		comp, err := tx.GetCompetition(ctx, mustParticipantCompetition(ctx, tx, order.ParticipantID))
		if err != nil {
			return err
		}
		fee := executionPrice.Mul(order.Quantity).Mul(comp.FeeRate)
		now := time.Now()

		switch order.Side {
		case domain.SideBuy:
			if err := tx.UpsertPositionBuy(ctx, order.ParticipantID, order.Code, order.Quantity, executionPrice); err != nil {
				return err
			}
			if executionPrice.LessThan(*order.Price) {
				savings := order.Price.Sub(executionPrice).Mul(order.Quantity)
				if err := tx.CreditBalance(ctx, order.ParticipantID, savings); err != nil {
					return err
				}
			}
		case domain.SideSell:
			total := executionPrice.Mul(order.Quantity)
			feeRateComplement := money.NewFromFloat(1).Sub(comp.FeeRate)
			credit := total.Mul(feeRateComplement)
			if err := tx.CreditBalance(ctx, order.ParticipantID, credit); err != nil {
				return err
			}
			if err := tx.DeletePositionIfDust(ctx, order.ParticipantID, order.Code); err != nil {
				return err
			}
		default:
			return apperrors.New(apperrors.NotFound, fmt.Sprintf("unknown order side %q", order.Side))
		}

		if err := tx.UpdateOrderFilled(ctx, orderID, order.Quantity, executionPrice, fee, now); err != nil {
			return err
		}
		trade := &domain.Trade{
			ID: uuid.New(), OrderID: orderID, ParticipantID: order.ParticipantID,
			Code: order.Code, Side: order.Side, Price: executionPrice, Quantity: order.Quantity,
			TotalAmount: executionPrice.Mul(order.Quantity), Fee: fee, CreatedAt: now,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		if s.audit != nil {
			s.audit.LogOrderFill(ctx, orderID.String(), order.ParticipantID.String(), executionPrice.Float64(), order.Quantity.Float64(), fee.Float64())
		}
		return nil
	})
}
