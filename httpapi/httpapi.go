// Package httpapi is the thin HTTP contract layer in front of the
// transactional core: request decode, call into orders/competition/
// queries, typed-error to status-code mapping. No business logic
// lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/koorukuroo/contest-engine/apperrors"
	"github.com/koorukuroo/contest-engine/auth"
	"github.com/koorukuroo/contest-engine/competition"
	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/logging"
	"github.com/koorukuroo/contest-engine/money"
	"github.com/koorukuroo/contest-engine/orders"
	"github.com/koorukuroo/contest-engine/queries"
)

// API wires the core services behind the HTTP contract named in the
// external-interfaces section: POST/DELETE /orders, GET /balance,
// /positions, /orders, /trades, GET /competitions/{id}/leaderboard.
type API struct {
	orders      *orders.Service
	competition *competition.Service
	queries     *queries.Queries
	authSvc     *auth.Service
	logger      *logging.Logger
}

func New(ordersSvc *orders.Service, competitionSvc *competition.Service, q *queries.Queries, authSvc *auth.Service, logger *logging.Logger) *API {
	return &API{orders: ordersSvc, competition: competitionSvc, queries: q, authSvc: authSvc, logger: logger}
}

// Router builds the mux.Router serving every handler below. Request
// logging and panic recovery run ahead of every route when a logger
// was supplied; Router is still usable with a zero-value API (as the
// handler-level tests in this package do) since a nil logger just
// skips middleware registration.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	if a.logger != nil {
		r.Use(logging.HTTPLoggingMiddleware(a.logger))
		r.Use(logging.PanicRecoveryMiddleware(a.logger))
	}
	r.HandleFunc("/orders", a.withAuth(a.handleCreateOrder)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}", a.withAuth(a.handleCancelOrder)).Methods(http.MethodDelete)
	r.HandleFunc("/balance", a.withAuth(a.handleBalance)).Methods(http.MethodGet)
	r.HandleFunc("/positions", a.withAuth(a.handlePositions)).Methods(http.MethodGet)
	r.HandleFunc("/orders", a.withAuth(a.handleListOrders)).Methods(http.MethodGet)
	r.HandleFunc("/trades", a.withAuth(a.handleListTrades)).Methods(http.MethodGet)
	r.HandleFunc("/competitions/{id}/leaderboard", a.handleLeaderboard).Methods(http.MethodGet)
	return r
}

type participantContextKey struct{}

// withAuth resolves the caller's API key to a user, then to the
// participant row for the competition named by the request's
// X-Competition-Id header, and stashes it for the wrapped handler. The
// contract in §6 has no explicit competition scoping on these routes,
// so each participant-scoped caller must say which contest they mean.
func (a *API) withAuth(next func(w http.ResponseWriter, r *http.Request, participant *domain.Participant)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if key == "" {
			writeError(w, apperrors.New(apperrors.NotFound, "missing API key"))
			return
		}
		user, err := a.authSvc.AuthenticateApiKey(r.Context(), key)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.NotFound, "invalid API key", err))
			return
		}
		competitionID, err := uuid.Parse(r.Header.Get("X-Competition-Id"))
		if err != nil {
			writeError(w, apperrors.New(apperrors.NotFound, "missing or invalid X-Competition-Id header"))
			return
		}
		participant, err := a.queries.ParticipantByUser(r.Context(), user.ID, competitionID)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.NotFound, "participant not found for user and competition", err))
			return
		}
		next(w, r, participant)
	}
}

type createOrderBody struct {
	Code           string  `json:"code"`
	Side           string  `json:"side"`
	OrderType      string  `json:"order_type"`
	Quantity       string  `json:"quantity"`
	Price          *string `json:"price"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request, participant *domain.Participant) {
	var body createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	quantity, err := money.New(body.Quantity)
	if err != nil {
		http.Error(w, "invalid quantity", http.StatusBadRequest)
		return
	}

	clientPriceStr := r.URL.Query().Get("current_price")
	clientPrice, err := money.New(clientPriceStr)
	if err != nil {
		http.Error(w, "invalid or missing current_price query parameter", http.StatusBadRequest)
		return
	}

	req := orders.CreateOrderRequest{
		ParticipantID:  participant.ID,
		Code:           body.Code,
		Side:           domain.OrderSide(body.Side),
		OrderType:      domain.OrderType(body.OrderType),
		Quantity:       quantity,
		ClientPrice:    clientPrice,
		IdempotencyKey: body.IdempotencyKey,
	}
	if body.Price != nil {
		p, err := money.New(*body.Price)
		if err != nil {
			http.Error(w, "invalid price", http.StatusBadRequest)
			return
		}
		req.Price = &p
	}

	if err := a.orders.ClaimDuplicate(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	var order *domain.Order
	switch req.OrderType {
	case domain.OrderMarket:
		order, err = a.orders.CreateMarketOrder(r.Context(), req)
	case domain.OrderLimit:
		order, err = a.orders.CreateLimitOrder(r.Context(), req)
	default:
		http.Error(w, "unknown order_type", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request, participant *domain.Participant) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	if err := a.orders.CancelOrder(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request, participant *domain.Participant) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": participant.Balance})
}

func (a *API) handlePositions(w http.ResponseWriter, r *http.Request, participant *domain.Participant) {
	positions, err := a.queries.ListPositions(r.Context(), participant.ID)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.NotFound, "failed to load positions", err))
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request, participant *domain.Participant) {
	list, err := a.queries.ListOrders(r.Context(), participant.ID)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.NotFound, "failed to load orders", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleListTrades(w http.ResponseWriter, r *http.Request, participant *domain.Participant) {
	list, err := a.queries.ListTrades(r.Context(), participant.ID)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.NotFound, "failed to load trades", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleLeaderboard is unauthenticated on purpose: a contest's
// standings are public within the platform, matching the read-only
// nature of the projection.
func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	competitionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid competition id", http.StatusBadRequest)
		return
	}
	prices, err := parseCurrentPrices(r.URL.Query().Get("current_prices"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := a.queries.Leaderboard(r.Context(), competitionID, prices)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.NotFound, "failed to compute leaderboard", err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseCurrentPrices decodes the query parameter format
// "code:price,code:price,...", e.g. "KRW-BTC:100000000,KRW-ETH:5000000".
func parseCurrentPrices(raw string) (map[string]money.Decimal, error) {
	out := make(map[string]money.Decimal)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New("current_prices must be code:price pairs")
		}
		price, err := money.New(parts[1])
		if err != nil {
			return nil, errors.New("invalid price in current_prices for " + parts[0])
		}
		out[parts[0]] = price
	}
	return out, nil
}

// writeError maps a domain error's Kind to the status code named in
// the error-handling design: InsufficientFunds/InsufficientPosition/
// PriceOutOfBand/PriceMismatch/CompetitionClosed -> 400, DuplicateOrder
// -> 409, ContentionTimeout -> 429, NotFound -> 404, everything else
// (including UpstreamTransient, which should never reach here) -> 500.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.InsufficientFunds, apperrors.InsufficientPosition, apperrors.PriceOutOfBand, apperrors.PriceMismatch, apperrors.CompetitionClosed:
		status = http.StatusBadRequest
	case apperrors.DuplicateOrder:
		status = http.StatusConflict
	case apperrors.ContentionTimeout:
		status = http.StatusTooManyRequests
	case apperrors.NotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"kind": string(kind), "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// AdminAPI exposes the explicit lifecycle and repair tools behind a
// separate bearer-JWT admin session, kept apart from the participant
// surface above so a leaked participant API key can never reach it.
type AdminAPI struct {
	competition *competition.Service
	authSvc     *auth.Service
	logger      *logging.Logger
}

func NewAdminAPI(competitionSvc *competition.Service, authSvc *auth.Service, logger *logging.Logger) *AdminAPI {
	return &AdminAPI{competition: competitionSvc, authSvc: authSvc, logger: logger}
}

func (a *AdminAPI) Router() *mux.Router {
	r := mux.NewRouter()
	if a.logger != nil {
		r.Use(logging.HTTPLoggingMiddleware(a.logger))
		r.Use(logging.PanicRecoveryMiddleware(a.logger))
	}
	r.HandleFunc("/admin/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/admin/competitions/{id}/activate", a.withAdmin(a.handleActivate)).Methods(http.MethodPost)
	r.HandleFunc("/admin/competitions/{id}/end", a.withAdmin(a.handleEnd)).Methods(http.MethodPost)
	r.HandleFunc("/admin/competitions/{id}/repair", a.withAdmin(a.handleRepair)).Methods(http.MethodPost)
	return r
}

func (a *AdminAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token, err := a.authSvc.AdminLogin(body.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *AdminAPI) withAdmin(next func(w http.ResponseWriter, r *http.Request, adminID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := a.authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid or expired admin session", http.StatusUnauthorized)
			return
		}
		next(w, r, claims.UserID)
	}
}

func (a *AdminAPI) handleActivate(w http.ResponseWriter, r *http.Request, adminID string) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid competition id", http.StatusBadRequest)
		return
	}
	if err := a.competition.Activate(r.Context(), adminID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleEnd(w http.ResponseWriter, r *http.Request, adminID string) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid competition id", http.StatusBadRequest)
		return
	}
	if err := a.competition.End(r.Context(), adminID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleRepair(w http.ResponseWriter, r *http.Request, adminID string) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid competition id", http.StatusBadRequest)
		return
	}
	dryRun := true
	if v := r.URL.Query().Get("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			dryRun = parsed
		}
	}
	reports, err := a.competition.Repair(r.Context(), adminID, id, dryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}
