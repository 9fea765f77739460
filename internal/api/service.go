// Package api provides the HTTP handlers exposing the ledger engine:
// recording trades, querying positions and portfolios, sale simulation,
// realized-PnL statistics, tax lots, and the integer recomputation path.
//
// Handlers do no ledger math of their own — they validate transport-level
// input, delegate, and translate errors to status codes.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/asset"
	"github.com/simtrade/ledger-engine/internal/intpnl"
	"github.com/simtrade/ledger-engine/internal/ledger"
	"github.com/simtrade/ledger-engine/internal/metrics"
	"github.com/simtrade/ledger-engine/internal/model"
	"github.com/simtrade/ledger-engine/internal/position"
)

// Service wires the ledger and position calculator behind HTTP handlers.
type Service struct {
	ledger *ledger.Ledger
	calc   *position.Calculator
	wsHub  *WSHub // optional WebSocket hub for trade broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(l *ledger.Ledger, calc *position.Calculator, hub *WSHub) *Service {
	return &Service{
		ledger: l,
		calc:   calc,
		wsHub:  hub,
	}
}

// Routes mounts all handlers on the router under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/trades", s.RecordTrade)
	r.Post("/simulate", s.SimulateSale)
	r.Get("/positions/{owner}/{asset}", s.GetPosition)
	r.Get("/portfolio/{owner}", s.GetPortfolio)
	r.Get("/realized-pnl/{owner}", s.GetRealizedPnL)
	r.Get("/tax-lots/{owner}", s.GetTaxLots)
	r.Post("/pnl/recompute", s.RecomputePnL)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	Owner     string          `json:"owner"`
	Asset     string          `json:"asset"`
	Side      model.Side      `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Fees      decimal.Decimal `json:"fees"`
	// Timestamp is optional; zero means "now".
	Timestamp time.Time `json:"timestamp"`
}

// SimulateRequest is the JSON body for POST /api/v1/simulate.
type SimulateRequest struct {
	Owner    string          `json:"owner"`
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// RecomputeFill is one fill in a recomputation request. Base-unit amounts
// travel as strings so arbitrary precision survives JSON.
type RecomputeFill struct {
	ID           string          `json:"id"`
	Side         model.Side      `json:"side"`
	Quantity     string          `json:"quantity"`
	Price        string          `json:"price"`
	Fee          string          `json:"fee"`
	Time         time.Time       `json:"time"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// RecomputeRequest is the JSON body for POST /api/v1/pnl/recompute.
type RecomputeRequest struct {
	Fills       []RecomputeFill `json:"fills"`
	MarkPrice   string          `json:"mark_price"`
	CurrentRate decimal.Decimal `json:"current_rate"`
}

// --- Handlers ---

// RecordTrade handles POST /api/v1/trades. BUY creates a lot; SELL consumes
// lots FIFO and records the sale transaction.
func (s *Service) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Side.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	switch req.Side {
	case model.SideBuy:
		lot, err := s.ledger.RecordBuy(ctx, req.Owner, req.Asset, req.Quantity, req.UnitPrice, req.Fees, req.Timestamp)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		metrics.TradesTotal.WithLabelValues(string(model.SideBuy)).Inc()
		metrics.TradeLatency.WithLabelValues(string(model.SideBuy)).Observe(time.Since(start).Seconds())
		s.broadcastTrade(req, lot.ID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(lot)

	case model.SideSell:
		result, err := s.ledger.RecordSell(ctx, req.Owner, req.Asset, req.Quantity, req.UnitPrice, req.Fees, req.Timestamp)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		metrics.TradesTotal.WithLabelValues(string(model.SideSell)).Inc()
		metrics.TradeLatency.WithLabelValues(string(model.SideSell)).Observe(time.Since(start).Seconds())
		metrics.LotsConsumed.Add(float64(len(result.Fragments)))
		if result.Sale.Shortfall.IsPositive() {
			metrics.SellShortfalls.Inc()
		}
		if result.Sale.RealizedPnL == nil {
			metrics.OrphanSells.Inc()
		}
		s.broadcastTrade(req, result.Sale.ID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(result)
	}
}

// SimulateSale handles POST /api/v1/simulate — a dry-run FIFO walk.
func (s *Service) SimulateSale(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.ledger.SimulateSale(r.Context(), req.Owner, req.Asset, req.Quantity, req.Price)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetPosition handles GET /api/v1/positions/{owner}/{asset}?price=0.8
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	assetID := chi.URLParam(r, "asset")

	var price *decimal.Decimal
	if raw := r.URL.Query().Get("price"); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, "invalid price: "+raw, http.StatusBadRequest)
			return
		}
		price = &p
	}

	summary, err := s.calc.ComputePosition(r.Context(), owner, assetID, price)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetPortfolio handles GET /api/v1/portfolio/{owner}?price=BTC:45000&price=ETH:3000
// Prices are optional; assets without one are reported without mark-to-market.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	priceMap := make(map[string]decimal.Decimal)
	for _, pair := range r.URL.Query()["price"] {
		sym, raw, ok := strings.Cut(pair, ":")
		if !ok {
			writeError(w, "price must be ASSET:VALUE, got "+pair, http.StatusBadRequest)
			return
		}
		p, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, "invalid price for "+sym, http.StatusBadRequest)
			return
		}
		priceMap[sym] = p
	}

	summaries, err := s.calc.ComputeAllPositions(r.Context(), owner, priceMap)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if summaries == nil {
		summaries = []model.PositionSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// GetRealizedPnL handles GET /api/v1/realized-pnl/{owner}?asset=BTC
func (s *Service) GetRealizedPnL(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	assetID := r.URL.Query().Get("asset")

	summary, err := s.ledger.ComputeRealizedPnL(r.Context(), owner, assetID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetTaxLots handles GET /api/v1/tax-lots/{owner}?asset=BTC&year=2025
func (s *Service) GetTaxLots(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	assetID := r.URL.Query().Get("asset")

	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "invalid year: "+raw, http.StatusBadRequest)
			return
		}
		year = y
	}

	report, err := s.calc.TaxLots(r.Context(), owner, assetID, year, time.Now().UTC())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// RecomputePnL handles POST /api/v1/pnl/recompute — the standalone integer
// base-unit recomputation over a caller-supplied fill history.
func (s *Service) RecomputePnL(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	markPrice, ok := new(big.Int).SetString(req.MarkPrice, 10)
	if !ok {
		writeError(w, "invalid mark_price: "+req.MarkPrice, http.StatusBadRequest)
		return
	}

	fills := make([]intpnl.Fill, 0, len(req.Fills))
	for _, rf := range req.Fills {
		fill, err := parseFill(rf)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		fills = append(fills, fill)
	}

	result, err := intpnl.Compute(fills, markPrice, req.CurrentRate)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func parseFill(rf RecomputeFill) (intpnl.Fill, error) {
	fill := intpnl.Fill{
		ID:           rf.ID,
		Side:         rf.Side,
		Time:         rf.Time,
		ExchangeRate: rf.ExchangeRate,
	}
	var ok bool
	if fill.Quantity, ok = new(big.Int).SetString(rf.Quantity, 10); !ok {
		return fill, errors.New("invalid fill quantity: " + rf.Quantity)
	}
	if fill.Price, ok = new(big.Int).SetString(rf.Price, 10); !ok {
		return fill, errors.New("invalid fill price: " + rf.Price)
	}
	if rf.Fee == "" {
		rf.Fee = "0"
	}
	if fill.Fee, ok = new(big.Int).SetString(rf.Fee, 10); !ok {
		return fill, errors.New("invalid fill fee: " + rf.Fee)
	}
	return fill, nil
}

func (s *Service) broadcastTrade(req TradeRequest, id string) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:     "trade_recorded",
		TradeID:  id,
		Owner:    req.Owner,
		Asset:    req.Asset,
		Side:     string(req.Side),
		Quantity: req.Quantity.String(),
		Price:    req.UnitPrice.String(),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidFees),
		errors.Is(err, asset.ErrInvalidSymbol),
		errors.Is(err, asset.ErrInvalidOwner),
		errors.Is(err, model.ErrInvalidSide):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientLots):
		return http.StatusConflict
	case errors.Is(err, position.ErrNoPosition):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
