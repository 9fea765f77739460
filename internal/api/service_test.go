package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/api"
	"github.com/simtrade/ledger-engine/internal/ledger"
	"github.com/simtrade/ledger-engine/internal/model"
	"github.com/simtrade/ledger-engine/internal/position"
	"github.com/simtrade/ledger-engine/internal/store"
)

func newTestRouter(t *testing.T) (chi.Router, *ledger.Ledger) {
	t.Helper()
	st := store.NewMemoryStore()
	l := ledger.New(st)
	calc := position.NewCalculator(st)
	svc := api.NewService(l, calc, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return r, l
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestRecordTrade_Buy(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner:     "alice",
		Asset:     "BTC",
		Side:      model.SideBuy,
		Quantity:  decimal.NewFromInt(100),
		UnitPrice: decimal.NewFromFloat(0.5),
		Fees:      decimal.NewFromInt(1),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var lot model.Lot
	decodeInto(t, rec, &lot)
	if lot.ID == "" {
		t.Error("expected lot to be assigned an ID")
	}
	if !lot.CostBasis.Equal(decimal.NewFromInt(50)) {
		t.Errorf("cost basis: expected 50, got %s", lot.CostBasis)
	}
	if !lot.Remaining.Equal(decimal.NewFromInt(100)) {
		t.Errorf("remaining: expected 100, got %s", lot.Remaining)
	}
}

func TestRecordTrade_SellConsumesFIFO(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, price := range []float64{0.4, 0.6} {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
			Owner:     "alice",
			Asset:     "BTC",
			Side:      model.SideBuy,
			Quantity:  decimal.NewFromInt(50),
			UnitPrice: decimal.NewFromFloat(price),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seeding buy: got %d: %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner:     "alice",
		Asset:     "BTC",
		Side:      model.SideSell,
		Quantity:  decimal.NewFromInt(75),
		UnitPrice: decimal.NewFromFloat(0.8),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var result ledger.SellResult
	decodeInto(t, rec, &result)
	if !result.Sale.QuantitySold.Equal(decimal.NewFromInt(75)) {
		t.Errorf("quantity sold: expected 75, got %s", result.Sale.QuantitySold)
	}
	if len(result.Fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(result.Fragments))
	}
	// 75×0.8 − (50×0.4 + 25×0.6) = 60 − 35 = 25.
	if result.Sale.RealizedPnL == nil || !result.Sale.RealizedPnL.Equal(decimal.NewFromInt(25)) {
		t.Errorf("realized PnL: expected 25, got %v", result.Sale.RealizedPnL)
	}
}

func TestRecordTrade_OrphanSellStillRecorded(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner:     "bob",
		Asset:     "ETH",
		Side:      model.SideSell,
		Quantity:  decimal.NewFromInt(10),
		UnitPrice: decimal.NewFromInt(2000),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("orphan sell must be accepted, got %d: %s", rec.Code, rec.Body.String())
	}

	var result ledger.SellResult
	decodeInto(t, rec, &result)
	if result.Sale.RealizedPnL != nil {
		t.Errorf("orphan sell PnL must be null, got %s", result.Sale.RealizedPnL)
	}
	if !result.Sale.Shortfall.Equal(decimal.NewFromInt(10)) {
		t.Errorf("shortfall: expected 10, got %s", result.Sale.Shortfall)
	}
}

func TestRecordTrade_Validation(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name string
		req  api.TradeRequest
	}{
		{"invalid side", api.TradeRequest{Owner: "alice", Asset: "BTC", Side: "HOLD", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
		{"zero quantity", api.TradeRequest{Owner: "alice", Asset: "BTC", Side: model.SideBuy, UnitPrice: decimal.NewFromInt(1)}},
		{"negative price", api.TradeRequest{Owner: "alice", Asset: "BTC", Side: model.SideBuy, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(-1)}},
		{"bad symbol", api.TradeRequest{Owner: "alice", Asset: "btc!!", Side: model.SideBuy, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
		{"bad owner", api.TradeRequest{Owner: "", Asset: "BTC", Side: model.SideBuy, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, r, http.MethodPost, "/api/v1/trades", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSimulateSale(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner: "alice", Asset: "BTC", Side: model.SideBuy,
		Quantity: decimal.NewFromInt(100), UnitPrice: decimal.NewFromFloat(0.5),
	})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/simulate", api.SimulateRequest{
		Owner:    "alice",
		Asset:    "BTC",
		Quantity: decimal.NewFromInt(40),
		Price:    decimal.NewFromFloat(0.8),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result ledger.SimulationResult
	decodeInto(t, rec, &result)
	// 40×0.8 − 40×0.5 = 12.
	if !result.RealizedPnL.Equal(decimal.NewFromInt(12)) {
		t.Errorf("simulated PnL: expected 12, got %s", result.RealizedPnL)
	}

	// Simulation must not consume anything.
	rec = doJSON(t, r, http.MethodGet, "/api/v1/positions/alice/BTC", nil)
	var summary model.PositionSummary
	decodeInto(t, rec, &summary)
	if !summary.TotalQuantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("simulation mutated the position: %s", summary.TotalQuantity)
	}
}

func TestSimulateSale_NoLotsConflict(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/simulate", api.SimulateRequest{
		Owner:    "alice",
		Asset:    "BTC",
		Quantity: decimal.NewFromInt(10),
		Price:    decimal.NewFromInt(1),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for no open lots, got %d", rec.Code)
	}
}

func TestGetPosition(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner: "alice", Asset: "BTC", Side: model.SideBuy,
		Quantity: decimal.NewFromInt(100), UnitPrice: decimal.NewFromFloat(0.5),
	})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/positions/alice/BTC?price=0.8", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary model.PositionSummary
	decodeInto(t, rec, &summary)
	if !summary.AvgPrice.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("avg price: expected 0.5, got %s", summary.AvgPrice)
	}
	if summary.UnrealizedPnL == nil || !summary.UnrealizedPnL.Equal(decimal.NewFromInt(30)) {
		t.Errorf("unrealized PnL: expected 30, got %v", summary.UnrealizedPnL)
	}
}

func TestGetPosition_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/positions/alice/BTC", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for empty position, got %d", rec.Code)
	}
}

func TestGetPosition_BadPrice(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/positions/alice/BTC?price=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad price, got %d", rec.Code)
	}
}

func TestGetPortfolio(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, a := range []string{"BTC", "ETH"} {
		doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
			Owner: "alice", Asset: a, Side: model.SideBuy,
			Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100),
		})
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/portfolio/alice?price=BTC:150", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summaries []model.PositionSummary
	decodeInto(t, rec, &summaries)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(summaries))
	}
	for _, s := range summaries {
		switch s.Asset {
		case "BTC":
			if s.UnrealizedPnL == nil || !s.UnrealizedPnL.Equal(decimal.NewFromInt(500)) {
				t.Errorf("BTC unrealized: expected 500, got %v", s.UnrealizedPnL)
			}
		case "ETH":
			if s.UnrealizedPnL != nil {
				t.Errorf("ETH has no price, mark-to-market must be omitted")
			}
		}
	}
}

func TestGetPortfolio_EmptyIsArray(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/portfolio/nobody", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Errorf("empty portfolio must encode as [], got %s", body)
	}
}

func TestGetPortfolio_BadPricePair(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/portfolio/alice?price=BTC", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed price pair, got %d", rec.Code)
	}
}

func TestGetRealizedPnL(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner: "alice", Asset: "BTC", Side: model.SideBuy,
		Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100),
	})
	doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner: "alice", Asset: "BTC", Side: model.SideSell,
		Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(130),
	})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/realized-pnl/alice?asset=BTC", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary model.RealizedPnLSummary
	decodeInto(t, rec, &summary)
	if !summary.TotalRealizedPnL.Equal(decimal.NewFromInt(300)) {
		t.Errorf("total realized: expected 300, got %s", summary.TotalRealizedPnL)
	}
	if summary.WinCount != 1 {
		t.Errorf("win count: expected 1, got %d", summary.WinCount)
	}
}

func TestGetTaxLots(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Owner: "alice", Asset: "BTC", Side: model.SideBuy,
		Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100),
	})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/tax-lots/alice?asset=BTC", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report model.TaxLotReport
	decodeInto(t, rec, &report)
	// Acquired just now: short term.
	if len(report.ShortTerm) != 1 || len(report.LongTerm) != 0 {
		t.Fatalf("expected 1 short-term lot, got short=%d long=%d",
			len(report.ShortTerm), len(report.LongTerm))
	}
	if !report.ShortTermCostBasis.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("short-term basis: expected 1000, got %s", report.ShortTermCostBasis)
	}
}

func TestGetTaxLots_BadYear(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/tax-lots/alice?year=twenty", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad year, got %d", rec.Code)
	}
}

func TestRecomputePnL(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/pnl/recompute", api.RecomputeRequest{
		Fills: []api.RecomputeFill{
			{ID: "b1", Side: model.SideBuy, Quantity: "100", Price: "40", Fee: "0", Time: mustTime(t, "2025-03-01T12:00:00Z"), ExchangeRate: decimal.NewFromInt(1)},
			{ID: "s1", Side: model.SideSell, Quantity: "60", Price: "70", Time: mustTime(t, "2025-03-02T12:00:00Z"), ExchangeRate: decimal.NewFromInt(1)},
		},
		MarkPrice:   "80",
		CurrentRate: decimal.NewFromInt(1),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		RealizedPnL    json.Number `json:"realized_pnl"`
		OpenQuantity   json.Number `json:"open_quantity"`
		TotalCostBasis json.Number `json:"total_cost_basis"`
	}
	decodeInto(t, rec, &result)
	// 60×70 − 60×40 = 1800.
	if result.RealizedPnL.String() != "1800" {
		t.Errorf("realized: expected 1800, got %s", result.RealizedPnL)
	}
	if result.OpenQuantity.String() != "40" {
		t.Errorf("open quantity: expected 40, got %s", result.OpenQuantity)
	}
	if result.TotalCostBasis.String() != "1600" {
		t.Errorf("cost basis: expected 1600, got %s", result.TotalCostBasis)
	}
}

func TestRecomputePnL_BadAmounts(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/pnl/recompute", api.RecomputeRequest{
		Fills: []api.RecomputeFill{
			{ID: "b1", Side: model.SideBuy, Quantity: "not-a-number", Price: "40"},
		},
		MarkPrice:   "80",
		CurrentRate: decimal.NewFromInt(1),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unparseable quantity, got %d", rec.Code)
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing time %q: %v", s, err)
	}
	return parsed
}
