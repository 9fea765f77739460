package position_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTaxLots_ShortVsLongTerm(t *testing.T) {
	calc, l := newTestEnv(t)

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	buy(t, l, "user1", "BTC", 10, 1.0, asOf.AddDate(0, 0, -400)) // long-term
	buy(t, l, "user1", "BTC", 20, 2.0, asOf.AddDate(0, 0, -100)) // short-term

	report, err := calc.TaxLots(context.Background(), "user1", "BTC", 0, asOf)
	if err != nil {
		t.Fatalf("TaxLots failed: %v", err)
	}

	if len(report.LongTerm) != 1 || len(report.ShortTerm) != 1 {
		t.Fatalf("expected 1 long / 1 short, got %d / %d", len(report.LongTerm), len(report.ShortTerm))
	}
	if !report.LongTermCostBasis.Equal(d(10)) {
		t.Errorf("long-term cost basis: expected 10, got %s", report.LongTermCostBasis)
	}
	if !report.ShortTermCostBasis.Equal(d(40)) {
		t.Errorf("short-term cost basis: expected 40, got %s", report.ShortTermCostBasis)
	}
	if report.LongTerm[0].HeldDays != 400 {
		t.Errorf("expected 400 held days, got %d", report.LongTerm[0].HeldDays)
	}
}

func TestTaxLots_Exactly365DaysIsShortTerm(t *testing.T) {
	calc, l := newTestEnv(t)

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	buy(t, l, "user1", "BTC", 10, 1.0, asOf.AddDate(0, 0, -365))

	report, err := calc.TaxLots(context.Background(), "user1", "BTC", 0, asOf)
	if err != nil {
		t.Fatalf("TaxLots failed: %v", err)
	}
	if len(report.ShortTerm) != 1 || len(report.LongTerm) != 0 {
		t.Error("held exactly 365 days must classify short-term")
	}
}

func TestTaxLots_YearFilter(t *testing.T) {
	calc, l := newTestEnv(t)

	buy(t, l, "user1", "BTC", 10, 1.0, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	buy(t, l, "user1", "BTC", 20, 2.0, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	report, err := calc.TaxLots(context.Background(), "user1", "BTC", 2025, asOf)
	if err != nil {
		t.Fatalf("TaxLots failed: %v", err)
	}

	total := len(report.ShortTerm) + len(report.LongTerm)
	if total != 1 {
		t.Fatalf("year filter: expected 1 lot, got %d", total)
	}
}

func TestTaxLots_AllAssets(t *testing.T) {
	calc, l := newTestEnv(t)

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	buy(t, l, "user1", "BTC", 10, 1.0, asOf.AddDate(0, 0, -400))
	buy(t, l, "user1", "ETH", 5, 2.0, asOf.AddDate(0, 0, -50))

	report, err := calc.TaxLots(context.Background(), "user1", "", 0, asOf)
	if err != nil {
		t.Fatalf("TaxLots failed: %v", err)
	}
	if len(report.LongTerm)+len(report.ShortTerm) != 2 {
		t.Errorf("expected both assets' lots, got %d long / %d short",
			len(report.LongTerm), len(report.ShortTerm))
	}
}

func TestTaxLots_OnlyOpenPortionCounts(t *testing.T) {
	calc, l := newTestEnv(t)

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	buy(t, l, "user1", "BTC", 10, 1.0, asOf.AddDate(0, 0, -100))
	if _, err := l.RecordSell(context.Background(), "user1", "BTC", d(4), d(2), decimal.Zero, asOf); err != nil {
		t.Fatalf("RecordSell failed: %v", err)
	}

	report, err := calc.TaxLots(context.Background(), "user1", "BTC", 0, asOf)
	if err != nil {
		t.Fatalf("TaxLots failed: %v", err)
	}
	// 6 remaining × 1.0 — the sold portion no longer carries basis.
	if !report.ShortTermCostBasis.Equal(d(6)) {
		t.Errorf("expected open-portion basis 6, got %s", report.ShortTermCostBasis)
	}
}
