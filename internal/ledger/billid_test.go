package ledger

import (
	"testing"
	"time"

	"swarnapos/backend/internal/domain"
)

func TestNextBillIDFirstOfDay(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	if got := NextBillID(nil, nil, now); got != "20250315001" {
		t.Fatalf("expected 20250315001, got %q", got)
	}
}

func TestNextBillIDIncrementsWithinDay(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	bills := []domain.Bill{
		{ID: "20250315001"},
		{ID: "20250315002"},
		{ID: "20250314009"},
	}
	if got := NextBillID(bills, nil, now); got != "20250315003" {
		t.Fatalf("expected 20250315003, got %q", got)
	}
}

func TestNextBillIDCountsPendingLocalBills(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	bills := []domain.Bill{{ID: "20250315001"}}
	pending := []domain.Bill{{ID: "20250315004"}}
	if got := NextBillID(bills, pending, now); got != "20250315005" {
		t.Fatalf("expected 20250315005, got %q", got)
	}
}

func TestNextBillIDIgnoresForeignFormats(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	bills := []domain.Bill{
		{ID: "legacy-12"},
		{ID: "202503150012"},
	}
	if got := NextBillID(bills, nil, now); got != "20250315001" {
		t.Fatalf("expected 20250315001, got %q", got)
	}
}

func TestNextCustomerID(t *testing.T) {
	customers := []domain.Customer{{ID: "C0001"}, {ID: "C0007"}}
	pending := []domain.Customer{{ID: "C0009"}}
	if got := NextCustomerID(customers, pending); got != "C0010" {
		t.Fatalf("expected C0010, got %q", got)
	}
	if got := NextCustomerID(nil, nil); got != "C0001" {
		t.Fatalf("expected C0001 for empty registry, got %q", got)
	}
}
