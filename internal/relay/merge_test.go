package relay

import (
	"math"
	"testing"
	"time"

	"swarnapos/backend/internal/domain"
	"swarnapos/backend/internal/ledger"
)

func canonicalDataset() domain.Dataset {
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.Dataset{
		Inventory: []domain.InventoryItem{
			{ID: "item-chain", Name: "Gold Chain", Category: "Gold", SerialNo: "001", Weight: 12.5, Purity: "22K", Quantity: 1, CreatedAt: created},
			{ID: "item-ring", Name: "Gold Ring", Category: "Gold", SerialNo: "002", Weight: 25.0, Purity: "22K", Quantity: 5, CreatedAt: created},
		},
		Customers: []domain.Customer{
			{ID: "C0001", Name: "Meena Kumari", Phone: "9840011223", CreatedBy: "admin", CreatedAt: created},
		},
		Bills: []domain.Bill{
			{ID: "20250301001", CustomerID: "C0001", Type: domain.BillTypeInvoice, Date: created, GrandTotal: 500,
				Items: []domain.BillItem{{ItemID: "item-old", Name: "Old Sale", Weight: 1, Quantity: 1}}},
		},
		Metadata: domain.SnapshotMetadata{LastUpdated: created},
	}
}

func staffChanges() domain.StaffChangeSet {
	date := time.Date(2025, 3, 15, 11, 0, 0, 0, time.UTC)
	return domain.StaffChangeSet{
		Customers: []domain.Customer{
			{ID: "C0002", Name: "Lakshmi Devi", Phone: "9840012345", CreatedBy: "staff-01", CreatedAt: date},
		},
		Bills: []domain.Bill{
			{
				ID: "20250315001", CustomerID: "C0002", CustomerName: "Lakshmi Devi",
				Type: domain.BillTypeInvoice, Date: date, GrandTotal: 30000,
				Items: []domain.BillItem{{ItemID: "item-ring", Name: "Gold Ring", Weight: 4.7, Price: 30000, Quantity: 1}},
			},
		},
	}
}

func TestMergeAdmitsNewRecordsAndReplaysStock(t *testing.T) {
	merged, report := Merge(canonicalDataset(), staffChanges())

	if report.CustomersAdded != 1 || report.BillsAdded != 1 {
		t.Fatalf("expected 1 customer and 1 bill added, got %+v", report)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", report.Warnings)
	}
	if len(merged.Customers) != 2 {
		t.Fatalf("expected 2 customers, got %d", len(merged.Customers))
	}
	if len(merged.Bills) != 2 {
		t.Fatalf("expected 2 bills, got %d", len(merged.Bills))
	}

	// The merged invoice is replayed through allocation: the ring batch
	// drops to 4 units and a 0.3g remnant appears.
	var ring *domain.InventoryItem
	remnants := 0
	for i := range merged.Inventory {
		if merged.Inventory[i].ID == "item-ring" {
			ring = &merged.Inventory[i]
		}
		if merged.Inventory[i].Quantity == 1 && math.Abs(merged.Inventory[i].Weight-0.3) <= ledger.WeightEpsilon {
			remnants++
		}
	}
	if ring == nil || ring.Quantity != 4 {
		t.Fatalf("expected ring batch quantity 4 after merge")
	}
	if remnants != 1 {
		t.Fatalf("expected exactly one 0.3g remnant, got %d", remnants)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	once, first := Merge(canonicalDataset(), staffChanges())
	if first.CustomersAdded != 1 || first.BillsAdded != 1 {
		t.Fatalf("first merge should admit records, got %+v", first)
	}

	twice, second := Merge(once, staffChanges())
	if second.CustomersAdded != 0 || second.BillsAdded != 0 {
		t.Fatalf("second merge must be a no-op, got %+v", second)
	}
	if len(twice.Bills) != len(once.Bills) {
		t.Fatalf("bill count changed on re-merge: %d vs %d", len(twice.Bills), len(once.Bills))
	}
	// Stock must not be double-deducted.
	for i := range twice.Inventory {
		if twice.Inventory[i] != once.Inventory[i] {
			t.Fatalf("inventory changed on re-merge: %+v vs %+v", twice.Inventory[i], once.Inventory[i])
		}
	}
}

func TestMergeDedupsCustomerByPhone(t *testing.T) {
	changes := staffChanges()
	// Same person registered under a different id on the staff device.
	changes.Customers = []domain.Customer{
		{ID: "C0042", Name: "Meena K", Phone: "9840011223"},
	}
	changes.Bills = nil

	merged, report := Merge(canonicalDataset(), changes)
	if report.CustomersAdded != 0 {
		t.Fatalf("expected phone duplicate to be dropped, got %+v", report)
	}
	if len(merged.Customers) != 1 {
		t.Fatalf("expected customer list unchanged, got %d", len(merged.Customers))
	}
}

func TestMergeAdmitsCustomerWithEmptyPhone(t *testing.T) {
	changes := domain.StaffChangeSet{
		Customers: []domain.Customer{
			{ID: "C0050", Name: "Walk-in A"},
			{ID: "C0051", Name: "Walk-in B"},
		},
	}
	_, report := Merge(canonicalDataset(), changes)
	if report.CustomersAdded != 2 {
		t.Fatalf("empty phones must not collide with each other, got %+v", report)
	}
}

func TestMergeCollectsAllocationWarnings(t *testing.T) {
	changes := staffChanges()
	changes.Bills[0].Items = []domain.BillItem{
		{ItemID: "item-vanished", Name: "Gold Stud", Weight: 2.0, Quantity: 1},
	}

	merged, report := Merge(canonicalDataset(), changes)
	if report.BillsAdded != 1 {
		t.Fatalf("warned bill must still be admitted, got %+v", report)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected 1 allocation warning, got %v", report.Warnings)
	}
	if len(merged.Bills) != 2 {
		t.Fatalf("expected bill admitted despite warning")
	}
}

func TestMergeSortsBillsNewestFirst(t *testing.T) {
	merged, _ := Merge(canonicalDataset(), staffChanges())
	for i := 1; i < len(merged.Bills); i++ {
		prev, cur := merged.Bills[i-1], merged.Bills[i]
		if cur.Date.After(prev.Date) {
			t.Fatalf("bills not sorted newest first: %s before %s", prev.ID, cur.ID)
		}
	}
	if merged.Bills[0].ID != "20250315001" {
		t.Fatalf("expected newest bill first, got %s", merged.Bills[0].ID)
	}
}
