package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"swarnapos/backend/internal/cache"
	"swarnapos/backend/internal/domain"
	"swarnapos/backend/internal/ledger"
	"swarnapos/backend/internal/relay"
	"swarnapos/backend/internal/store"
	"swarnapos/backend/internal/store/memory"
)

func newStaffService() (*Service, context.Context) {
	svc := New(memory.NewSeeded(), cache.NoopBalanceCache{}, relay.NewChangeLog(), domain.RoleStaff, "staff-01", "Counter One", time.Second)
	ctx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
	return svc, ctx
}

func newAdminService() (*Service, context.Context) {
	svc := New(memory.NewSeeded(), cache.NoopBalanceCache{}, relay.NewChangeLog(), domain.RoleAdmin, "", "", time.Second)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	return svc, ctx
}

func ringInvoiceRequest(customerID string) domain.BillCreateRequest {
	return domain.BillCreateRequest{
		CustomerID: customerID,
		Type:       domain.BillTypeInvoice,
		Items: []domain.BillItem{
			{ItemID: "item-gring-002", Name: "Gold Ring", Weight: 4.7, Price: 30000, Quantity: 1},
		},
	}
}

func TestStaffWorkflowRecordsChangesAndDeductsStock(t *testing.T) {
	svc, ctx := newStaffService()

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Lakshmi Devi", Phone: "9840012345"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if customer.ID != "C0003" {
		t.Fatalf("expected C0003 after two seeded customers, got %s", customer.ID)
	}
	if customer.CreatedBy != "staff-01" {
		t.Fatalf("expected provenance staff-01, got %s", customer.CreatedBy)
	}

	resp, err := svc.CreateBill(ctx, ringInvoiceRequest(customer.ID))
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if len(resp.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", resp.Warnings)
	}

	prefix := time.Now().UTC().Format("20060102")
	if !strings.HasPrefix(resp.Bill.ID, prefix) || !strings.HasSuffix(resp.Bill.ID, "001") {
		t.Fatalf("unexpected bill id %s", resp.Bill.ID)
	}
	if math.Abs(resp.Bill.GrandTotal-30000) > ledger.BalanceEpsilon {
		t.Fatalf("expected grand total 30000, got %.2f", resp.Bill.GrandTotal)
	}

	exported, err := svc.ExportChanges(ctx)
	if err != nil {
		t.Fatalf("ExportChanges: %v", err)
	}
	if exported.ChangesCount != 2 {
		t.Fatalf("expected 2 accumulated changes, got %d", exported.ChangesCount)
	}

	items, err := svc.ListInventory(ctx)
	if err != nil {
		t.Fatalf("ListInventory: %v", err)
	}
	remnantSeen := false
	for _, item := range items {
		if item.ID == "item-gring-002" && item.Quantity != 4 {
			t.Fatalf("invoice must deduct stock locally, quantity %d", item.Quantity)
		}
		if strings.Contains(item.Name, "Remnant") {
			remnantSeen = true
		}
	}
	if !remnantSeen {
		t.Fatalf("expected a remnant item after under-weight unit sale")
	}
}

func TestEstimateBillDoesNotDeductStockLocally(t *testing.T) {
	svc, ctx := newStaffService()

	req := ringInvoiceRequest("C0001")
	req.Type = domain.BillTypeEstimate
	if _, err := svc.CreateBill(ctx, req); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}

	items, _ := svc.ListInventory(ctx)
	for _, item := range items {
		if item.ID == "item-gring-002" && item.Quantity != 5 {
			t.Fatalf("estimate must not deduct stock, quantity %d", item.Quantity)
		}
	}
}

func TestCreateBillDerivesMoneyFields(t *testing.T) {
	svc, ctx := newAdminService()

	resp, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		CustomerID: "C0001",
		Type:       domain.BillTypeEstimate,
		Items: []domain.BillItem{
			{ItemID: "item-scoin-002", Name: "Silver Coin", Weight: 20, Price: 1000, Quantity: 2},
		},
		LessWeightAmount:       100,
		MakingChargePercentage: 10,
		WastagePercentage:      5,
		BargainedAmount:        85,
	})
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}

	bill := resp.Bill
	if math.Abs(bill.TotalAmount-2000) > ledger.BalanceEpsilon {
		t.Fatalf("total: expected 2000, got %.2f", bill.TotalAmount)
	}
	if math.Abs(bill.FinalAmount-1900) > ledger.BalanceEpsilon {
		t.Fatalf("final: expected 1900, got %.2f", bill.FinalAmount)
	}
	if math.Abs(bill.MakingChargeAmount-190) > ledger.BalanceEpsilon {
		t.Fatalf("making: expected 190, got %.2f", bill.MakingChargeAmount)
	}
	if math.Abs(bill.WastageAmount-95) > ledger.BalanceEpsilon {
		t.Fatalf("wastage: expected 95, got %.2f", bill.WastageAmount)
	}
	if math.Abs(bill.GrandTotal-2100) > ledger.BalanceEpsilon {
		t.Fatalf("grand: expected 2100, got %.2f", bill.GrandTotal)
	}

	// Paying more than the grand total at creation is rejected.
	over := domain.BillCreateRequest{
		CustomerID: "C0001",
		Type:       domain.BillTypeEstimate,
		Items:      []domain.BillItem{{ItemID: "item-scoin-002", Name: "Silver Coin", Weight: 10, Price: 1000, Quantity: 1}},
		AmountPaid: 1500,
	}
	if _, err := svc.CreateBill(ctx, over); !errors.Is(err, ledger.ErrPaymentExceedsDue) {
		t.Fatalf("expected ErrPaymentExceedsDue, got %v", err)
	}
}

func TestSyncRoundTripMergeIsIdempotent(t *testing.T) {
	staffSvc, staffCtx := newStaffService()
	adminSvc, adminCtx := newAdminService()

	customer, err := staffSvc.CreateCustomer(staffCtx, domain.CustomerCreateRequest{Name: "Lakshmi Devi", Phone: "9840012345"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if _, err := staffSvc.CreateBill(staffCtx, ringInvoiceRequest(customer.ID)); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}

	exported, err := staffSvc.ExportChanges(staffCtx)
	if err != nil {
		t.Fatalf("ExportChanges: %v", err)
	}

	request, err := adminSvc.SubmitSyncRequest(adminCtx, domain.SyncSubmitRequest{
		Payload: exported.Payload, StaffID: "staff-01", StaffName: "Counter One", ChangesCount: exported.ChangesCount,
	})
	if err != nil {
		t.Fatalf("SubmitSyncRequest: %v", err)
	}
	if request.Status != domain.SyncStatusPending {
		t.Fatalf("expected pending, got %s", request.Status)
	}

	resolved, err := adminSvc.ResolveSyncRequest(adminCtx, request.ID, domain.SyncActionMerge)
	if err != nil {
		t.Fatalf("ResolveSyncRequest: %v", err)
	}
	if resolved.Request.Status != domain.SyncStatusMerged {
		t.Fatalf("expected merged, got %s", resolved.Request.Status)
	}
	if resolved.Report == nil || resolved.Report.CustomersAdded != 1 || resolved.Report.BillsAdded != 1 {
		t.Fatalf("unexpected merge report: %+v", resolved.Report)
	}

	items, _ := adminSvc.ListInventory(adminCtx)
	for _, item := range items {
		if item.ID == "item-gring-002" && item.Quantity != 4 {
			t.Fatalf("merge must replay stock deduction, quantity %d", item.Quantity)
		}
	}

	// Re-resolving the same request is a hard error.
	if _, err := adminSvc.ResolveSyncRequest(adminCtx, request.ID, domain.SyncActionMerge); !errors.Is(err, store.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	// The same payload submitted again merges as a clean no-op: dedup runs
	// before allocation, so stock is not deducted twice.
	again, err := adminSvc.SubmitSyncRequest(adminCtx, domain.SyncSubmitRequest{Payload: exported.Payload, StaffID: "staff-01"})
	if err != nil {
		t.Fatalf("SubmitSyncRequest: %v", err)
	}
	resolvedAgain, err := adminSvc.ResolveSyncRequest(adminCtx, again.ID, domain.SyncActionMerge)
	if err != nil {
		t.Fatalf("ResolveSyncRequest (duplicate): %v", err)
	}
	if resolvedAgain.Report.CustomersAdded != 0 || resolvedAgain.Report.BillsAdded != 0 {
		t.Fatalf("duplicate merge must admit nothing: %+v", resolvedAgain.Report)
	}
	items, _ = adminSvc.ListInventory(adminCtx)
	for _, item := range items {
		if item.ID == "item-gring-002" && item.Quantity != 4 {
			t.Fatalf("stock double-deducted on duplicate merge, quantity %d", item.Quantity)
		}
	}
}

func TestRejectLeavesDatasetUntouched(t *testing.T) {
	staffSvc, staffCtx := newStaffService()
	adminSvc, adminCtx := newAdminService()

	if _, err := staffSvc.CreateBill(staffCtx, ringInvoiceRequest("C0001")); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	exported, _ := staffSvc.ExportChanges(staffCtx)

	request, err := adminSvc.SubmitSyncRequest(adminCtx, domain.SyncSubmitRequest{Payload: exported.Payload, StaffID: "staff-01"})
	if err != nil {
		t.Fatalf("SubmitSyncRequest: %v", err)
	}

	resolved, err := adminSvc.ResolveSyncRequest(adminCtx, request.ID, domain.SyncActionReject)
	if err != nil {
		t.Fatalf("ResolveSyncRequest: %v", err)
	}
	if resolved.Request.Status != domain.SyncStatusRejected || resolved.Report != nil {
		t.Fatalf("unexpected reject result: %+v", resolved)
	}

	bills, _ := adminSvc.ListBills(adminCtx)
	if len(bills) != 0 {
		t.Fatalf("reject must not merge any bill, got %d", len(bills))
	}
	items, _ := adminSvc.ListInventory(adminCtx)
	for _, item := range items {
		if item.ID == "item-gring-002" && item.Quantity != 5 {
			t.Fatalf("reject must not touch stock, quantity %d", item.Quantity)
		}
	}
}

func TestMalformedPayloadLeavesRequestPending(t *testing.T) {
	adminSvc, adminCtx := newAdminService()

	request, err := adminSvc.SubmitSyncRequest(adminCtx, domain.SyncSubmitRequest{Payload: "%%%not-a-payload%%%", StaffID: "staff-01"})
	if err != nil {
		t.Fatalf("SubmitSyncRequest: %v", err)
	}

	if _, err := adminSvc.ResolveSyncRequest(adminCtx, request.ID, domain.SyncActionMerge); !errors.Is(err, relay.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	pending, err := adminSvc.ListSyncRequests(adminCtx, domain.SyncStatusPending)
	if err != nil {
		t.Fatalf("ListSyncRequests: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != request.ID {
		t.Fatalf("request must stay pending after decode failure")
	}

	// The operator can still reject it manually.
	if _, err := adminSvc.ResolveSyncRequest(adminCtx, request.ID, domain.SyncActionReject); err != nil {
		t.Fatalf("manual reject after decode failure: %v", err)
	}
}

func TestPermissionGuards(t *testing.T) {
	staffSvc, staffCtx := newStaffService()
	adminSvc, adminCtx := newAdminService()

	if _, err := staffSvc.CreateInventoryItem(staffCtx, domain.InventoryCreateRequest{Name: "Gold Stud", Category: "Gold", Weight: 2, Quantity: 1}); err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin guard on inventory create, got %v", err)
	}

	if _, err := adminSvc.ExportChanges(adminCtx); err == nil || !strings.Contains(err.Error(), "staff-device") {
		t.Fatalf("expected staff-device guard on export, got %v", err)
	}

	staffOnAdmin := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
	if _, err := adminSvc.ListSyncRequests(staffOnAdmin, ""); err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin guard on sync listing, got %v", err)
	}
	if _, err := adminSvc.ResolveSyncRequest(staffOnAdmin, "sync-1", domain.SyncActionMerge); err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin guard on resolve, got %v", err)
	}

	if _, err := staffSvc.CreateBill(context.Background(), ringInvoiceRequest("C0001")); err == nil || !strings.Contains(err.Error(), "actor required") {
		t.Fatalf("expected actor guard without context actor, got %v", err)
	}
}

func TestAdoptSnapshotEnforcesStaleness(t *testing.T) {
	staffSvc, staffCtx := newStaffService()

	current, err := staffSvc.Snapshot(staffCtx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	fresh := current
	fresh.Metadata.LastUpdated = current.Metadata.LastUpdated.Add(time.Minute)
	fresh.Customers = append([]domain.Customer(nil), current.Customers...)
	fresh.Customers = append(fresh.Customers, domain.Customer{ID: "C0050", Name: "Adopted Customer"})

	if err := staffSvc.AdoptSnapshot(staffCtx, domain.SnapshotAdoptRequest{Dataset: fresh}); err != nil {
		t.Fatalf("AdoptSnapshot: %v", err)
	}

	customers, _ := staffSvc.ListCustomers(staffCtx)
	found := false
	for _, customer := range customers {
		if customer.ID == "C0050" {
			found = true
		}
	}
	if !found {
		t.Fatalf("adopted snapshot not visible")
	}

	// Adopting the same snapshot again is stale and must be refused.
	if err := staffSvc.AdoptSnapshot(staffCtx, domain.SnapshotAdoptRequest{Dataset: fresh}); !errors.Is(err, store.ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
}

func TestRecordPaymentAppliesFIFOAcrossBills(t *testing.T) {
	svc, ctx := newAdminService()

	first, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		CustomerID: "C0001", Type: domain.BillTypeEstimate,
		Items: []domain.BillItem{{ItemID: "item-scoin-002", Name: "Silver Coin", Weight: 10, Price: 100, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	second, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		CustomerID: "C0001", Type: domain.BillTypeEstimate,
		Items: []domain.BillItem{{ItemID: "item-scoin-002", Name: "Silver Coin", Weight: 10, Price: 50, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}

	resp, err := svc.RecordPayment(ctx, domain.PaymentRequest{CustomerID: "C0001", Amount: 120})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if resp.BillsTouched != 2 {
		t.Fatalf("expected both bills touched, got %d", resp.BillsTouched)
	}
	if math.Abs(resp.PendingBalance-30) > ledger.BalanceEpsilon {
		t.Fatalf("expected pending 30, got %.2f", resp.PendingBalance)
	}

	bills, _ := svc.ListBills(ctx)
	for _, bill := range bills {
		switch bill.ID {
		case first.Bill.ID:
			if math.Abs(bill.AmountPaid-100) > ledger.BalanceEpsilon {
				t.Fatalf("older bill should be settled first, paid %.2f", bill.AmountPaid)
			}
		case second.Bill.ID:
			if math.Abs(bill.AmountPaid-20) > ledger.BalanceEpsilon {
				t.Fatalf("newer bill should carry spillover 20, paid %.2f", bill.AmountPaid)
			}
		}
	}

	// Overpayment is rejected whole.
	if _, err := svc.RecordPayment(ctx, domain.PaymentRequest{CustomerID: "C0001", Amount: 500}); !errors.Is(err, ledger.ErrPaymentExceedsDue) {
		t.Fatalf("expected ErrPaymentExceedsDue, got %v", err)
	}

	// Settle the remainder against the second bill directly.
	paid, err := svc.PayBill(ctx, second.Bill.ID, domain.BillPaymentRequest{Amount: 30})
	if err != nil {
		t.Fatalf("PayBill: %v", err)
	}
	if math.Abs(paid.AmountPaid-50) > ledger.BalanceEpsilon {
		t.Fatalf("expected bill fully paid at 50, got %.2f", paid.AmountPaid)
	}

	balances, err := svc.CustomerBalances(ctx)
	if err != nil {
		t.Fatalf("CustomerBalances: %v", err)
	}
	for _, balance := range balances {
		if balance.CustomerID == "C0001" && balance.PendingBalance != 0 {
			t.Fatalf("expected settled balance, got %.2f", balance.PendingBalance)
		}
	}
}

func TestCreateBillWithUnknownCustomerFails(t *testing.T) {
	svc, ctx := newAdminService()
	if _, err := svc.CreateBill(ctx, ringInvoiceRequest("C9999")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBillReportsAllocationWarnings(t *testing.T) {
	svc, ctx := newAdminService()

	resp, err := svc.CreateBill(ctx, domain.BillCreateRequest{
		CustomerID: "C0001", Type: domain.BillTypeInvoice,
		Items: []domain.BillItem{{ItemID: "item-vanished", Name: "Gold Stud", Weight: 2, Price: 5000, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("warned bill must still be created: %v", err)
	}
	if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "insufficient stock") {
		t.Fatalf("expected insufficient stock warning, got %v", resp.Warnings)
	}

	bills, _ := svc.ListBills(ctx)
	if len(bills) != 1 {
		t.Fatalf("bill with warnings must be persisted")
	}
}

func TestClearChangesEmptiesTheLog(t *testing.T) {
	svc, ctx := newStaffService()

	if _, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Anand"}); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	exported, _ := svc.ExportChanges(ctx)
	if exported.ChangesCount != 1 {
		t.Fatalf("expected 1 change, got %d", exported.ChangesCount)
	}

	if err := svc.ClearChanges(ctx); err != nil {
		t.Fatalf("ClearChanges: %v", err)
	}
	exported, _ = svc.ExportChanges(ctx)
	if exported.ChangesCount != 0 {
		t.Fatalf("expected empty change log, got %d", exported.ChangesCount)
	}
}

func fullRingInvoiceRequest(customerID string) domain.BillCreateRequest {
	return domain.BillCreateRequest{
		CustomerID: customerID,
		Type:       domain.BillTypeInvoice,
		Items: []domain.BillItem{
			{ItemID: "item-gring-002", Name: "Gold Ring", Weight: 5.0, Price: 28000, Quantity: 1},
		},
	}
}

func TestConcurrentMergeAndBillCreationLoseNothing(t *testing.T) {
	svc, ctx := newAdminService()

	payload, err := relay.Encode(domain.StaffChangeSet{
		Customers: []domain.Customer{{ID: "C0010", Name: "Lakshmi Devi", Phone: "9840012345"}},
		Bills: []domain.Bill{{
			ID: "20250315001", CustomerID: "C0010", Type: domain.BillTypeInvoice,
			Date:  time.Date(2025, 3, 15, 11, 0, 0, 0, time.UTC),
			Items: []domain.BillItem{{ItemID: "item-gring-002", Name: "Gold Ring", Weight: 5.0, Price: 28000, Quantity: 1}},
		}},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	request, err := svc.SubmitSyncRequest(ctx, domain.SyncSubmitRequest{Payload: payload, StaffID: "staff-01", ChangesCount: 2})
	if err != nil {
		t.Fatalf("SubmitSyncRequest: %v", err)
	}

	var wg sync.WaitGroup
	var mergeErr, createErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, mergeErr = svc.ResolveSyncRequest(ctx, request.ID, domain.SyncActionMerge)
	}()
	go func() {
		defer wg.Done()
		_, createErr = svc.CreateBill(ctx, fullRingInvoiceRequest("C0001"))
	}()
	wg.Wait()

	if mergeErr != nil {
		t.Fatalf("ResolveSyncRequest: %v", mergeErr)
	}
	if createErr != nil {
		t.Fatalf("CreateBill: %v", createErr)
	}

	bills, err := svc.ListBills(ctx)
	if err != nil {
		t.Fatalf("ListBills: %v", err)
	}
	if len(bills) != 2 {
		t.Fatalf("expected both bills to survive, got %d", len(bills))
	}

	items, err := svc.ListInventory(ctx)
	if err != nil {
		t.Fatalf("ListInventory: %v", err)
	}
	ring := domain.InventoryItem{}
	for _, item := range items {
		if item.ID == "item-gring-002" {
			ring = item
		}
	}
	if ring.Quantity != 3 {
		t.Fatalf("expected both unit sales deducted, quantity %d", ring.Quantity)
	}
}

func TestConcurrentInvoiceCreationsBothDeductStock(t *testing.T) {
	svc, ctx := newAdminService()

	var wg sync.WaitGroup
	var errs [2]error
	var resps [2]domain.BillCreateResponse
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resps[i], errs[i] = svc.CreateBill(ctx, fullRingInvoiceRequest("C0001"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("CreateBill %d: %v", i, err)
		}
	}
	if resps[0].Bill.ID == resps[1].Bill.ID {
		t.Fatalf("bill ids must not collide, both got %s", resps[0].Bill.ID)
	}

	items, err := svc.ListInventory(ctx)
	if err != nil {
		t.Fatalf("ListInventory: %v", err)
	}
	for _, item := range items {
		if item.ID == "item-gring-002" && item.Quantity != 3 {
			t.Fatalf("expected both deductions to stick, quantity %d", item.Quantity)
		}
	}
}
