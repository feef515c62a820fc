package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"swarnapos/backend/internal/cache"
	"swarnapos/backend/internal/domain"
	"swarnapos/backend/internal/ledger"
	"swarnapos/backend/internal/relay"
	"swarnapos/backend/internal/store"
	"swarnapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const balanceCacheKey = "customer-balances"

// Service orchestrates the device's replica: bill creation with inventory
// allocation, payments, the staff change log, and the admin sync queue.
// Permission checks live here, not in the HTTP layer, so the core stays
// safe to call from any transport or from tests.
type Service struct {
	repo      store.Repository
	balances  cache.BalanceCache
	changes   *relay.ChangeLog
	role      string
	staffID   string
	staffName string
	cacheTTL  time.Duration

	// Serializes every mutation of the device's replica. Each mutating
	// operation is a read-modify-write over the dataset (id allocation,
	// inventory deduction, merge), so they must not interleave; a single
	// device sees little write traffic and a plain mutex covers it.
	mu sync.Mutex
}

func New(repo store.Repository, balances cache.BalanceCache, changes *relay.ChangeLog, role string, staffID string, staffName string, cacheTTL time.Duration) *Service {
	if role == "" {
		role = domain.RoleAdmin
	}
	if changes == nil {
		changes = relay.NewChangeLog()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:      repo,
		balances:  balances,
		changes:   changes,
		role:      role,
		staffID:   staffID,
		staffName: staffName,
		cacheTTL:  cacheTTL,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("authenticated actor required")
	}
	return actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

func (s *Service) invalidateBalances(ctx context.Context) {
	if err := s.balances.Invalidate(ctx, balanceCacheKey); err != nil {
		log.Printf("[service] WARN: failed to invalidate balance cache: %v", err)
	}
}

// --- inventory ---

func (s *Service) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListInventory(ctx)
}

func (s *Service) CreateInventoryItem(ctx context.Context, req domain.InventoryCreateRequest) (domain.InventoryItem, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Purity = strings.TrimSpace(req.Purity)
	if req.Name == "" || req.Category == "" {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}
	if req.Weight < 0 || req.Quantity < 1 {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}

	items, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	item := domain.InventoryItem{
		ID:            xid.New("item"),
		Name:          req.Name,
		Category:      req.Category,
		SerialNo:      ledger.NextSerialNo(items, req.Category),
		Weight:        req.Weight,
		Purity:        req.Purity,
		Quantity:      req.Quantity,
		DistributorID: req.DistributorID,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := s.repo.CreateInventoryItem(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *created, nil
}

func (s *Service) UpdateInventoryItem(ctx context.Context, id string, req domain.InventoryUpdateRequest) (domain.InventoryItem, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}

	items, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	var existing *domain.InventoryItem
	for i := range items {
		if items[i].ID == id {
			existing = &items[i]
			break
		}
	}
	if existing == nil {
		return domain.InventoryItem{}, store.ErrNotFound
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.Weight != nil {
		if *req.Weight < 0 {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.Weight = *req.Weight
	}
	if req.Purity != nil {
		updated.Purity = strings.TrimSpace(*req.Purity)
	}
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.Quantity = *req.Quantity
	}

	saved, err := s.repo.UpdateInventoryItem(ctx, updated)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteInventoryItem(ctx context.Context, id string) error {
	if _, err := s.requireAdmin(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidRequest
	}
	return s.repo.DeleteInventoryItem(ctx, id)
}

// --- customers ---

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidRequest
	}

	existing, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	createdBy := domain.RoleAdmin
	if s.role == domain.RoleStaff {
		createdBy = s.staffID
		if createdBy == "" {
			createdBy = actor.Username
		}
	}

	pending := s.changes.Snapshot()
	customer := domain.Customer{
		ID:        ledger.NextCustomerID(existing, pending.Customers),
		Name:      req.Name,
		Phone:     req.Phone,
		DOB:       strings.TrimSpace(req.DOB),
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	if s.role == domain.RoleStaff {
		s.changes.AddCustomer(*created)
	}
	s.invalidateBalances(ctx)
	return *created, nil
}

// --- bills ---

func (s *Service) ListBills(ctx context.Context) ([]domain.Bill, error) {
	return s.repo.ListBills(ctx)
}

// CreateBill derives the frozen monetary fields, allocates a collision-
// resistant bill id, and runs the inventory allocation engine for INVOICE
// bills. Allocation failures come back as warnings on a still-created
// bill; the operator decides what to do with a partially covered sale.
func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.BillCreateResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.BillCreateResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.Type != domain.BillTypeEstimate && req.Type != domain.BillTypeInvoice {
		return domain.BillCreateResponse{}, store.ErrInvalidRequest
	}
	if len(req.Items) == 0 {
		return domain.BillCreateResponse{}, store.ErrInvalidRequest
	}
	for _, item := range req.Items {
		if item.ItemID == "" || item.Quantity < 1 || item.Price < 0 || item.Weight < 0 {
			return domain.BillCreateResponse{}, store.ErrInvalidRequest
		}
	}
	if req.LessWeightAmount < 0 || req.BargainedAmount < 0 || req.AmountPaid < 0 {
		return domain.BillCreateResponse{}, store.ErrInvalidRequest
	}
	if req.MakingChargePercentage < 0 || req.WastagePercentage < 0 {
		return domain.BillCreateResponse{}, store.ErrInvalidRequest
	}

	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.BillCreateResponse{}, err
	}
	var customer *domain.Customer
	for i := range customers {
		if customers[i].ID == req.CustomerID {
			customer = &customers[i]
			break
		}
	}
	if customer == nil {
		return domain.BillCreateResponse{}, fmt.Errorf("customer %s: %w", req.CustomerID, store.ErrNotFound)
	}

	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return domain.BillCreateResponse{}, err
	}

	totalAmount := 0.0
	for _, item := range req.Items {
		totalAmount += item.Price * float64(item.Quantity)
	}
	finalAmount := totalAmount - req.LessWeightAmount
	if finalAmount < 0 {
		finalAmount = 0
	}
	makingCharge := round2(finalAmount * req.MakingChargePercentage / 100)
	wastage := round2(finalAmount * req.WastagePercentage / 100)
	grandTotal := round2(finalAmount + makingCharge + wastage - req.BargainedAmount)
	if grandTotal < 0 {
		return domain.BillCreateResponse{}, store.ErrInvalidRequest
	}
	if req.AmountPaid > grandTotal+ledger.BalanceEpsilon {
		return domain.BillCreateResponse{}, ledger.ErrPaymentExceedsDue
	}

	pending := s.changes.Snapshot()
	now := time.Now().UTC()

	bill := domain.Bill{
		ID:                     ledger.NextBillID(bills, pending.Bills, now),
		CustomerID:             customer.ID,
		CustomerName:           customer.Name,
		Type:                   req.Type,
		Date:                   now,
		Items:                  req.Items,
		TotalAmount:            round2(totalAmount),
		LessWeightAmount:       round2(req.LessWeightAmount),
		FinalAmount:            round2(finalAmount),
		MakingChargePercentage: req.MakingChargePercentage,
		MakingChargeAmount:     makingCharge,
		WastagePercentage:      req.WastagePercentage,
		WastageAmount:          wastage,
		BargainedAmount:        round2(req.BargainedAmount),
		GrandTotal:             grandTotal,
		AmountPaid:             round2(req.AmountPaid),
		CreatedBy:              actor.Username,
	}

	// Only an INVOICE deducts stock on direct creation. ESTIMATE bills
	// deduct later, when the merge reconciler replays them.
	var updatedInventory []domain.InventoryItem
	var warnings []string
	if bill.Type == domain.BillTypeInvoice {
		inventory, err := s.repo.ListInventory(ctx)
		if err != nil {
			return domain.BillCreateResponse{}, err
		}
		updatedInventory, warnings = ledger.Allocate(inventory, bill.Items)
	}

	created, err := s.repo.ApplyBill(ctx, bill, updatedInventory)
	if err != nil {
		return domain.BillCreateResponse{}, err
	}

	if s.role == domain.RoleStaff {
		s.changes.AddBill(*created)
	}
	s.invalidateBalances(ctx)

	if len(warnings) > 0 {
		log.Printf("[service] WARN: bill %s created with %d allocation warning(s)", created.ID, len(warnings))
	}
	return domain.BillCreateResponse{Bill: *created, Warnings: warnings}, nil
}

// --- payments & balances ---

func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.PaymentResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		return domain.PaymentResponse{}, store.ErrInvalidRequest
	}

	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	updated, err := ledger.ApplyPayment(bills, req.CustomerID, req.Amount)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	touched := make([]domain.Bill, 0, 4)
	for i := range updated {
		if updated[i].AmountPaid != bills[i].AmountPaid {
			touched = append(touched, updated[i])
		}
	}
	if err := s.repo.UpdateBillPayments(ctx, touched); err != nil {
		return domain.PaymentResponse{}, err
	}
	s.invalidateBalances(ctx)

	return domain.PaymentResponse{
		CustomerID:     req.CustomerID,
		AmountApplied:  req.Amount,
		BillsTouched:   len(touched),
		PendingBalance: ledger.PendingBalance(updated, req.CustomerID),
	}, nil
}

func (s *Service) PayBill(ctx context.Context, billID string, req domain.BillPaymentRequest) (domain.Bill, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.Bill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	billID = strings.TrimSpace(billID)
	if billID == "" {
		return domain.Bill{}, store.ErrInvalidRequest
	}

	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return domain.Bill{}, err
	}
	var target *domain.Bill
	for i := range bills {
		if bills[i].ID == billID {
			target = &bills[i]
			break
		}
	}
	if target == nil {
		return domain.Bill{}, store.ErrNotFound
	}

	paid, err := ledger.ApplyPaymentToBill(*target, req.Amount)
	if err != nil {
		return domain.Bill{}, err
	}
	if err := s.repo.UpdateBillPayments(ctx, []domain.Bill{paid}); err != nil {
		return domain.Bill{}, err
	}
	s.invalidateBalances(ctx)
	return paid, nil
}

// CustomerBalances derives every customer's pending balance from the bill
// list. Results are cached briefly; the cache is dropped on any mutation
// so the bill history stays the single source of truth.
func (s *Service) CustomerBalances(ctx context.Context) ([]domain.CustomerBalance, error) {
	if cached, hit, err := s.balances.Get(ctx, balanceCacheKey); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: balance cache read failed: %v", err)
	}

	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return nil, err
	}

	balances := make([]domain.CustomerBalance, 0, len(customers))
	for _, customer := range customers {
		balances = append(balances, domain.CustomerBalance{
			CustomerID:     customer.ID,
			CustomerName:   customer.Name,
			PendingBalance: round2(ledger.PendingBalance(bills, customer.ID)),
		})
	}

	if err := s.balances.Set(ctx, balanceCacheKey, balances, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: balance cache write failed: %v", err)
	}
	return balances, nil
}

// --- staff change log ---

func (s *Service) ExportChanges(ctx context.Context) (domain.ExportChangesResponse, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.ExportChangesResponse{}, err
	}
	if s.role != domain.RoleStaff {
		return domain.ExportChangesResponse{}, fmt.Errorf("change export is a staff-device operation")
	}

	changes := s.changes.Snapshot()
	payload, err := relay.Encode(changes)
	if err != nil {
		return domain.ExportChangesResponse{}, err
	}
	return domain.ExportChangesResponse{
		Payload:      payload,
		ChangesCount: changes.Count(),
	}, nil
}

// ClearChanges empties the change log. Callers must only invoke it after
// the staff operator confirms the exported payload reached an admin.
func (s *Service) ClearChanges(ctx context.Context) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	if s.role != domain.RoleStaff {
		return fmt.Errorf("change log clearing is a staff-device operation")
	}
	s.changes.Clear()
	return nil
}

// --- sync request queue (admin side) ---

func (s *Service) SubmitSyncRequest(ctx context.Context, req domain.SyncSubmitRequest) (domain.SyncRequest, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.SyncRequest{}, err
	}

	req.Payload = strings.TrimSpace(req.Payload)
	if req.Payload == "" {
		return domain.SyncRequest{}, store.ErrInvalidRequest
	}
	if req.StaffID == "" {
		req.StaffID = actor.Username
	}
	if req.StaffName == "" {
		req.StaffName = req.StaffID
	}

	request := domain.SyncRequest{
		ID:           xid.New("sync"),
		StaffID:      req.StaffID,
		StaffName:    req.StaffName,
		ChangesCount: req.ChangesCount,
		DataPayload:  req.Payload,
		Status:       domain.SyncStatusPending,
		CreatedAt:    time.Now().UTC(),
	}

	created, err := s.repo.CreateSyncRequest(ctx, request)
	if err != nil {
		return domain.SyncRequest{}, err
	}
	return *created, nil
}

func (s *Service) ListSyncRequests(ctx context.Context, status string) ([]domain.SyncRequest, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListSyncRequests(ctx, strings.TrimSpace(status))
}

// ResolveSyncRequest performs the one-shot pending->merged/rejected
// transition. A merge decodes the payload, folds it into the canonical
// dataset and replays inventory effects; a decode failure aborts the
// attempt and leaves the request pending and the dataset untouched.
func (s *Service) ResolveSyncRequest(ctx context.Context, id string, action string) (domain.SyncResolveResponse, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.SyncResolveResponse{}, err
	}

	id = strings.TrimSpace(id)
	action = strings.ToLower(strings.TrimSpace(action))
	if id == "" {
		return domain.SyncResolveResponse{}, store.ErrInvalidRequest
	}
	if action != domain.SyncActionMerge && action != domain.SyncActionReject {
		return domain.SyncResolveResponse{}, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	request, err := s.repo.GetSyncRequest(ctx, id)
	if err != nil {
		return domain.SyncResolveResponse{}, err
	}
	if request.Status != domain.SyncStatusPending {
		return domain.SyncResolveResponse{}, store.ErrAlreadyResolved
	}

	if action == domain.SyncActionReject {
		resolved, err := s.repo.ResolveSyncRequestStatus(ctx, id, domain.SyncStatusRejected)
		if err != nil {
			return domain.SyncResolveResponse{}, err
		}
		return domain.SyncResolveResponse{Request: *resolved}, nil
	}

	changes, err := relay.Decode(request.DataPayload)
	if err != nil {
		return domain.SyncResolveResponse{}, err
	}

	dataset, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return domain.SyncResolveResponse{}, err
	}

	merged, report := relay.Merge(dataset, changes)
	merged.Metadata.LastUpdated = time.Now().UTC()

	if err := s.repo.ReplaceDataset(ctx, merged); err != nil {
		return domain.SyncResolveResponse{}, err
	}

	resolved, err := s.repo.ResolveSyncRequestStatus(ctx, id, domain.SyncStatusMerged)
	if err != nil {
		return domain.SyncResolveResponse{}, err
	}
	s.invalidateBalances(ctx)

	if len(report.Warnings) > 0 {
		log.Printf("[service] WARN: merge of sync request %s finished with %d allocation warning(s)", id, len(report.Warnings))
	}
	return domain.SyncResolveResponse{Request: *resolved, Report: &report}, nil
}

// --- snapshot exchange ---

func (s *Service) Snapshot(ctx context.Context) (domain.Dataset, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.Dataset{}, err
	}
	return s.repo.LoadDataset(ctx)
}

// AdoptSnapshot replaces the local replica with an admin-exported dataset.
// The repository rejects snapshots whose timestamp is not strictly newer
// than the currently adopted one, so a stale export can never roll a
// device backwards.
func (s *Service) AdoptSnapshot(ctx context.Context, req domain.SnapshotAdoptRequest) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	if s.role != domain.RoleStaff {
		return fmt.Errorf("snapshot adoption is a staff-device operation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.ReplaceDataset(ctx, req.Dataset); err != nil {
		return err
	}
	s.invalidateBalances(ctx)
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
