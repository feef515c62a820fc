package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"swarnapos/backend/internal/domain"
	"swarnapos/backend/internal/store"
)

// Store is an in-memory Repository used for dev mode and tests. All
// mutating methods hold the write lock for their full duration, which is
// what gives each device the single-writer atomicity the merge flow
// assumes.
type Store struct {
	mu              sync.RWMutex
	inventory       []domain.InventoryItem
	customers       []domain.Customer
	bills           []domain.Bill
	staff           []domain.StaffMember
	distributors    []domain.Distributor
	adminProfile    domain.AdminProfile
	lastUpdated     time.Time
	syncRequests    map[string]domain.SyncRequest
	syncOrder       []string
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		syncRequests:    make(map[string]domain.SyncRequest),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	inventory := []domain.InventoryItem{
		{ID: "item-gchain-001", Name: "Gold Chain", Category: "Gold", SerialNo: "001", Weight: 12.5, Purity: "22K", Quantity: 1, DistributorID: "dist-001", CreatedAt: now},
		{ID: "item-gring-002", Name: "Gold Ring", Category: "Gold", SerialNo: "002", Weight: 25.0, Purity: "22K", Quantity: 5, DistributorID: "dist-001", CreatedAt: now},
		{ID: "item-gbangle-003", Name: "Gold Bangle", Category: "Gold", SerialNo: "003", Weight: 18.2, Purity: "18K", Quantity: 1, DistributorID: "dist-002", CreatedAt: now},
		{ID: "item-sanklet-001", Name: "Silver Anklet", Category: "Silver", SerialNo: "001", Weight: 32.0, Purity: "925", Quantity: 1, DistributorID: "dist-002", CreatedAt: now},
		{ID: "item-scoin-002", Name: "Silver Coin", Category: "Silver", SerialNo: "002", Weight: 100.0, Purity: "999", Quantity: 10, DistributorID: "dist-001", CreatedAt: now},
	}

	customers := []domain.Customer{
		{ID: "C0001", Name: "Meena Kumari", Phone: "9840011223", CreatedBy: "admin", CreatedAt: now},
		{ID: "C0002", Name: "Ravi Shankar", Phone: "9840044556", CreatedBy: "admin", CreatedAt: now},
	}

	return &Store{
		inventory: inventory,
		customers: customers,
		bills:     []domain.Bill{},
		staff: []domain.StaffMember{
			{ID: "staff-01", Name: "Counter One"},
		},
		distributors: []domain.Distributor{
			{ID: "dist-001", Name: "Thanga Maligai Wholesale", Phone: "9840099887"},
			{ID: "dist-002", Name: "Nagas Bullion", Phone: "9840077665"},
		},
		adminProfile: domain.AdminProfile{
			Name:     "Owner",
			ShopName: "Swarna Jewellers",
		},
		lastUpdated:     now,
		syncRequests:    make(map[string]domain.SyncRequest),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) LoadDataset(_ context.Context) (domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datasetLocked(), nil
}

func (s *Store) datasetLocked() domain.Dataset {
	dataset := domain.Dataset{
		Inventory:    make([]domain.InventoryItem, len(s.inventory)),
		Customers:    make([]domain.Customer, len(s.customers)),
		Bills:        make([]domain.Bill, len(s.bills)),
		Staff:        make([]domain.StaffMember, len(s.staff)),
		Distributors: make([]domain.Distributor, len(s.distributors)),
		AdminProfile: s.adminProfile,
		Metadata:     domain.SnapshotMetadata{LastUpdated: s.lastUpdated},
	}
	copy(dataset.Inventory, s.inventory)
	copy(dataset.Customers, s.customers)
	copy(dataset.Bills, s.bills)
	copy(dataset.Staff, s.staff)
	copy(dataset.Distributors, s.distributors)
	return dataset
}

func (s *Store) ReplaceDataset(_ context.Context, dataset domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !dataset.Metadata.LastUpdated.After(s.lastUpdated) {
		return store.ErrStaleSnapshot
	}

	s.inventory = append([]domain.InventoryItem(nil), dataset.Inventory...)
	s.customers = append([]domain.Customer(nil), dataset.Customers...)
	s.bills = append([]domain.Bill(nil), dataset.Bills...)
	s.staff = append([]domain.StaffMember(nil), dataset.Staff...)
	s.distributors = append([]domain.Distributor(nil), dataset.Distributors...)
	s.adminProfile = dataset.AdminProfile
	s.lastUpdated = dataset.Metadata.LastUpdated.UTC()
	return nil
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, len(s.inventory))
	copy(items, s.inventory)

	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if a.Category == b.Category {
			return strings.Compare(a.SerialNo, b.SerialNo)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" || item.Name == "" || item.Category == "" || item.SerialNo == "" {
		return nil, store.ErrInvalidRequest
	}
	if item.Weight < 0 || item.Quantity < 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, existing := range s.inventory {
		if existing.ID == item.ID {
			return nil, store.ErrInvalidRequest
		}
	}

	s.inventory = append(s.inventory, item)
	s.lastUpdated = time.Now().UTC()
	created := item
	return &created, nil
}

func (s *Store) UpdateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Weight < 0 || item.Quantity < 0 {
		return nil, store.ErrInvalidRequest
	}
	for i, existing := range s.inventory {
		if existing.ID == item.ID {
			s.inventory[i] = item
			s.lastUpdated = time.Now().UTC()
			updated := item
			return &updated, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteInventoryItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.inventory {
		if existing.ID == id {
			s.inventory = append(s.inventory[:i], s.inventory[i+1:]...)
			s.lastUpdated = time.Now().UTC()
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, len(s.customers))
	copy(customers, s.customers)
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.ID, b.ID)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	for _, existing := range s.customers {
		if existing.ID == customer.ID {
			return nil, store.ErrInvalidRequest
		}
	}

	s.customers = append(s.customers, customer)
	s.lastUpdated = time.Now().UTC()
	created := customer
	return &created, nil
}

func (s *Store) ListBills(_ context.Context) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, len(s.bills))
	copy(bills, s.bills)
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.Date.Equal(b.Date) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return bills, nil
}

func (s *Store) ApplyBill(_ context.Context, bill domain.Bill, inventory []domain.InventoryItem) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.ID == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, existing := range s.bills {
		if existing.ID == bill.ID {
			return nil, store.ErrInvalidRequest
		}
	}

	s.bills = append(s.bills, bill)
	if inventory != nil {
		s.inventory = append([]domain.InventoryItem(nil), inventory...)
	}
	s.lastUpdated = time.Now().UTC()
	created := bill
	return &created, nil
}

func (s *Store) UpdateBillPayments(_ context.Context, bills []domain.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int, len(s.bills))
	for i, bill := range s.bills {
		index[bill.ID] = i
	}
	for _, bill := range bills {
		if _, ok := index[bill.ID]; !ok {
			return store.ErrNotFound
		}
	}
	for _, bill := range bills {
		s.bills[index[bill.ID]].AmountPaid = bill.AmountPaid
	}
	s.lastUpdated = time.Now().UTC()
	return nil
}

func (s *Store) CreateSyncRequest(_ context.Context, request domain.SyncRequest) (*domain.SyncRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if request.ID == "" || request.DataPayload == "" {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.syncRequests[request.ID]; exists {
		return nil, store.ErrInvalidRequest
	}

	s.syncRequests[request.ID] = request
	s.syncOrder = append(s.syncOrder, request.ID)
	created := request
	return &created, nil
}

func (s *Store) ListSyncRequests(_ context.Context, status string) ([]domain.SyncRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests := make([]domain.SyncRequest, 0, len(s.syncOrder))
	for _, id := range s.syncOrder {
		request := s.syncRequests[id]
		if status != "" && request.Status != status {
			continue
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (s *Store) GetSyncRequest(_ context.Context, id string) (*domain.SyncRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, exists := s.syncRequests[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := request
	return &found, nil
}

func (s *Store) ResolveSyncRequestStatus(_ context.Context, id string, status string) (*domain.SyncRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, exists := s.syncRequests[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if request.Status != domain.SyncStatusPending {
		return nil, store.ErrAlreadyResolved
	}
	if status != domain.SyncStatusMerged && status != domain.SyncStatusRejected {
		return nil, store.ErrInvalidRequest
	}

	request.Status = status
	s.syncRequests[id] = request
	resolved := request
	return &resolved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidRequest
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
