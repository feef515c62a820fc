package store

import (
	"context"
	"errors"

	"swarnapos/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrAlreadyResolved = errors.New("sync request already resolved")
	ErrStaleSnapshot   = errors.New("snapshot is not newer than current dataset")
)

// Repository is one device's durable replica plus its sync-request queue.
// Mutating operations are atomic with respect to the device's own state; no
// reader ever observes a half-applied bill or merge.
type Repository interface {
	LoadDataset(ctx context.Context) (domain.Dataset, error)
	// ReplaceDataset swaps the whole replica in one step. The incoming
	// metadata timestamp must be strictly newer than the current one, or
	// ErrStaleSnapshot is returned and nothing changes.
	ReplaceDataset(ctx context.Context, dataset domain.Dataset) error

	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListBills(ctx context.Context) ([]domain.Bill, error)
	// ApplyBill commits a new bill together with the inventory state the
	// allocation engine produced for it, as one atomic step.
	ApplyBill(ctx context.Context, bill domain.Bill, inventory []domain.InventoryItem) (*domain.Bill, error)
	// UpdateBillPayments overwrites AmountPaid for the given bills, keyed
	// by bill id. Unknown ids are an error; nothing is partially applied.
	UpdateBillPayments(ctx context.Context, bills []domain.Bill) error

	CreateSyncRequest(ctx context.Context, request domain.SyncRequest) (*domain.SyncRequest, error)
	ListSyncRequests(ctx context.Context, status string) ([]domain.SyncRequest, error)
	GetSyncRequest(ctx context.Context, id string) (*domain.SyncRequest, error)
	// ResolveSyncRequestStatus transitions pending -> merged/rejected.
	// Transitions are one-shot; resolving a resolved request returns
	// ErrAlreadyResolved.
	ResolveSyncRequestStatus(ctx context.Context, id string, status string) (*domain.SyncRequest, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
