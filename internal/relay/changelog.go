package relay

import (
	"sync"

	"swarnapos/backend/internal/domain"
)

// ChangeLog is the staff device's append-only buffer of locally created
// records since the last successful hand-off. Clearing it is the staff
// operator's explicit acknowledgement that the exported payload reached an
// admin: clearing early loses data silently, clearing late only risks a
// duplicate submission that merge dedup already tolerates.
type ChangeLog struct {
	mu        sync.Mutex
	customers []domain.Customer
	bills     []domain.Bill
}

func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

func (l *ChangeLog) AddCustomer(customer domain.Customer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.customers = append(l.customers, customer)
}

func (l *ChangeLog) AddBill(bill domain.Bill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bills = append(l.bills, bill)
}

// Snapshot returns a copy of the accumulated change set.
func (l *ChangeLog) Snapshot() domain.StaffChangeSet {
	l.mu.Lock()
	defer l.mu.Unlock()

	changes := domain.StaffChangeSet{
		Customers: make([]domain.Customer, len(l.customers)),
		Bills:     make([]domain.Bill, len(l.bills)),
	}
	copy(changes.Customers, l.customers)
	copy(changes.Bills, l.bills)
	return changes
}

func (l *ChangeLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.customers) + len(l.bills)
}

func (l *ChangeLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.customers = nil
	l.bills = nil
}
