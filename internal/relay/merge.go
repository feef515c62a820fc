package relay

import (
	"sort"

	"swarnapos/backend/internal/domain"
	"swarnapos/backend/internal/ledger"
)

// Merge folds a staff change set into the canonical dataset and returns the
// updated dataset with a report of what was admitted.
//
// Customers are deduplicated by id or phone, bills by id; duplicates are
// dropped silently and show up only in the added counts. Every newly
// admitted bill is replayed through the allocation engine against the
// canonical inventory, in listed order, so stock semantics are identical to
// a bill created on the admin device. Allocation failures become warnings,
// not aborts: a merged bill is valuable even when one of its lines cannot
// be covered. Dedup runs before allocation, which is what makes merging the
// same change set twice a stock-safe no-op.
func Merge(dataset domain.Dataset, changes domain.StaffChangeSet) (domain.Dataset, domain.MergeReport) {
	report := domain.MergeReport{}

	customers := make([]domain.Customer, len(dataset.Customers))
	copy(customers, dataset.Customers)

	for _, incoming := range changes.Customers {
		if customerExists(customers, incoming) {
			continue
		}
		customers = append(customers, incoming)
		report.CustomersAdded++
	}

	bills := make([]domain.Bill, len(dataset.Bills))
	copy(bills, dataset.Bills)

	inventory := dataset.Inventory
	for _, incoming := range changes.Bills {
		if billExists(bills, incoming.ID) {
			continue
		}
		var warnings []string
		inventory, warnings = ledger.Allocate(inventory, incoming.Items)
		report.Warnings = append(report.Warnings, warnings...)

		bills = append(bills, incoming)
		report.BillsAdded++
	}

	sort.SliceStable(bills, func(a, b int) bool {
		if bills[a].Date.Equal(bills[b].Date) {
			return bills[a].ID > bills[b].ID
		}
		return bills[a].Date.After(bills[b].Date)
	})

	dataset.Customers = customers
	dataset.Bills = bills
	dataset.Inventory = inventory
	return dataset, report
}

func customerExists(customers []domain.Customer, candidate domain.Customer) bool {
	for _, existing := range customers {
		if existing.ID == candidate.ID {
			return true
		}
		if candidate.Phone != "" && existing.Phone == candidate.Phone {
			return true
		}
	}
	return false
}

func billExists(bills []domain.Bill, id string) bool {
	for _, existing := range bills {
		if existing.ID == id {
			return true
		}
	}
	return false
}
