package ledger

import (
	"errors"
	"sort"

	"swarnapos/backend/internal/domain"
)

// BalanceEpsilon is the amount, in currency units, below which a due is
// treated as settled to absorb floating-point drift.
const BalanceEpsilon = 0.01

var (
	ErrPaymentExceedsDue = errors.New("payment exceeds outstanding due")
	ErrInvalidAmount     = errors.New("payment amount must be positive")
)

// PendingBalance derives a customer's outstanding balance from the bill
// list. It is never persisted; recomputing from history is what keeps the
// stored and true balances from drifting apart.
func PendingBalance(bills []domain.Bill, customerID string) float64 {
	total := 0.0
	for _, bill := range bills {
		if bill.CustomerID != customerID {
			continue
		}
		due := bill.GrandTotal - bill.AmountPaid
		if due > BalanceEpsilon {
			total += due
		}
	}
	if total < BalanceEpsilon {
		return 0
	}
	return total
}

// ApplyPayment walks the customer's unpaid bills oldest-first and applies
// the amount FIFO. An amount exceeding the total outstanding due is
// rejected outright; no bill is touched and no credit is recorded. The
// returned slice is a copy with only AmountPaid changed.
func ApplyPayment(bills []domain.Bill, customerID string, amount float64) ([]domain.Bill, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	updated := make([]domain.Bill, len(bills))
	copy(updated, bills)

	open := make([]int, 0, 4)
	outstanding := 0.0
	for i, bill := range updated {
		if bill.CustomerID != customerID {
			continue
		}
		due := bill.GrandTotal - bill.AmountPaid
		if due > BalanceEpsilon {
			open = append(open, i)
			outstanding += due
		}
	}

	if amount > outstanding+BalanceEpsilon {
		return nil, ErrPaymentExceedsDue
	}

	sort.SliceStable(open, func(a, b int) bool {
		if updated[open[a]].Date.Equal(updated[open[b]].Date) {
			return updated[open[a]].ID < updated[open[b]].ID
		}
		return updated[open[a]].Date.Before(updated[open[b]].Date)
	})

	remaining := amount
	for _, i := range open {
		if remaining <= BalanceEpsilon {
			break
		}
		due := updated[i].GrandTotal - updated[i].AmountPaid
		pay := due
		if remaining < pay {
			pay = remaining
		}
		updated[i].AmountPaid += pay
		remaining -= pay
	}

	return updated, nil
}

// ApplyPaymentToBill applies a payment against a single bill. Any amount
// exceeding that bill's own due is rejected as a no-op.
func ApplyPaymentToBill(bill domain.Bill, amount float64) (domain.Bill, error) {
	if amount <= 0 {
		return bill, ErrInvalidAmount
	}
	due := bill.GrandTotal - bill.AmountPaid
	if amount > due+BalanceEpsilon {
		return bill, ErrPaymentExceedsDue
	}
	bill.AmountPaid += amount
	if bill.AmountPaid > bill.GrandTotal {
		bill.AmountPaid = bill.GrandTotal
	}
	return bill, nil
}
