package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"swarnapos/backend/internal/domain"
)

const billDateLayout = "20060102"

// NextBillID produces a date-prefixed sequential bill id (YYYYMMDDNNN).
// The per-day sequence is computed over the union of the canonical bill
// list and any not-yet-merged local bills, so a disconnected staff device
// and the admin device are unlikely to collide on the same day. Numbering
// is advisory only; the merge dedup by id is the real uniqueness backstop.
func NextBillID(bills []domain.Bill, pending []domain.Bill, now time.Time) string {
	prefix := now.UTC().Format(billDateLayout)

	max := 0
	scan := func(list []domain.Bill) {
		for _, bill := range list {
			if len(bill.ID) != len(prefix)+3 || !strings.HasPrefix(bill.ID, prefix) {
				continue
			}
			if n, err := strconv.Atoi(bill.ID[len(prefix):]); err == nil && n > max {
				max = n
			}
		}
	}
	scan(bills)
	scan(pending)

	return fmt.Sprintf("%s%03d", prefix, max+1)
}

// NextCustomerID produces the next sequential customer code (C + 4-digit
// counter) over the union of canonical and not-yet-merged customers.
// Cross-device collisions are possible and absorbed by merge dedup.
func NextCustomerID(customers []domain.Customer, pending []domain.Customer) string {
	max := 0
	scan := func(list []domain.Customer) {
		for _, customer := range list {
			if !strings.HasPrefix(customer.ID, "C") {
				continue
			}
			if n, err := strconv.Atoi(customer.ID[1:]); err == nil && n > max {
				max = n
			}
		}
	}
	scan(customers)
	scan(pending)

	return fmt.Sprintf("C%04d", max+1)
}
