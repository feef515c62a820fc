package ledger

import (
	"fmt"
	"math"
	"strconv"

	"swarnapos/backend/internal/domain"
)

// WeightEpsilon is the tolerance, in grams, below which a weight difference
// is treated as zero.
const WeightEpsilon = 0.001

// Allocate consumes stock for a bill's line items and returns the updated
// inventory. Each line is attempted independently; failures are reported as
// warnings and never abort the other lines. The input slice is not mutated.
//
// A quantity-1 item is a unique piece sold by weight: the sold weight is
// subtracted and a near-zero remainder snaps the item to sold out. A batch
// (quantity > 1) is decremented by unit count; when a single unit sells at
// a weight that differs from the batch's nominal per-unit weight, the
// leftover is split off as a remnant item with a fresh serial in the same
// category.
func Allocate(inventory []domain.InventoryItem, items []domain.BillItem) ([]domain.InventoryItem, []string) {
	updated := make([]domain.InventoryItem, len(inventory))
	copy(updated, inventory)

	warnings := make([]string, 0, 2)

	for _, line := range items {
		idx := -1
		for i := range updated {
			if updated[i].ID == line.ItemID {
				idx = i
				break
			}
		}
		if idx < 0 || updated[idx].Quantity < line.Quantity {
			warnings = append(warnings, fmt.Sprintf("insufficient stock for %s", line.Name))
			continue
		}

		item := updated[idx]
		if item.Quantity == 1 {
			if line.Weight > item.Weight+WeightEpsilon {
				warnings = append(warnings, fmt.Sprintf("weight %.3fg exceeds stock %.3fg for %s", line.Weight, item.Weight, line.Name))
				continue
			}
			item.Weight -= line.Weight
			if item.Weight < WeightEpsilon {
				item.Weight = 0
				item.Quantity = 0
			}
			updated[idx] = item
			continue
		}

		perUnit := item.Weight / float64(item.Quantity)
		item.Quantity -= line.Quantity
		updated[idx] = item

		// A single-unit sale lighter than nominal leaves a physical
		// leftover that must not vanish from the books. A sale heavier
		// than nominal cannot mint stock with negative weight, so it is
		// reported for the operator to reconcile instead.
		if line.Quantity == 1 {
			leftover := perUnit - line.Weight
			if leftover < -WeightEpsilon {
				warnings = append(warnings, fmt.Sprintf("sold weight %.3fg exceeds per-unit %.3fg for %s", line.Weight, perUnit, line.Name))
			} else if math.Abs(leftover) > WeightEpsilon {
				serial := NextSerialNo(updated, item.Category)
				updated = append(updated, domain.InventoryItem{
					ID:            fmt.Sprintf("%s-r%s", item.ID, serial),
					Name:          item.Name + " (Remnant)",
					Category:      item.Category,
					SerialNo:      serial,
					Weight:        leftover,
					Purity:        item.Purity,
					Quantity:      1,
					DistributorID: item.DistributorID,
					CreatedAt:     item.CreatedAt,
				})
			}
		}
	}

	return updated, warnings
}

// NextSerialNo returns the next zero-padded per-category serial over the
// given items, including any remnants appended earlier in the same
// allocation pass.
func NextSerialNo(items []domain.InventoryItem, category string) string {
	max := 0
	for _, item := range items {
		if item.Category != category {
			continue
		}
		if n, err := strconv.Atoi(item.SerialNo); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%03d", max+1)
}
