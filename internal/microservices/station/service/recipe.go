package service

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"station-system/internal/domain"
)

// Consumption sums quantityPerUnit * quantity over every recipe entry of
// every line, keyed by ingredient.
func Consumption(lines []domain.OrderLine, menu Menu) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, line := range lines {
		item, ok := menu[line.Name]
		if !ok {
			return nil, fmt.Errorf("menu item %q: %w", line.Name, domain.ErrNotFound)
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, e := range item.Recipe {
			out[e.IngredientID] = out[e.IngredientID].Add(e.QuantityPerUnit.Mul(qty))
		}
	}
	return out, nil
}

func ingredientIDs(consumed map[string]decimal.Decimal) []string {
	ids := make([]string, 0, len(consumed))
	for id := range consumed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
