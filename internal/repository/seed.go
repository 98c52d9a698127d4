package repository

import (
	"github.com/shopspring/decimal"

	"station-system/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DemoMenu is a small cafe menu used by the memory store and by bootstrap --seed.
func DemoMenu() []domain.MenuItem {
	return []domain.MenuItem{
		{Name: "Cappuccino", Category: "coffee", Price: dec("3.50"), Recipe: []domain.RecipeEntry{
			{IngredientID: "coffee_beans", QuantityPerUnit: dec("18")},
			{IngredientID: "milk", QuantityPerUnit: dec("120")},
		}},
		{Name: "Latte", Category: "coffee", Price: dec("3.80"), Recipe: []domain.RecipeEntry{
			{IngredientID: "coffee_beans", QuantityPerUnit: dec("18")},
			{IngredientID: "milk", QuantityPerUnit: dec("200")},
		}},
		{Name: "Green Tea", Category: "tea", Price: dec("2.50"), Recipe: []domain.RecipeEntry{
			{IngredientID: "green_tea", QuantityPerUnit: dec("3")},
		}},
		{Name: "Croissant", Category: "pastry", Price: dec("2.20"), Recipe: []domain.RecipeEntry{
			{IngredientID: "croissant_dough", QuantityPerUnit: dec("1")},
			{IngredientID: "butter", QuantityPerUnit: dec("10")},
		}},
		{Name: "Club Sandwich", Category: "food", Price: dec("7.90"), Recipe: []domain.RecipeEntry{
			{IngredientID: "bread", QuantityPerUnit: dec("3")},
			{IngredientID: "chicken", QuantityPerUnit: dec("90")},
			{IngredientID: "butter", QuantityPerUnit: dec("5")},
		}},
	}
}

func DemoInventory() []domain.InventoryItem {
	item := func(id, name, stock, unit, min string) domain.InventoryItem {
		return domain.InventoryItem{ID: id, Name: name, Stock: dec(stock), Unit: unit, MinThreshold: dec(min), Version: 1}
	}
	return []domain.InventoryItem{
		item("coffee_beans", "Coffee beans", "5000", "g", "500"),
		item("milk", "Milk", "20000", "ml", "2000"),
		item("green_tea", "Green tea leaves", "500", "g", "50"),
		item("croissant_dough", "Croissant dough", "40", "pcs", "5"),
		item("butter", "Butter", "2000", "g", "200"),
		item("bread", "Bread slices", "120", "pcs", "12"),
		item("chicken", "Chicken breast", "5000", "g", "500"),
	}
}

// SeedMemory loads the demo menu and inventory into m.
func SeedMemory(m *Memory) {
	for _, it := range DemoMenu() {
		m.PutMenuItem(it)
	}
	for _, it := range DemoInventory() {
		m.PutInventoryItem(it)
	}
}
