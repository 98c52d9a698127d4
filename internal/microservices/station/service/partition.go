package service

import (
	"context"
	"fmt"

	"station-system/internal/domain"
	"station-system/internal/repository"
)

// Menu is the catalog snapshot used by one transaction attempt.
type Menu map[string]domain.MenuItem

// LoadMenu reads the menu items named by the order's lines.
func LoadMenu(ctx context.Context, catalog repository.Catalog, names []string) (Menu, error) {
	menu := make(Menu, len(names))
	for _, n := range names {
		if _, ok := menu[n]; ok {
			continue
		}
		it, err := catalog.MenuItem(ctx, n)
		if err != nil {
			return nil, err
		}
		menu[n] = it
	}
	return menu, nil
}

// Partitioner assigns order lines to stations by menu category.
type Partitioner struct {
	routing domain.Routing
}

func NewPartitioner(routing domain.Routing) *Partitioner {
	return &Partitioner{routing: routing}
}

// Owns reports whether the menu item is prepared at st.
func (p *Partitioner) Owns(st domain.Station, item domain.MenuItem) bool {
	owner, ok := p.routing.StationFor(item.Category)
	return ok && owner == st
}

// RelevantItems returns the lines of o that belong to st and that st has not
// prepared yet. A line whose menu item is missing from menu is ErrNotFound.
func (p *Partitioner) RelevantItems(o domain.Order, st domain.Station, menu Menu) ([]domain.OrderLine, error) {
	out := make([]domain.OrderLine, 0, len(o.Items))
	for _, line := range o.Items {
		item, ok := menu[line.Name]
		if !ok {
			return nil, fmt.Errorf("menu item %q: %w", line.Name, domain.ErrNotFound)
		}
		if p.Owns(st, item) && !o.IsPrepared(st, line.Name) {
			out = append(out, line)
		}
	}
	return out, nil
}

// PendingItems is RelevantItems for read models: lines with an unknown menu
// item are skipped instead of failing the whole order.
func (p *Partitioner) PendingItems(o domain.Order, st domain.Station, menu Menu) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(o.Items))
	for _, line := range o.Items {
		item, ok := menu[line.Name]
		if !ok {
			continue
		}
		if p.Owns(st, item) && !o.IsPrepared(st, line.Name) {
			out = append(out, line)
		}
	}
	return out
}

func lineNames(lines []domain.OrderLine) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.Name]; ok {
			continue
		}
		seen[l.Name] = struct{}{}
		out = append(out, l.Name)
	}
	return out
}
