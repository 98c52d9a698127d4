package domain

import (
	"fmt"
	"sort"
	"strings"
)

type Station string

const (
	Kitchen Station = "kitchen"
	Barista Station = "barista"
)

// Stations lists every known station in a stable order.
var Stations = []Station{Kitchen, Barista}

func ParseStation(s string) (Station, error) {
	st := Station(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Stations {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown station %q: %w", s, ErrNotFound)
}

// Routing assigns menu categories to stations. A category belongs to at most
// one station.
type Routing map[Station][]string

func DefaultRouting() Routing {
	return Routing{
		Kitchen: {"food", "snack", "pastry", "dessert"},
		Barista: {"coffee", "tea", "non_coffee", "beverage"},
	}
}

// Validate rejects unknown stations and categories claimed by two stations.
func (r Routing) Validate() error {
	owner := make(map[string]Station)
	stations := make([]string, 0, len(r))
	for st := range r {
		stations = append(stations, string(st))
	}
	sort.Strings(stations)
	for _, name := range stations {
		st := Station(name)
		if _, err := ParseStation(name); err != nil {
			return fmt.Errorf("routing: %w", err)
		}
		for _, c := range r[st] {
			c = normalizeCategory(c)
			if c == "" {
				continue
			}
			if prev, ok := owner[c]; ok && prev != st {
				return fmt.Errorf("routing: category %q assigned to both %s and %s", c, prev, st)
			}
			owner[c] = st
		}
	}
	return nil
}

// StationFor returns the station that prepares items of the given category.
func (r Routing) StationFor(category string) (Station, bool) {
	category = normalizeCategory(category)
	for st, cats := range r {
		for _, c := range cats {
			if normalizeCategory(c) == category {
				return st, true
			}
		}
	}
	return "", false
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
