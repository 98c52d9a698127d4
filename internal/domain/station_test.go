package domain

import (
	"errors"
	"testing"
)

func TestParseStation(t *testing.T) {
	st, err := ParseStation(" Barista ")
	if err != nil || st != Barista {
		t.Fatalf("ParseStation=%q, %v", st, err)
	}
	if _, err := ParseStation("bar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestRouting_Validate(t *testing.T) {
	tests := []struct {
		name    string
		routing Routing
		wantErr bool
	}{
		{"default", DefaultRouting(), false},
		{"overlap", Routing{Kitchen: {"food", "dessert"}, Barista: {"coffee", "Dessert"}}, true},
		{"unknown station", Routing{"grill": {"meat"}}, true},
		{"same station twice", Routing{Kitchen: {"food", "food"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.routing.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestRouting_StationFor(t *testing.T) {
	r := DefaultRouting()
	if st, ok := r.StationFor("Coffee"); !ok || st != Barista {
		t.Fatalf("coffee -> %q %v", st, ok)
	}
	if st, ok := r.StationFor("pastry"); !ok || st != Kitchen {
		t.Fatalf("pastry -> %q %v", st, ok)
	}
	if _, ok := r.StationFor("merch"); ok {
		t.Fatal("merch routed")
	}
}
