package domain

import (
	"reflect"
	"testing"
)

func testOrder() Order {
	return Order{
		ID:     "o-1",
		Status: StatusPlaced,
		Items: []OrderLine{
			{Name: "Club Sandwich", Quantity: 1},
			{Name: "Cappuccino", Quantity: 2},
			{Name: "Cappuccino", Quantity: 1, Customizations: []string{"oat milk"}},
		},
	}
}

func TestWithPrepared_SortedAndDeduplicated(t *testing.T) {
	o := testOrder()
	o = o.WithPrepared(Barista, []string{"Latte", "Cappuccino"})
	o = o.WithPrepared(Barista, []string{"Cappuccino"})

	if got, want := o.Prepared[Barista], []string{"Cappuccino", "Latte"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("prepared=%v, want %v", got, want)
	}
	if len(o.Prepared[Kitchen]) != 0 {
		t.Fatalf("kitchen=%v", o.Prepared[Kitchen])
	}
}

func TestWithPrepared_DoesNotMutateReceiver(t *testing.T) {
	o := testOrder().WithPrepared(Kitchen, []string{"Club Sandwich"})
	_ = o.WithPrepared(Kitchen, []string{"Croissant"})
	if len(o.Prepared[Kitchen]) != 1 {
		t.Fatalf("receiver changed: %v", o.Prepared[Kitchen])
	}
}

func TestAllPrepared(t *testing.T) {
	tests := []struct {
		name     string
		prepared map[Station][]string
		want     bool
	}{
		{"nothing", nil, false},
		{"kitchen only", map[Station][]string{Kitchen: {"Club Sandwich"}}, false},
		{"split", map[Station][]string{Kitchen: {"Club Sandwich"}, Barista: {"Cappuccino"}}, true},
		{"extra names", map[Station][]string{Kitchen: {"Club Sandwich", "Croissant"}, Barista: {"Cappuccino"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder()
			o.Prepared = tt.prepared
			if got := o.AllPrepared(); got != tt.want {
				t.Fatalf("AllPrepared=%v, want %v", got, tt.want)
			}
			if got := o.AnyPrepared(); got != (len(tt.prepared) > 0) {
				t.Fatalf("AnyPrepared=%v", got)
			}
		})
	}
}

func TestClone_Deep(t *testing.T) {
	table := 7
	o := testOrder().WithPrepared(Barista, []string{"Cappuccino"})
	o.TableNumber = &table

	c := o.Clone()
	c.Items[2].Customizations[0] = "soy"
	c.Prepared[Barista][0] = "Latte"
	*c.TableNumber = 9

	if o.Items[2].Customizations[0] != "oat milk" || o.Prepared[Barista][0] != "Cappuccino" || *o.TableNumber != 7 {
		t.Fatalf("clone shares state with original: %+v", o)
	}
}

func TestItemNames(t *testing.T) {
	if got, want := testOrder().ItemNames(), []string{"Club Sandwich", "Cappuccino"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ItemNames=%v, want %v", got, want)
	}
}
