package domain

import "sort"

// IsPrepared reports whether the station already completed the named item.
func (o Order) IsPrepared(st Station, name string) bool {
	for _, n := range o.Prepared[st] {
		if n == name {
			return true
		}
	}
	return false
}

// PreparedUnion is the set of item names completed by any station.
func (o Order) PreparedUnion() map[string]struct{} {
	out := make(map[string]struct{})
	for _, names := range o.Prepared {
		for _, n := range names {
			out[n] = struct{}{}
		}
	}
	return out
}

// AnyPrepared reports whether some station has completed at least one item.
func (o Order) AnyPrepared() bool {
	for _, names := range o.Prepared {
		if len(names) > 0 {
			return true
		}
	}
	return false
}

// AllPrepared reports whether every line name is in some station's prepared set.
func (o Order) AllPrepared() bool {
	done := o.PreparedUnion()
	for _, line := range o.Items {
		if _, ok := done[line.Name]; !ok {
			return false
		}
	}
	return true
}

// WithPrepared returns a copy of o whose prepared set for st also contains
// names. Existing entries are kept; the result is sorted and free of
// duplicates.
func (o Order) WithPrepared(st Station, names []string) Order {
	out := o.Clone()
	set := make(map[string]struct{}, len(out.Prepared[st])+len(names))
	for _, n := range out.Prepared[st] {
		set[n] = struct{}{}
	}
	for _, n := range names {
		set[n] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for n := range set {
		merged = append(merged, n)
	}
	sort.Strings(merged)
	out.Prepared[st] = merged
	return out
}

// Clone deep-copies the mutable parts of the order.
func (o Order) Clone() Order {
	out := o
	out.Items = make([]OrderLine, len(o.Items))
	for i, l := range o.Items {
		l.Customizations = append([]string(nil), l.Customizations...)
		out.Items[i] = l
	}
	if o.TableNumber != nil {
		n := *o.TableNumber
		out.TableNumber = &n
	}
	out.Prepared = make(map[Station][]string, len(o.Prepared))
	for st, names := range o.Prepared {
		out.Prepared[st] = append([]string(nil), names...)
	}
	return out
}

// ItemNames returns the distinct line names in order of first appearance.
func (o Order) ItemNames() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, l := range o.Items {
		if _, ok := seen[l.Name]; ok {
			continue
		}
		seen[l.Name] = struct{}{}
		out = append(out, l.Name)
	}
	return out
}
