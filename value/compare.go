package value

import "strings"

// ----------------------------- Comparison -----------------------------------

// Equal compares two values. Adapters of the same family compare exactly;
// otherwise, when both sides are numeric, their numbers are compared.
// Incompatible values are never equal.
func Equal(a, b Value) bool {
	if a.a == nil || b.a == nil {
		return a.a == nil && b.a == nil
	}
	if eq, ok := a.a.(Equaler); ok {
		if equal, ok := eq.Equal(b.a); ok {
			return equal
		}
	}
	if x, y, ok := numbers(a, b); ok {
		return x == y
	}
	return false
}

// Less orders two values with the same exact-then-numeric rule as Equal.
// Incompatible values are unordered and Less returns false.
func Less(a, b Value) bool {
	if a.a == nil || b.a == nil {
		return false
	}
	if ls, ok := a.a.(Lesser); ok {
		if less, ok := ls.Less(b.a); ok {
			return less
		}
	}
	if x, y, ok := numbers(a, b); ok {
		return x < y
	}
	return false
}

// Compare returns -1, 0 or +1. Unordered pairs compare as equal.
func Compare(a, b Value) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	}
	return 0
}

func numbers(a, b Value) (float64, float64, bool) {
	x, ok := a.a.(Numeric)
	if !ok {
		return 0, 0, false
	}
	y, ok := b.a.(Numeric)
	if !ok {
		return 0, 0, false
	}
	return x.Number(), y.Number(), true
}

// Contains reports membership: substring for strings, key for mappings,
// element for anything else iterable.
func Contains(container, item Value) bool {
	switch c := container.a.(type) {
	case stringAdapter:
		return strings.Contains(c.s, item.String())
	case mapAdapter:
		_, ok := c.m[item.String()]
		return ok
	}
	seq, err := container.Iter()
	if err != nil {
		return false
	}
	for v := range seq {
		if Equal(v, item) {
			return true
		}
	}
	return false
}
