package pinnit

import "slices"

// SortPins returns a copy of pins ordered newest first. Pins with equal
// timestamps keep their relative order.
func SortPins(pins []Pin) []Pin {
	sorted := make([]Pin, len(pins))
	copy(sorted, pins)
	slices.SortStableFunc(sorted, func(a, b Pin) int {
		switch {
		case a.SortKey() > b.SortKey():
			return -1
		case a.SortKey() < b.SortKey():
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// MergePins concatenates primary and secondary, keeps the first pin seen for
// each DedupKey and returns the result sorted newest first. Primary therefore
// wins every collision.
func MergePins(primary, secondary []Pin) []Pin {
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	merged := make([]Pin, 0, len(primary)+len(secondary))
	for _, group := range [][]Pin{primary, secondary} {
		for _, p := range group {
			key := p.DedupKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, p)
		}
	}
	return SortPins(merged)
}
