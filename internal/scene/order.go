package scene

// IndexOf returns the position of id in order, or -1.
func IndexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

// Insert returns a copy of order with id placed at position. Out-of-range
// positions append.
func Insert(order []string, id string, position int) []string {
	out := make([]string, 0, len(order)+1)
	if position < 0 || position > len(order) {
		position = len(order)
	}
	out = append(out, order[:position]...)
	out = append(out, id)
	return append(out, order[position:]...)
}

// Remove returns a copy of order without id and the index it held, or -1.
func Remove(order []string, id string) ([]string, int) {
	idx := IndexOf(order, id)
	if idx < 0 {
		return append([]string(nil), order...), -1
	}
	out := make([]string, 0, len(order)-1)
	out = append(out, order[:idx]...)
	return append(out, order[idx+1:]...), idx
}

// Replace swaps old for replacement in place and reports whether old was present.
func Replace(order []string, old, replacement string) bool {
	idx := IndexOf(order, old)
	if idx < 0 {
		return false
	}
	order[idx] = replacement
	return true
}

// IsPermutation reports whether candidate holds exactly the ids of current,
// each once.
func IsPermutation(current, candidate []string) bool {
	if len(current) != len(candidate) {
		return false
	}
	seen := make(map[string]int, len(current))
	for _, id := range current {
		seen[id]++
	}
	for _, id := range candidate {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}

// HasDuplicates reports whether any id occurs more than once.
func HasDuplicates(order []string) bool {
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// SameOrder reports whether two orders are identical.
func SameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
