package comparison

import (
	"strings"
	"unicode"
)

// StructuralResult is the step-set layer of a comparison.
type StructuralResult struct {
	// Ratio is |intersection| / |union|, or 1 when every set is empty.
	Ratio    float64  `json:"ratio"`
	Agreed   []string `json:"agreed"`
	Disputed []string `json:"disputed"`
}

// NormalizeItem canonicalizes a step for set comparison.
func NormalizeItem(s string) string {
	s = Normalize(s)
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Structural intersects the step sets. Items keep the spelling and order of
// their first appearance.
func Structural(sets [][]string) StructuralResult {
	type item struct {
		display string
		count   int
	}
	var order []string
	items := make(map[string]*item)

	for _, set := range sets {
		seen := make(map[string]bool, len(set))
		for _, raw := range set {
			key := NormalizeItem(raw)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			it, ok := items[key]
			if !ok {
				it = &item{display: strings.TrimSpace(raw)}
				items[key] = it
				order = append(order, key)
			}
			it.count++
		}
	}

	res := StructuralResult{Agreed: []string{}, Disputed: []string{}}
	if len(order) == 0 {
		res.Ratio = 1
		return res
	}
	for _, key := range order {
		it := items[key]
		if it.count == len(sets) {
			res.Agreed = append(res.Agreed, it.display)
		} else {
			res.Disputed = append(res.Disputed, it.display)
		}
	}
	res.Ratio = float64(len(res.Agreed)) / float64(len(order))
	return res
}
