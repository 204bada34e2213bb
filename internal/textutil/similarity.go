package textutil

import "strings"

// CosineSimilarity compares two fingerprints. A nil or empty fingerprint is
// similar to nothing.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	small, large := a, b
	if len(small.counts) > len(large.counts) {
		small, large = large, small
	}
	var dot float64
	for term, c := range small.counts {
		dot += c * large.counts[term]
	}
	return dot / (a.norm * b.norm)
}

// Similarity compares two scene texts. Texts without usable terms are
// identical only when their trimmed forms match.
func Similarity(a, b string) float64 {
	fa, fb := NewFingerprint(a), NewFingerprint(b)
	if fa == nil && fb == nil {
		if strings.TrimSpace(a) == strings.TrimSpace(b) {
			return 1
		}
		return 0
	}
	return CosineSimilarity(fa, fb)
}
