package textutil

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

const minTermRunes = 3

// fillerTerms carry no meaning for comparing scene descriptions.
var fillerTerms = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "while": {}, "into": {}, "from": {},
	"that": {}, "this": {}, "its": {}, "are": {}, "was": {}, "for": {},
}

// Fingerprint is a term-count vector of a scene's text.
type Fingerprint struct {
	counts map[string]float64
	norm   float64
}

// NewFingerprint builds the fingerprint of text, or nil when no term
// survives filtering.
func NewFingerprint(text string) *Fingerprint {
	terms := Terms(text)
	if len(terms) == 0 {
		return nil
	}
	fp := &Fingerprint{counts: make(map[string]float64, len(terms))}
	for _, term := range terms {
		fp.counts[term]++
	}
	var sum float64
	for _, c := range fp.counts {
		sum += c * c
	}
	fp.norm = math.Sqrt(sum)
	return fp
}

// Terms lowercases text and splits it on anything that is not a letter or
// digit, keeping terms of at least three runes that are not filler words.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTermRunes {
			continue
		}
		if _, filler := fillerTerms[f]; filler {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
