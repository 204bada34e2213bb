// Package textutil provides text helpers for scene copy.
//
// The primary use cases are:
//   - Comparing two revisions of scene text by token fingerprint
//   - Shortening scene text for one-line labels
//   - Turning identifiers into filesystem-safe tokens
//
// Fingerprints use term frequency vectors normalized for efficient comparison.
// The tokenization process lowercases text, splits on non-alphanumeric characters,
// and filters tokens shorter than 3 characters.
package textutil
