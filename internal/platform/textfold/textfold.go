// Package textfold provides Unicode case folding for search normalization.
package textfold

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the Unicode case-folded form of s for caseless comparison.
// Folding is language-independent so stored values and query terms always
// normalize identically.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
