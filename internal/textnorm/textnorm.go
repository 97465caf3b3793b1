// Package textnorm folds free-text taxonomy labels into comparable forms.
//
// Segment is the aggressive form used for identity keys. Similarity is looser
// about separators and is only used for fuzzy matching. Both are idempotent.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// separators dropped by the similarity form in addition to whitespace.
const separators = "・･-ー（）()"

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(separators, r)
}

// Transformers carry state, so every call builds its own chain.
func fold(s string, drop func(rune) bool) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(
		norm.NFKC,
		cases.Fold(),
		runes.Remove(runes.Predicate(drop)),
		norm.NFKC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if drop(r) {
				return -1
			}
			return r
		}, strings.ToLower(norm.NFKC.String(s)))
	}
	return out
}

// Segment applies NFKC, case folding and strips all whitespace.
func Segment(s string) string {
	return fold(s, unicode.IsSpace)
}

// Similarity is Segment plus removal of common Japanese and ASCII separators.
func Similarity(s string) string {
	return fold(s, isSeparator)
}

// Trim collapses NFKC whitespace at both ends without altering the interior.
func Trim(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
