// Package util holds small helpers shared by the client and the backend.
package util

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var tokenizer = regexp.MustCompile(`(\d+|\D+)`)

type sortToken struct {
	text  string
	num   uint64
	isNum bool
}

func tokenize(s string) []sortToken {
	parts := tokenizer.FindAllString(s, -1)
	tokens := make([]sortToken, len(parts))
	for i, p := range parts {
		// Runs too long for uint64 compare as text.
		if n, err := strconv.ParseUint(p, 10, 64); err == nil {
			tokens[i] = sortToken{num: n, isNum: true}
		} else {
			tokens[i] = sortToken{text: strings.ToLower(p)}
		}
	}
	return tokens
}

// NaturalSortLess reports whether s1 sorts before s2 when digit runs are
// compared by value and text case-insensitively, so "ep2" < "ep10".
func NaturalSortLess(s1, s2 string) bool {
	t1, t2 := tokenize(s1), tokenize(s2)
	for i := 0; i < min(len(t1), len(t2)); i++ {
		a, b := t1[i], t2[i]
		switch {
		case a.isNum && !b.isNum:
			return true
		case !a.isNum && b.isNum:
			return false
		case a.isNum && a.num != b.num:
			return a.num < b.num
		case !a.isNum && a.text != b.text:
			return a.text < b.text
		}
	}
	return len(t1) < len(t2)
}

// SortNatural sorts paths in place with NaturalSortLess. Equal keys keep
// their order.
func SortNatural(paths []string) {
	slices.SortStableFunc(paths, func(a, b string) int {
		switch {
		case NaturalSortLess(a, b):
			return -1
		case NaturalSortLess(b, a):
			return 1
		}
		return 0
	})
}
