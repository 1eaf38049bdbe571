package chem

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

var numberRegex = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// NormalizeText lowercases the input and drops everything that is not a
// letter or digit.
func NormalizeText(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// FuzzyMatch compares two strings after normalization. Exact matches are
// accepted immediately; otherwise the normalized Levenshtein similarity
// (longer length minus edit distance, over longer length) must meet the
// threshold.
func FuzzyMatch(a, b string, threshold float64) bool {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == nb {
		return na != ""
	}
	if na == "" || nb == "" {
		return false
	}

	longer := len(na)
	if len(nb) > longer {
		longer = len(nb)
	}
	dist := levenshtein.ComputeDistance(na, nb)
	similarity := float64(longer-dist) / float64(longer)
	return similarity >= threshold
}

// ContainsKeyword reports whether the keyword appears in the answer after
// normalization.
func ContainsKeyword(answer, keyword string) bool {
	na, nk := NormalizeText(answer), NormalizeText(keyword)
	if nk == "" {
		return false
	}
	return strings.Contains(na, nk)
}

// KeywordFraction returns the fraction of keywords present in the answer.
func KeywordFraction(answer string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	found := 0
	for _, kw := range keywords {
		if ContainsKeyword(answer, kw) {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

// ExtractNumber pulls the first numeric token out of free text. Calculation
// answers bury the value in working, so the first decimal-capable token wins.
func ExtractNumber(s string) (float64, bool) {
	tok := numberRegex.FindString(s)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NumericMatch compares two values with an absolute tolerance.
func NumericMatch(got, want, tolerance float64) bool {
	return math.Abs(got-want) <= tolerance
}

// HasWorking reports whether the answer shows arithmetic working, used for
// method-only partial credit on calculations.
func HasWorking(answer string) bool {
	return strings.ContainsAny(answer, "+-*/×÷=")
}
