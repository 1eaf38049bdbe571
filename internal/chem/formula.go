// Package chem implements the deterministic chemistry evaluation routines
// used by the grading engine: formula normalization, equation parsing and
// balance checking, fuzzy text comparison, and numeric extraction. All
// functions are pure; there is no I/O and no state.
package chem

import (
	"fmt"
	"sort"
	"strings"
)

// elements is the fixed periodic-table set used to validate symbols.
var elements = map[string]bool{
	"H": true, "He": true, "Li": true, "Be": true, "B": true, "C": true,
	"N": true, "O": true, "F": true, "Ne": true, "Na": true, "Mg": true,
	"Al": true, "Si": true, "P": true, "S": true, "Cl": true, "Ar": true,
	"K": true, "Ca": true, "Sc": true, "Ti": true, "V": true, "Cr": true,
	"Mn": true, "Fe": true, "Co": true, "Ni": true, "Cu": true, "Zn": true,
	"Ga": true, "Ge": true, "As": true, "Se": true, "Br": true, "Kr": true,
	"Rb": true, "Sr": true, "Y": true, "Zr": true, "Nb": true, "Mo": true,
	"Tc": true, "Ru": true, "Rh": true, "Pd": true, "Ag": true, "Cd": true,
	"In": true, "Sn": true, "Sb": true, "Te": true, "I": true, "Xe": true,
	"Cs": true, "Ba": true, "La": true, "Ce": true, "Pr": true, "Nd": true,
	"Pm": true, "Sm": true, "Eu": true, "Gd": true, "Tb": true, "Dy": true,
	"Ho": true, "Er": true, "Tm": true, "Yb": true, "Lu": true, "Hf": true,
	"Ta": true, "W": true, "Re": true, "Os": true, "Ir": true, "Pt": true,
	"Au": true, "Hg": true, "Tl": true, "Pb": true, "Bi": true, "Po": true,
	"At": true, "Rn": true, "Fr": true, "Ra": true, "Ac": true, "Th": true,
	"Pa": true, "U": true, "Np": true, "Pu": true, "Am": true, "Cm": true,
	"Bk": true, "Cf": true, "Es": true, "Fm": true, "Md": true, "No": true,
	"Lr": true, "Rf": true, "Db": true, "Sg": true, "Bh": true, "Hs": true,
	"Mt": true, "Ds": true, "Rg": true, "Cn": true, "Nh": true, "Fl": true,
	"Mc": true, "Lv": true, "Ts": true, "Og": true,
}

// ParseError reports everything wrong with a formula in one pass.
type ParseError struct {
	Input  string
	Issues []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse formula %q: %s", e.Input, strings.Join(e.Issues, "; "))
}

// ElementCounts parses a chemical formula into per-element atom counts.
// Whitespace and brackets are stripped first; the remainder must match the
// grammar: one uppercase letter, optionally one lowercase letter, optionally
// digits. Unknown element symbols and leftover characters are collected into
// a single ParseError.
func ElementCounts(formula string) (map[string]int, error) {
	cleaned := stripFormula(formula)
	if cleaned == "" {
		return nil, &ParseError{Input: formula, Issues: []string{"empty formula"}}
	}

	counts := make(map[string]int)
	var issues []string

	i := 0
	for i < len(cleaned) {
		c := cleaned[i]
		if c < 'A' || c > 'Z' {
			issues = append(issues, fmt.Sprintf("unexpected character %q at position %d", string(c), i))
			i++
			continue
		}

		symbol := string(c)
		i++
		if i < len(cleaned) && cleaned[i] >= 'a' && cleaned[i] <= 'z' {
			symbol += string(cleaned[i])
			i++
		}

		count := 0
		for i < len(cleaned) && cleaned[i] >= '0' && cleaned[i] <= '9' {
			count = count*10 + int(cleaned[i]-'0')
			i++
		}
		if count == 0 {
			count = 1
		}

		if !elements[symbol] {
			issues = append(issues, fmt.Sprintf("unknown element %q", symbol))
			continue
		}
		counts[symbol] += count
	}

	if len(issues) > 0 {
		return nil, &ParseError{Input: formula, Issues: issues}
	}
	return counts, nil
}

// Normalize returns the canonical form of a formula: element symbols sorted
// alphabetically, each followed by its count when greater than one. The
// canonical form is idempotent: Normalize(Normalize(f)) == Normalize(f).
func Normalize(formula string) (string, error) {
	counts, err := ElementCounts(formula)
	if err != nil {
		return "", err
	}

	symbols := make([]string, 0, len(counts))
	for sym := range counts {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var sb strings.Builder
	for _, sym := range symbols {
		sb.WriteString(sym)
		if counts[sym] > 1 {
			fmt.Fprintf(&sb, "%d", counts[sym])
		}
	}
	return sb.String(), nil
}

// CompareFormulas reports whether two formulas denote the same compound.
// Equality is canonical-form equality, case-insensitive. Unparseable input
// never matches.
func CompareFormulas(a, b string) bool {
	ca, err := Normalize(a)
	if err != nil {
		return false
	}
	cb, err := Normalize(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ca, cb)
}

// stripFormula removes whitespace, brackets, and state symbols so the
// tokenizer sees only element symbols and counts.
func stripFormula(s string) string {
	s = StripStateSymbols(s)
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '(', ')', '[', ']', '{', '}':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// stateSuffixes are the state symbols students attach to formulas.
var stateSuffixes = []string{"(s)", "(l)", "(g)", "(aq)"}

// StripStateSymbols removes state symbols from a formula or equation side.
func StripStateSymbols(s string) string {
	lower := strings.ToLower(s)
	for _, suf := range stateSuffixes {
		for {
			idx := strings.Index(lower, suf)
			if idx < 0 {
				break
			}
			s = s[:idx] + s[idx+len(suf):]
			lower = lower[:idx] + lower[idx+len(suf):]
		}
	}
	return s
}

// HasStateSymbols reports whether any state symbol appears in the text.
func HasStateSymbols(s string) bool {
	lower := strings.ToLower(s)
	for _, suf := range stateSuffixes {
		if strings.Contains(lower, suf) {
			return true
		}
	}
	return false
}
