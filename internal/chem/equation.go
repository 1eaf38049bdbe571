package chem

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnparseable marks an equation that does not split into reactants and
// products.
var ErrUnparseable = errors.New("unparseable equation")

// Term is one compound in an equation with its leading coefficient.
// A missing coefficient is stored as 1.
type Term struct {
	Coefficient int
	Formula     string
}

// Equation is a parsed chemical equation.
type Equation struct {
	Reactants []Term
	Products  []Term
}

// separators accepted between reactants and products, tried in order.
var separators = []string{"→", "⟶", "->", "="}

// ParseEquation splits an equation on the reactants/products separator,
// then splits each side on "+" and strips leading integer coefficients.
// Either side having zero compounds is an error.
func ParseEquation(input string) (*Equation, error) {
	left, right, ok := splitSides(input)
	if !ok {
		return nil, fmt.Errorf("%w: no reactants/products separator in %q", ErrUnparseable, input)
	}

	reactants := parseSide(left)
	products := parseSide(right)
	if len(reactants) == 0 || len(products) == 0 {
		return nil, fmt.Errorf("%w: empty side in %q", ErrUnparseable, input)
	}

	return &Equation{Reactants: reactants, Products: products}, nil
}

func splitSides(input string) (left, right string, ok bool) {
	for _, sep := range separators {
		if idx := strings.Index(input, sep); idx >= 0 {
			return input[:idx], input[idx+len(sep):], true
		}
	}
	return "", "", false
}

func parseSide(side string) []Term {
	var terms []Term
	for _, part := range strings.Split(side, "+") {
		part = strings.TrimSpace(StripStateSymbols(part))
		if part == "" {
			continue
		}

		coef := 0
		i := 0
		for i < len(part) && part[i] >= '0' && part[i] <= '9' {
			coef = coef*10 + int(part[i]-'0')
			i++
		}
		formula := strings.TrimSpace(part[i:])
		if formula == "" {
			continue
		}
		if coef == 0 {
			coef = 1
		}
		terms = append(terms, Term{Coefficient: coef, Formula: formula})
	}
	return terms
}

// IsBalanced reports whether every element's reactant-side atom total equals
// its product-side total. Any unparseable compound is an error.
func (eq *Equation) IsBalanced() (bool, error) {
	left, err := sideCounts(eq.Reactants)
	if err != nil {
		return false, err
	}
	right, err := sideCounts(eq.Products)
	if err != nil {
		return false, err
	}

	if len(left) != len(right) {
		return false, nil
	}
	for sym, n := range left {
		if right[sym] != n {
			return false, nil
		}
	}
	return true, nil
}

func sideCounts(terms []Term) (map[string]int, error) {
	totals := make(map[string]int)
	for _, t := range terms {
		counts, err := ElementCounts(t.Formula)
		if err != nil {
			return nil, err
		}
		for sym, n := range counts {
			totals[sym] += n * t.Coefficient
		}
	}
	return totals, nil
}

// CompareEquations reports whether two equations describe the same reaction:
// their sorted reactant lists and sorted product lists match after
// canonicalization. Order and phrasing are irrelevant; set identity of the
// coefficient-qualified compounds is what matters.
func CompareEquations(a, b string) bool {
	ea, err := ParseEquation(a)
	if err != nil {
		return false
	}
	eb, err := ParseEquation(b)
	if err != nil {
		return false
	}

	return sideKey(ea.Reactants) == sideKey(eb.Reactants) &&
		sideKey(ea.Products) == sideKey(eb.Products)
}

func sideKey(terms []Term) string {
	keys := make([]string, 0, len(terms))
	for _, t := range terms {
		canon, err := Normalize(t.Formula)
		if err != nil {
			canon = "!" + strings.ToLower(t.Formula)
		}
		keys = append(keys, fmt.Sprintf("%d %s", t.Coefficient, canon))
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
