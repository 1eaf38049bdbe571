package chem

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "H2O", "H2O", false},
		{"sorted output", "NaCl", "ClNa", false},
		{"multi-digit count", "C6H12O6", "C6H12O6", false},
		{"whitespace stripped", " H2 O ", "H2O", false},
		{"brackets stripped not expanded", "Ca(OH)2", "CaH2O", false},
		{"state symbols stripped", "H2O(l)", "H2O", false},
		{"repeated element merged", "CH3COOH", "C2H4O2", false},
		{"unknown element", "Xx2", "", true},
		{"leftover character", "H2O!", "", true},
		{"empty", "", "", true},
		{"lowercase start", "h2o", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) = %q, expected error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"H2O", "H2SO4", "CaCO3", "Ca(OH)2", "C6H12O6", "NaCl", "CH3COOH"}
	for _, input := range inputs {
		once, err := Normalize(input)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", input, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestParseErrorCollectsAllIssues(t *testing.T) {
	_, err := ElementCounts("Xx2Zz!")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if len(pe.Issues) < 3 {
		t.Errorf("expected at least 3 issues (two unknown elements, one leftover), got %v", pe.Issues)
	}
	if !strings.Contains(pe.Error(), "Xx") {
		t.Errorf("error should name the unknown element: %v", pe)
	}
}

func TestCompareFormulas(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "H2SO4", "H2SO4", true},
		{"different", "H2SO4", "HSO4", false},
		{"case insensitive canonical", "NaCl", "ClNa", true},
		{"whitespace ignored", "H2 SO4", "H2SO4", true},
		{"unparseable left", "Xx", "H2O", false},
		{"unparseable right", "H2O", "Xx", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareFormulas(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareFormulas(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestStateSymbols(t *testing.T) {
	if !HasStateSymbols("NaCl(aq) + H2O(l)") {
		t.Error("expected state symbols to be detected")
	}
	if HasStateSymbols("NaCl + H2O") {
		t.Error("expected no state symbols")
	}
	if got := StripStateSymbols("CaCO3(s)"); got != "CaCO3" {
		t.Errorf("StripStateSymbols = %q, want CaCO3", got)
	}
}
