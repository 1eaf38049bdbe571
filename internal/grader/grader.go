// Package grader marks extracted answers against a structured mark scheme.
// Each question is a pure function of (question, answer, rules); the only
// external call is the optional language-model fallback, and a fallback
// failure degrades that single question instead of failing the submission.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/chem"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// Confidence levels by grading strategy. Deterministic policies score high;
// a degraded result scores zero so it is routed to human review.
const (
	confExact    = 1.0
	confChem     = 0.9
	confFuzzy    = 0.85
	confKeyword  = 0.7
	confFallback = 0.6
	confDegraded = 0.0
)

const feedbackNoAnswer = "No answer provided"

// Fallback is the language-model marking capability, injected so tests can
// substitute fakes.
type Fallback interface {
	MarkAnswer(ctx context.Context, q model.Question, rules model.MarkingRules, answer string) (*model.FallbackVerdict, error)
}

// Engine grades submissions. With a nil fallback (or fallback disabled) all
// questions use the deterministic per-type policies.
type Engine struct {
	fallback    Fallback
	useFallback bool
}

// New creates a grading engine.
func New(fallback Fallback, useFallback bool) *Engine {
	return &Engine{fallback: fallback, useFallback: useFallback && fallback != nil}
}

// GradeSubmission produces exactly one MarkingResult per mark-scheme
// question, in scheme order. Marks are always clamped to [0, max].
func (e *Engine) GradeSubmission(ctx context.Context, scheme *model.MarkScheme, answers map[string]string) []model.MarkingResult {
	results := make([]model.MarkingResult, 0, len(scheme.Questions))
	for _, q := range scheme.Questions {
		r := e.gradeQuestion(ctx, q, scheme.Rules, answers[q.Number])
		if r.MarksAwarded < 0 {
			r.MarksAwarded = 0
		}
		if r.MarksAwarded > q.MaxMarks {
			r.MarksAwarded = q.MaxMarks
		}
		r.MaxMarks = q.MaxMarks
		if q.Type == model.TypeExtendedResponse {
			r.Correct = ExtendedCorrect(r.MarksAwarded, q.MaxMarks)
		} else {
			r.Correct = r.MarksAwarded == q.MaxMarks
		}
		results = append(results, r)
	}
	return results
}

func (e *Engine) gradeQuestion(ctx context.Context, q model.Question, rules model.MarkingRules, answer string) model.MarkingResult {
	base := model.MarkingResult{QuestionNumber: q.Number, MaxMarks: q.MaxMarks}

	// Missing answers bypass all per-type logic.
	if strings.TrimSpace(answer) == "" {
		base.Confidence = confExact
		base.Feedback = feedbackNoAnswer
		return base
	}

	if e.useFallback {
		return e.gradeWithFallback(ctx, q, rules, answer)
	}

	switch q.Type {
	case model.TypeMultipleChoice:
		return gradeMultipleChoice(q, rules, answer)
	case model.TypeCalculation:
		return gradeCalculation(q, rules, answer)
	case model.TypeChemicalEquation:
		return gradeChemicalEquation(q, answer)
	case model.TypeShortAnswer:
		return gradeShortAnswer(q, rules, answer)
	case model.TypeExtendedResponse:
		return gradeExtendedResponse(q, answer)
	}

	// Unknown types never reach here from a validated scheme; degrade
	// rather than guess.
	base.Confidence = confDegraded
	base.Feedback = fmt.Sprintf("Unsupported question type %q; manual review required", q.Type)
	return base
}

// gradeWithFallback bypasses the deterministic policies and defers to the
// language model. A failed or malformed call degrades to a zero-mark,
// zero-confidence result; grading never fabricates a score.
func (e *Engine) gradeWithFallback(ctx context.Context, q model.Question, rules model.MarkingRules, answer string) model.MarkingResult {
	verdict, err := e.fallback.MarkAnswer(ctx, q, rules, answer)
	if err != nil {
		slog.Warn("fallback marking failed, degrading question",
			"question", q.Number, "error", err)
		return model.MarkingResult{
			QuestionNumber: q.Number,
			MaxMarks:       q.MaxMarks,
			Confidence:     confDegraded,
			Feedback:       "Automatic marking unavailable; manual review required",
		}
	}

	r := model.MarkingResult{
		QuestionNumber: q.Number,
		MaxMarks:       q.MaxMarks,
		MarksAwarded:   verdict.Score,
		Confidence:     confFallback,
		Feedback:       verdict.Feedback,
	}
	for _, pv := range verdict.Points {
		marks := 0
		for _, p := range q.Points {
			if p.ID == pv.ID && pv.Awarded {
				marks = p.Marks
			}
		}
		r.Breakdown = append(r.Breakdown, model.PointAward{
			PointID: pv.ID,
			Awarded: pv.Awarded,
			Marks:   marks,
			Reason:  pv.Reason,
		})
	}
	return r
}

func gradeMultipleChoice(q model.Question, rules model.MarkingRules, answer string) model.MarkingResult {
	r := model.MarkingResult{QuestionNumber: q.Number, MaxMarks: q.MaxMarks, Confidence: confExact}
	if len(q.AcceptedAnswers) == 0 {
		r.Confidence = confDegraded
		r.Feedback = "No correct option recorded; manual review required"
		return r
	}

	correct := strings.TrimSpace(q.AcceptedAnswers[0])
	trimmed := strings.TrimSpace(answer)

	if rules.ListPenalty && countOptionLetters(trimmed) > 1 {
		r.Feedback = "List penalty: more than one option given"
		return r
	}

	if strings.EqualFold(trimmed, correct) {
		r.MarksAwarded = q.MaxMarks
		r.Feedback = "Correct option"
	} else {
		r.Feedback = fmt.Sprintf("Incorrect: the answer is %s", correct)
	}
	return r
}

// countOptionLetters counts distinct option letters (A-E) given as
// standalone tokens, used for the list penalty on multiple choice.
func countOptionLetters(answer string) int {
	seen := map[string]bool{}
	for _, tok := range strings.FieldsFunc(answer, func(r rune) bool {
		return r == ' ' || r == ',' || r == '/' || r == ';'
	}) {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if len(tok) == 1 && tok[0] >= 'A' && tok[0] <= 'E' {
			seen[tok] = true
		}
	}
	return len(seen)
}

func gradeCalculation(q model.Question, rules model.MarkingRules, answer string) model.MarkingResult {
	r := model.MarkingResult{QuestionNumber: q.Number, MaxMarks: q.MaxMarks}

	got, ok := chem.ExtractNumber(answer)
	if ok {
		for _, accepted := range q.AcceptedAnswers {
			want, wok := chem.ExtractNumber(accepted)
			if wok && chem.NumericMatch(got, want, rules.NumericTolerance) {
				r.MarksAwarded = q.MaxMarks
				r.Confidence = confChem
				r.Feedback = "Correct value"
				return r
			}
		}
	}

	// Wrong (or missing) value but visible working earns method marks:
	// half of max, floored. With ECF enabled this also covers answers
	// consistent with an earlier slip.
	if chem.HasWorking(answer) {
		r.MarksAwarded = q.MaxMarks / 2
		r.Confidence = confKeyword
		r.Feedback = "Final value incorrect; partial credit for working"
		return r
	}

	r.Confidence = confChem
	r.Feedback = "Incorrect value and no working shown"
	return r
}

func gradeChemicalEquation(q model.Question, answer string) model.MarkingResult {
	r := model.MarkingResult{QuestionNumber: q.Number, MaxMarks: q.MaxMarks, Confidence: confChem}

	if q.CanonicalEquation == "" {
		r.Confidence = confDegraded
		r.Feedback = "No canonical equation recorded; manual review required"
		return r
	}

	if chem.CompareEquations(answer, q.CanonicalEquation) {
		if q.StateSymbolsRequired && !chem.HasStateSymbols(answer) {
			return gradeEquationSubPoints(q, answer, r)
		}
		r.MarksAwarded = q.MaxMarks
		r.Feedback = "Correct equation"
		return r
	}
	return gradeEquationSubPoints(q, answer, r)
}

// gradeEquationSubPoints marks formula correctness, balance, and state
// symbols independently when the equation as a whole does not match.
func gradeEquationSubPoints(q model.Question, answer string, r model.MarkingResult) model.MarkingResult {
	type subCheck struct {
		id     string
		passed bool
		reason string
	}

	var checks []subCheck
	checks = append(checks, subCheck{id: "formulas", passed: sameCompounds(answer, q.CanonicalEquation),
		reason: "species match the expected equation"})
	if q.BalanceRequired {
		balanced := false
		if eq, err := chem.ParseEquation(answer); err == nil {
			if ok, err := eq.IsBalanced(); err == nil {
				balanced = ok
			}
		}
		checks = append(checks, subCheck{id: "balance", passed: balanced, reason: "equation is balanced"})
	}
	if q.StateSymbolsRequired {
		checks = append(checks, subCheck{id: "states", passed: chem.HasStateSymbols(answer),
			reason: "state symbols present"})
	}

	var feedback []string
	for i, c := range checks {
		marks := 1
		if i < len(q.Points) {
			marks = q.Points[i].Marks
		}
		awarded := 0
		if c.passed {
			awarded = marks
		} else {
			feedback = append(feedback, c.id+" incorrect")
		}
		r.MarksAwarded += awarded
		r.Breakdown = append(r.Breakdown, model.PointAward{
			PointID: c.id,
			Awarded: c.passed,
			Marks:   awarded,
			Reason:  c.reason,
		})
	}

	if len(feedback) == 0 {
		r.Feedback = "All equation criteria met"
	} else {
		r.Feedback = "Partially correct: " + strings.Join(feedback, ", ")
	}
	return r
}

// sameCompounds reports whether both equations involve the same species,
// ignoring coefficients and which side they appear on being swapped.
func sameCompounds(answer, canonical string) bool {
	a, err := chem.ParseEquation(answer)
	if err != nil {
		return false
	}
	b, err := chem.ParseEquation(canonical)
	if err != nil {
		return false
	}
	return formulaSet(a.Reactants) == formulaSet(b.Reactants) &&
		formulaSet(a.Products) == formulaSet(b.Products)
}

func formulaSet(terms []chem.Term) string {
	var keys []string
	for _, t := range terms {
		canon, err := chem.Normalize(t.Formula)
		if err != nil {
			canon = "!" + strings.ToLower(t.Formula)
		}
		keys = append(keys, canon)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

func gradeShortAnswer(q model.Question, rules model.MarkingRules, answer string) model.MarkingResult {
	r := model.MarkingResult{QuestionNumber: q.Number, MaxMarks: q.MaxMarks}

	threshold := rules.SpellingTolerance.Threshold()
	for _, accepted := range q.AcceptedAnswers {
		if chem.FuzzyMatch(answer, accepted, threshold) {
			r.MarksAwarded = q.MaxMarks
			r.Confidence = confFuzzy
			r.Feedback = "Accepted answer"
			return r
		}
	}

	// Partial credit: one mark allocation per marking point with at least
	// one keyword present (bag of keywords, no tolerance match).
	for _, p := range q.Points {
		hit := false
		for _, kw := range p.Keywords {
			if chem.ContainsKeyword(answer, kw) {
				hit = true
				break
			}
		}
		awarded := 0
		if hit {
			awarded = p.Marks
			r.MarksAwarded += p.Marks
		}
		r.Breakdown = append(r.Breakdown, model.PointAward{
			PointID: p.ID,
			Awarded: hit,
			Marks:   awarded,
			Reason:  p.Criteria,
		})
	}

	r.Confidence = confKeyword
	if r.MarksAwarded > 0 {
		r.Feedback = "Partial credit from marking points"
	} else {
		r.Feedback = "No accepted answer or marking-point keywords found"
	}
	return r
}

// extendedKeywordThreshold is the fraction of a point's keywords that must
// appear for the point to be awarded.
const extendedKeywordThreshold = 0.6

func gradeExtendedResponse(q model.Question, answer string) model.MarkingResult {
	r := model.MarkingResult{QuestionNumber: q.Number, MaxMarks: q.MaxMarks, Confidence: confKeyword}

	for _, p := range q.Points {
		frac := chem.KeywordFraction(answer, p.Keywords)
		hit := frac >= extendedKeywordThreshold
		awarded := 0
		if hit {
			awarded = p.Marks
			r.MarksAwarded += p.Marks
		}
		r.Breakdown = append(r.Breakdown, model.PointAward{
			PointID: p.ID,
			Awarded: hit,
			Marks:   awarded,
			Reason:  p.Criteria,
		})
	}

	if r.MarksAwarded > 0 {
		r.Feedback = "Credit awarded for covered marking points"
	} else {
		r.Feedback = "Too few marking-point keywords covered"
	}
	return r
}

// ExtendedCorrect reports whether an extended response counts as correct:
// at least 80% of the maximum marks. Extended responses are not expected
// to be all-or-nothing.
func ExtendedCorrect(awarded, max int) bool {
	if max == 0 {
		return false
	}
	return float64(awarded)/float64(max) >= 0.8
}
