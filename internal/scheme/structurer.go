// Package scheme turns raw mark-scheme documents into validated, structured
// mark schemes. Structuring is extraction followed by a single
// language-model structuring call; the result is cross-checked against
// caller expectations, and divergences become warnings, never errors — an
// imperfect but present mark scheme is more useful than a blocked one.
package scheme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/ocr"
)

// totalMarksTolerance is the absolute divergence from the caller's expected
// total accepted without a warning.
const totalMarksTolerance = 2

// Extractor is the document-extraction capability the structurer needs.
type Extractor interface {
	Extract(ctx context.Context, doc ocr.Document) (*ocr.Result, error)
}

// StructuringClient is the language-model structuring capability.
type StructuringClient interface {
	StructureMarkScheme(ctx context.Context, rawText string, hints model.PaperHints) (*model.MarkScheme, error)
}

// Structurer builds mark schemes from documents or raw text.
type Structurer struct {
	extractor Extractor
	llm       StructuringClient
}

// New creates a Structurer.
func New(extractor Extractor, llm StructuringClient) *Structurer {
	return &Structurer{extractor: extractor, llm: llm}
}

// Result is a structured mark scheme plus any non-fatal validation warnings.
type Result struct {
	Scheme   *model.MarkScheme
	Warnings []model.ValidationWarning
}

// StructureDocument extracts text from the document and structures it.
func (s *Structurer) StructureDocument(ctx context.Context, doc ocr.Document, hints model.PaperHints) (*Result, error) {
	extracted, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("extract mark scheme document: %w", err)
	}
	return s.StructureText(ctx, extracted.Text, hints)
}

// StructureText structures pre-extracted raw text. A malformed structuring
// reply is retried once, then the failure is final. Totals are recomputed
// from the returned questions and compared against the hints; divergence is
// recorded as warnings alongside the scheme.
func (s *Structurer) StructureText(ctx context.Context, rawText string, hints model.PaperHints) (*Result, error) {
	if rawText == "" {
		return nil, model.Validationf("mark scheme text is empty")
	}

	scheme, err := s.llm.StructureMarkScheme(ctx, rawText, hints)
	if errors.Is(err, model.ErrMalformedResponse) {
		slog.Warn("structuring reply malformed, retrying once", "error", err)
		scheme, err = s.llm.StructureMarkScheme(ctx, rawText, hints)
	}
	if err != nil {
		return nil, fmt.Errorf("structure mark scheme: %w", err)
	}

	// Never trust model-reported totals.
	scheme.Recompute()

	return &Result{Scheme: scheme, Warnings: validate(scheme, hints)}, nil
}

func validate(scheme *model.MarkScheme, hints model.PaperHints) []model.ValidationWarning {
	var warnings []model.ValidationWarning

	if hints.ExpectedTotalMarks > 0 {
		diff := scheme.TotalMarks - hints.ExpectedTotalMarks
		if diff < -totalMarksTolerance || diff > totalMarksTolerance {
			warnings = append(warnings, model.ValidationWarning{
				Field: "total_marks",
				Message: fmt.Sprintf("structured total %d diverges from expected %d",
					scheme.TotalMarks, hints.ExpectedTotalMarks),
			})
		}
	}
	if hints.ExpectedQuestions > 0 && scheme.QuestionCount != hints.ExpectedQuestions {
		warnings = append(warnings, model.ValidationWarning{
			Field: "question_count",
			Message: fmt.Sprintf("structured %d questions, expected %d",
				scheme.QuestionCount, hints.ExpectedQuestions),
		})
	}

	seen := make(map[string]bool, len(scheme.Questions))
	for _, q := range scheme.Questions {
		if seen[q.Number] {
			warnings = append(warnings, model.ValidationWarning{
				Field:   "questions",
				Message: fmt.Sprintf("duplicate question identifier %q", q.Number),
			})
		}
		seen[q.Number] = true

		pointSum := 0
		for _, p := range q.Points {
			pointSum += p.Marks
		}
		// Points summing past the question cap is suspicious but not fatal.
		if pointSum > q.MaxMarks {
			warnings = append(warnings, model.ValidationWarning{
				Field: "points",
				Message: fmt.Sprintf("question %s: marking points sum to %d, above max marks %d",
					q.Number, pointSum, q.MaxMarks),
			})
			slog.Warn("marking points exceed question maximum",
				"question", q.Number, "point_sum", pointSum, "max_marks", q.MaxMarks)
		}
	}

	return warnings
}
