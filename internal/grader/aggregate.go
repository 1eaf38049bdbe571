package grader

import (
	"context"
	"math"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/i18n"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// LetterGrade maps a percentage to the fixed A-level banding.
func LetterGrade(percentage float64) string {
	switch {
	case percentage >= 80:
		return "A*"
	case percentage >= 70:
		return "A"
	case percentage >= 60:
		return "B"
	case percentage >= 50:
		return "C"
	case percentage >= 40:
		return "D"
	case percentage >= 30:
		return "E"
	default:
		return "U"
	}
}

// Aggregate composes a full result set into the reported score, grade, and
// advisory summary text. The strengths/improvements lists are heuristic
// advice derived from the percentage band and the share of low-scoring
// questions; they are never a scored property.
func Aggregate(ctx context.Context, results []model.MarkingResult) model.GradeSummary {
	summary := model.GradeSummary{}

	lowCount := 0
	correctCount := 0
	flaggedCount := 0
	for _, r := range results {
		summary.TotalScore += r.MarksAwarded
		summary.MaxScore += r.MaxMarks
		if r.MarksAwarded*2 < r.MaxMarks {
			lowCount++
		}
		if r.Correct {
			correctCount++
		}
		if r.Confidence < 0.5 {
			flaggedCount++
		}
	}

	if summary.MaxScore > 0 {
		summary.Percentage = math.Round(float64(summary.TotalScore)/float64(summary.MaxScore)*10000) / 100
	}
	summary.Grade = LetterGrade(summary.Percentage)

	n := len(results)
	switch {
	case summary.Percentage >= 80:
		summary.Strengths = append(summary.Strengths, i18n.T(ctx, "summary_excellent"))
	case summary.Percentage >= 60:
		summary.Strengths = append(summary.Strengths, i18n.T(ctx, "summary_good"))
	}
	if n > 0 && float64(correctCount)/float64(n) >= 0.7 {
		summary.Strengths = append(summary.Strengths, i18n.T(ctx, "summary_strong_accuracy"))
	}

	if summary.Percentage < 40 {
		summary.Improvements = append(summary.Improvements, i18n.T(ctx, "summary_needs_fundamentals"))
	}
	if n > 0 && float64(lowCount)/float64(n) >= 1.0/3.0 {
		summary.Improvements = append(summary.Improvements, i18n.Tp(ctx, "summary_low_questions", lowCount))
	}
	if flaggedCount > 0 {
		summary.Improvements = append(summary.Improvements, i18n.Tp(ctx, "summary_review_flagged", flaggedCount))
	}

	return summary
}
