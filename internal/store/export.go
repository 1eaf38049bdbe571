package store

import (
	"fmt"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// ExportPaperResults builds an export-ready view of all submissions for a
// paper, with per-question results attached.
func (s *Store) ExportPaperResults(paperID int64) (*model.MarkingExport, error) {
	paper, err := s.GetPaper(paperID)
	if err != nil {
		return nil, fmt.Errorf("get paper %d: %w", paperID, err)
	}

	export := &model.MarkingExport{
		Board: paper.Board,
		Code:  paper.Code,
		Title: paper.Title,
		Year:  paper.Year,
	}
	if ms, err := s.GetActiveMarkScheme(paperID); err != nil {
		return nil, fmt.Errorf("get active mark scheme: %w", err)
	} else if ms != nil {
		export.TotalMarks = ms.TotalMarks
	}

	subs, err := s.ListSubmissions(paperID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	// Track submission count per user for attempt_number. Listing is
	// newest-first, so walk it backwards to number attempts in upload order.
	userAttempts := make(map[int64]int)

	for i := len(subs) - 1; i >= 0; i-- {
		sub := subs[i]
		userAttempts[sub.UserID]++

		results, err := s.GetResults(sub.ID)
		if err != nil {
			return nil, fmt.Errorf("get results for submission %d: %w", sub.ID, err)
		}

		var questions []model.QuestionResult
		for _, r := range results {
			questions = append(questions, model.QuestionResult{
				Number:       r.QuestionNumber,
				MarksAwarded: r.MarksAwarded,
				MaxMarks:     r.MaxMarks,
				Correct:      r.Correct,
				Confidence:   r.Confidence,
				Feedback:     r.Feedback,
				Breakdown:    r.Breakdown,
			})
		}

		export.Submissions = append(export.Submissions, model.SubmissionResult{
			SubmissionID:  sub.ID,
			UserID:        sub.UserID,
			AttemptNumber: userAttempts[sub.UserID],
			Status:        sub.Status,
			CreatedAt:     sub.CreatedAt,
			TotalScore:    sub.TotalScore,
			MaxScore:      sub.MaxScore,
			Percentage:    sub.Percentage,
			Grade:         sub.Grade,
			Questions:     questions,
		})
	}

	return export, nil
}
