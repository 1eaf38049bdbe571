package model

import "time"

// MarkingExport is the top-level JSON structure for results export.
type MarkingExport struct {
	Board       string             `json:"board"`
	Code        string             `json:"code"`
	Title       string             `json:"title"`
	Year        int                `json:"year"`
	TotalMarks  int                `json:"total_marks"`
	Submissions []SubmissionResult `json:"submissions"`
}

// SubmissionResult holds one submission's marking data for export.
type SubmissionResult struct {
	SubmissionID  int64            `json:"submission_id"`
	UserID        int64            `json:"user_id"`
	AttemptNumber int              `json:"attempt_number"`
	Status        SubmissionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	TotalScore    int              `json:"total_score"`
	MaxScore      int              `json:"max_score"`
	Percentage    float64          `json:"percentage"`
	Grade         string           `json:"grade"`
	Questions     []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question marking data for export.
type QuestionResult struct {
	Number       string       `json:"number"`
	MarksAwarded int          `json:"marks_awarded"`
	MaxMarks     int          `json:"max_marks"`
	Correct      bool         `json:"correct"`
	Confidence   float64      `json:"confidence"`
	Feedback     string       `json:"feedback"`
	Breakdown    []PointAward `json:"breakdown,omitempty"`
}
