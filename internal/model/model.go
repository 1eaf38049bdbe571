package model

import "time"

// QuestionType classifies a mark-scheme question and selects the marking policy.
type QuestionType string

const (
	TypeMultipleChoice   QuestionType = "multiple_choice"
	TypeCalculation      QuestionType = "calculation"
	TypeChemicalEquation QuestionType = "chemical_equation"
	TypeShortAnswer      QuestionType = "short_answer"
	TypeExtendedResponse QuestionType = "extended_response"
)

// ValidType reports whether t is one of the known question types.
func ValidType(t QuestionType) bool {
	switch t {
	case TypeMultipleChoice, TypeCalculation, TypeChemicalEquation, TypeShortAnswer, TypeExtendedResponse:
		return true
	}
	return false
}

// SubmissionStatus tracks a submission through the marking pipeline.
// Transitions are one-directional; failed is terminal and reachable from
// any non-terminal state.
type SubmissionStatus string

const (
	StatusUploaded        SubmissionStatus = "uploaded"
	StatusProcessing      SubmissionStatus = "processing"
	StatusOCRComplete     SubmissionStatus = "ocr_complete"
	StatusMarking         SubmissionStatus = "marking"
	StatusMarkingComplete SubmissionStatus = "marking_complete"
	StatusFailed          SubmissionStatus = "failed"
)

// SpellingTolerance maps to a fuzzy-match similarity threshold.
type SpellingTolerance string

const (
	SpellingStrict   SpellingTolerance = "strict"
	SpellingModerate SpellingTolerance = "moderate"
	SpellingLenient  SpellingTolerance = "lenient"
)

// Threshold returns the normalized-similarity threshold for the tolerance
// level. Unknown values fall back to the moderate threshold.
func (t SpellingTolerance) Threshold() float64 {
	switch t {
	case SpellingStrict:
		return 0.95
	case SpellingLenient:
		return 0.65
	default:
		return 0.80
	}
}

// Paper identifies an exam paper. Catalog management is external; the core
// only needs papers as an attachment point for mark schemes and submissions.
type Paper struct {
	ID    int64  `json:"id"`
	Board string `json:"board"`
	Code  string `json:"code"`
	Title string `json:"title"`
	Year  int    `json:"year"`
}

// MarkingRules holds the global marking rules of a mark scheme.
type MarkingRules struct {
	ListPenalty         bool              `json:"list_penalty"`
	ErrorCarriedForward bool              `json:"error_carried_forward"`
	SpellingTolerance   SpellingTolerance `json:"spelling_tolerance"`
	NumericTolerance    float64           `json:"numeric_tolerance"`
}

// DefaultRules returns the rules applied when a mark scheme does not
// specify its own.
func DefaultRules() MarkingRules {
	return MarkingRules{
		ListPenalty:         true,
		ErrorCarriedForward: true,
		SpellingTolerance:   SpellingModerate,
		NumericTolerance:    0.01,
	}
}

// MarkingPoint is an atomic, separately awardable criterion within a question.
type MarkingPoint struct {
	ID                string   `json:"id"`
	Marks             int      `json:"marks"`
	Criteria          string   `json:"criteria"`
	Keywords          []string `json:"keywords,omitempty"`
	AcceptableAnswers []string `json:"acceptable_answers,omitempty"`
}

// Question is one mark-scheme question with its marking points and
// type-specific flags. Immutable once its scheme is active.
type Question struct {
	ID                   int64          `json:"id"`
	SchemeID             int64          `json:"scheme_id"`
	Number               string         `json:"number"`
	Type                 QuestionType   `json:"type"`
	MaxMarks             int            `json:"max_marks"`
	Points               []MarkingPoint `json:"points"`
	AcceptedAnswers      []string       `json:"accepted_answers,omitempty"`
	CanonicalEquation    string         `json:"canonical_equation,omitempty"`
	BalanceRequired      bool           `json:"balance_required,omitempty"`
	StateSymbolsRequired bool           `json:"state_symbols_required,omitempty"`
}

// MarkScheme is the structured answer key for one paper. Total marks and
// question count are always recomputed from the questions, never trusted
// from input. Re-uploading a scheme supersedes the old one; schemes are
// never mutated in place.
type MarkScheme struct {
	ID            int64        `json:"id"`
	PaperID       int64        `json:"paper_id"`
	Active        bool         `json:"active"`
	Rules         MarkingRules `json:"rules"`
	TotalMarks    int          `json:"total_marks"`
	QuestionCount int          `json:"question_count"`
	Questions     []Question   `json:"questions"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Recompute derives TotalMarks and QuestionCount from the question list.
func (ms *MarkScheme) Recompute() {
	total := 0
	for _, q := range ms.Questions {
		total += q.MaxMarks
	}
	ms.TotalMarks = total
	ms.QuestionCount = len(ms.Questions)
}

// PaperHints carries caller-supplied expectations checked against a
// structured mark scheme. Zero values mean "no expectation".
type PaperHints struct {
	ExpectedTotalMarks int `json:"expected_total_marks,omitempty"`
	ExpectedQuestions  int `json:"expected_questions,omitempty"`
}

// ValidationWarning is a non-fatal finding from mark-scheme structuring.
// Warnings never block activation.
type ValidationWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Submission is one student's answer document for one paper.
type Submission struct {
	ID           int64            `json:"id"`
	PaperID      int64            `json:"paper_id"`
	UserID       int64            `json:"user_id"`
	Status       SubmissionStatus `json:"status"`
	DocName      string           `json:"doc_name"`
	DocMIME      string           `json:"doc_mime"`
	RawText      string           `json:"raw_text,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	TotalScore   int              `json:"total_score"`
	MaxScore     int              `json:"max_score"`
	Percentage   float64          `json:"percentage"`
	Grade        string           `json:"grade"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// PointAward records whether a single marking point was awarded and why.
type PointAward struct {
	PointID string `json:"point_id"`
	Awarded bool   `json:"awarded"`
	Marks   int    `json:"marks"`
	Reason  string `json:"reason"`
}

// MarkingResult is the outcome for one (submission, question) pair.
// A grading pass fully replaces any prior results for the submission.
type MarkingResult struct {
	ID             int64        `json:"id"`
	SubmissionID   int64        `json:"submission_id"`
	QuestionNumber string       `json:"question_number"`
	MarksAwarded   int          `json:"marks_awarded"`
	MaxMarks       int          `json:"max_marks"`
	Correct        bool         `json:"correct"`
	Confidence     float64      `json:"confidence"`
	Feedback       string       `json:"feedback"`
	Breakdown      []PointAward `json:"breakdown,omitempty"`
}

// Progress is the structured progress view derived from a submission's
// committed status.
type Progress struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// ProgressFor maps a status to its progress view.
func ProgressFor(status SubmissionStatus) Progress {
	switch status {
	case StatusUploaded:
		return Progress{Stage: "uploaded", Message: "Waiting for processing", Percent: 10}
	case StatusProcessing:
		return Progress{Stage: "processing", Message: "Extracting text from document", Percent: 30}
	case StatusOCRComplete:
		return Progress{Stage: "ocr_complete", Message: "Text extracted", Percent: 55}
	case StatusMarking:
		return Progress{Stage: "marking", Message: "Marking answers", Percent: 75}
	case StatusMarkingComplete:
		return Progress{Stage: "marking_complete", Message: "Marking complete", Percent: 100}
	case StatusFailed:
		return Progress{Stage: "failed", Message: "Processing failed", Percent: 100}
	}
	return Progress{Stage: string(status)}
}

// StatusReport is the polling view of a submission.
type StatusReport struct {
	SubmissionID int64            `json:"submission_id"`
	Status       SubmissionStatus `json:"status"`
	Progress     Progress         `json:"progress"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// GradeSummary aggregates a full result set into the reported score.
type GradeSummary struct {
	TotalScore   int      `json:"total_score"`
	MaxScore     int      `json:"max_score"`
	Percentage   float64  `json:"percentage"`
	Grade        string   `json:"grade"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// ResultsReport is the read contract for graded submissions. Before
// marking completes, Available is false and Results is empty; this is a
// well-defined response, not an error.
type ResultsReport struct {
	SubmissionID int64            `json:"submission_id"`
	Status       SubmissionStatus `json:"status"`
	Available    bool             `json:"available"`
	Summary      *GradeSummary    `json:"summary,omitempty"`
	Results      []MarkingResult  `json:"results,omitempty"`
}

// FallbackVerdict is the strict JSON contract returned by a
// language-model marking call.
type FallbackVerdict struct {
	Score    int            `json:"score"`
	MaxMarks int            `json:"max_marks"`
	Feedback string         `json:"feedback"`
	Points   []PointVerdict `json:"points"`
}

// PointVerdict is the per-point verdict inside a FallbackVerdict.
type PointVerdict struct {
	ID      string `json:"id"`
	Awarded bool   `json:"awarded"`
	Reason  string `json:"reason"`
}
