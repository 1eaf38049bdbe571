// Package pipeline drives a submission from upload through extraction and
// marking to durable results. Every state transition is committed before the
// next stage starts, so a crash resumes from a consistent state and status
// polls always see a committed value.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/grader"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/ocr"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/store"
)

const defaultStageTimeout = 2 * time.Minute

// Extractor is the text-extraction capability the pipeline needs.
type Extractor interface {
	Extract(ctx context.Context, doc ocr.Document) (*ocr.Result, error)
}

// Orchestrator runs the submission pipeline. One submission is processed by
// one goroutine; concurrent submissions are independent.
type Orchestrator struct {
	store        *store.Store
	extractor    Extractor
	grader       *grader.Engine
	stageTimeout time.Duration
}

// New creates an Orchestrator. A non-positive stage timeout falls back to
// the default.
func New(st *store.Store, extractor Extractor, engine *grader.Engine, stageTimeout time.Duration) *Orchestrator {
	if stageTimeout <= 0 {
		stageTimeout = defaultStageTimeout
	}
	return &Orchestrator{store: st, extractor: extractor, grader: engine, stageTimeout: stageTimeout}
}

// Submit validates and stores a new submission. The paper must have an
// active mark scheme before any document is accepted; the document itself is
// persisted so processing can be re-run without re-upload.
func (o *Orchestrator) Submit(ctx context.Context, sub model.Submission, doc []byte) (int64, error) {
	if len(doc) == 0 {
		return 0, model.Validationf("submission document is empty")
	}

	ms, err := o.store.GetActiveMarkScheme(sub.PaperID)
	if err != nil {
		return 0, fmt.Errorf("look up mark scheme: %w", err)
	}
	if ms == nil {
		return 0, model.Validationf("paper %d has no active mark scheme", sub.PaperID)
	}

	id, err := o.store.CreateSubmission(sub, doc)
	if err != nil {
		return 0, fmt.Errorf("create submission: %w", err)
	}
	slog.Info("submission accepted", "submission", id, "paper", sub.PaperID, "doc", sub.DocName)
	return id, nil
}

// Run processes one submission to completion. Any stage failure marks the
// submission failed with a classified, durable error message; Run itself
// returns the failure for the caller's log.
func (o *Orchestrator) Run(ctx context.Context, submissionID int64) error {
	sub, err := o.store.GetSubmission(submissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", submissionID, err)
	}

	ms, err := o.store.GetActiveMarkScheme(sub.PaperID)
	if err != nil {
		return o.fail(submissionID, "mark scheme lookup", err)
	}
	if ms == nil {
		return o.fail(submissionID, "mark scheme lookup",
			model.Validationf("paper %d has no active mark scheme", sub.PaperID))
	}

	rawText, err := o.extract(ctx, submissionID, sub)
	if err != nil {
		return o.fail(submissionID, "text extraction", err)
	}

	if err := o.mark(ctx, submissionID, ms, rawText); err != nil {
		return o.fail(submissionID, "marking", err)
	}

	slog.Info("submission marked", "submission", submissionID)
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, submissionID int64, sub model.Submission) (string, error) {
	if err := o.store.UpdateSubmissionStatus(submissionID, model.StatusProcessing); err != nil {
		return "", fmt.Errorf("commit processing status: %w", err)
	}

	doc, err := o.store.GetSubmissionDoc(submissionID)
	if err != nil {
		return "", fmt.Errorf("load submission document: %w", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	res, err := o.extractor.Extract(stageCtx, ocr.Document{Name: sub.DocName, MIME: sub.DocMIME, Data: doc})
	if err != nil {
		return "", err
	}

	if err := o.store.SetSubmissionText(submissionID, res.Text); err != nil {
		return "", fmt.Errorf("store extracted text: %w", err)
	}
	if err := o.store.UpdateSubmissionStatus(submissionID, model.StatusOCRComplete); err != nil {
		return "", fmt.Errorf("commit ocr_complete status: %w", err)
	}
	return res.Text, nil
}

func (o *Orchestrator) mark(ctx context.Context, submissionID int64, ms *model.MarkScheme, rawText string) error {
	if err := o.store.UpdateSubmissionStatus(submissionID, model.StatusMarking); err != nil {
		return fmt.Errorf("commit marking status: %w", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	answers := grader.SegmentAnswers(rawText, ms.Questions)
	results := o.grader.GradeSubmission(stageCtx, ms, answers)
	for i := range results {
		results[i].SubmissionID = submissionID
	}
	summary := grader.Aggregate(stageCtx, results)

	if err := o.store.SaveResults(submissionID, results, summary); err != nil {
		return fmt.Errorf("save marking results: %w", err)
	}
	return nil
}

// fail commits the failed status with a classified error message. The
// message always names the stage and the failure class so a user can tell
// an extraction outage from a marking outage.
func (o *Orchestrator) fail(submissionID int64, stage string, cause error) error {
	msg := model.FailureMessage(stage, cause)
	slog.Error("submission failed", "submission", submissionID, "stage", stage, "error", cause)
	if err := o.store.FailSubmission(submissionID, msg); err != nil {
		slog.Error("could not commit failure", "submission", submissionID, "error", err)
	}
	return fmt.Errorf("%s: %w", stage, cause)
}

// GetStatus reads a submission's committed state as a progress report.
func (o *Orchestrator) GetStatus(ctx context.Context, submissionID int64) (*model.StatusReport, error) {
	sub, err := o.store.GetSubmission(submissionID)
	if err != nil {
		return nil, err
	}
	return &model.StatusReport{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		Progress:     model.ProgressFor(sub.Status),
		ErrorMessage: sub.ErrorMessage,
	}, nil
}

// GetResults reads a submission's marked results. Before marking completes
// the report says so instead of erroring; the summary is rebuilt from the
// stored per-question results so its advisory text follows the request
// locale.
func (o *Orchestrator) GetResults(ctx context.Context, submissionID int64) (*model.ResultsReport, error) {
	sub, err := o.store.GetSubmission(submissionID)
	if err != nil {
		return nil, err
	}

	report := &model.ResultsReport{SubmissionID: sub.ID, Status: sub.Status}
	if sub.Status != model.StatusMarkingComplete {
		return report, nil
	}

	results, err := o.store.GetResults(submissionID)
	if err != nil {
		return nil, fmt.Errorf("load marking results: %w", err)
	}
	summary := grader.Aggregate(ctx, results)

	report.Available = true
	report.Summary = &summary
	report.Results = results
	return report, nil
}
