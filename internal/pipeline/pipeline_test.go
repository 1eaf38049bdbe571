package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/grader"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/i18n"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/ocr"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/store"
)

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ ocr.Document) (*ocr.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Text: f.text, Confidence: 0.98}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func setupPaperWithScheme(t *testing.T, s *store.Store) int64 {
	t.Helper()
	paperID, err := s.CreatePaper(model.Paper{Board: "AQA", Code: "7405/1", Title: "Paper 1", Year: 2024})
	if err != nil {
		t.Fatalf("CreatePaper: %v", err)
	}
	ms := &model.MarkScheme{
		PaperID: paperID,
		Rules:   model.DefaultRules(),
		Questions: []model.Question{
			{Number: "1", Type: model.TypeMultipleChoice, MaxMarks: 1, AcceptedAnswers: []string{"C"}},
			{Number: "2", Type: model.TypeCalculation, MaxMarks: 1, AcceptedAnswers: []string{"2.5"}},
			{Number: "3", Type: model.TypeChemicalEquation, MaxMarks: 1,
				CanonicalEquation: "2H2 + O2 = 2H2O", BalanceRequired: true},
			{Number: "4", Type: model.TypeShortAnswer, MaxMarks: 1, AcceptedAnswers: []string{"sodium chloride"}},
		},
	}
	ms.Recompute()
	if _, err := s.CreateMarkScheme(ms); err != nil {
		t.Fatalf("CreateMarkScheme: %v", err)
	}
	return paperID
}

func newOrchestrator(t *testing.T, s *store.Store, ex Extractor) *Orchestrator {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	return New(s, ex, grader.New(nil, false), 5*time.Second)
}

func TestRunFullPipeline(t *testing.T) {
	s := newTestStore(t)
	paperID := setupPaperWithScheme(t, s)

	ex := &fakeExtractor{text: "1) C\n2) 2.5\n3) 2H2 + O2 = 2H2O\n4) sodium chloride"}
	o := newOrchestrator(t, s, ex)
	ctx := context.Background()

	subID, err := o.Submit(ctx, model.Submission{
		PaperID: paperID, UserID: 1, DocName: "answers.pdf", DocMIME: "application/pdf",
	}, []byte("scan bytes"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := o.Run(ctx, subID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ex.calls != 1 {
		t.Errorf("expected 1 extraction call, got %d", ex.calls)
	}

	status, err := o.GetStatus(ctx, subID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != model.StatusMarkingComplete {
		t.Errorf("expected marking_complete, got %q", status.Status)
	}
	if status.Progress.Percent != 100 {
		t.Errorf("expected 100%% progress, got %d", status.Progress.Percent)
	}
	if status.ErrorMessage != "" {
		t.Errorf("unexpected error message %q", status.ErrorMessage)
	}

	report, err := o.GetResults(ctx, subID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if !report.Available {
		t.Fatal("expected available results")
	}
	if len(report.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(report.Results))
	}
	for _, r := range report.Results {
		if !r.Correct {
			t.Errorf("question %s not marked correct: %+v", r.QuestionNumber, r)
		}
	}
	if report.Summary.TotalScore != 4 || report.Summary.MaxScore != 4 {
		t.Errorf("unexpected totals %+v", report.Summary)
	}
	if report.Summary.Percentage != 100 || report.Summary.Grade != "A*" {
		t.Errorf("expected 100%% A*, got %v %q", report.Summary.Percentage, report.Summary.Grade)
	}
}

func TestRunExtractionFailure(t *testing.T) {
	s := newTestStore(t)
	paperID := setupPaperWithScheme(t, s)

	ex := &fakeExtractor{err: fmt.Errorf("%w: extraction job j1 still pending after 30 attempts", model.ErrProviderTimeout)}
	o := newOrchestrator(t, s, ex)
	ctx := context.Background()

	subID, err := o.Submit(ctx, model.Submission{PaperID: paperID, UserID: 1}, []byte("scan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := o.Run(ctx, subID); err == nil {
		t.Fatal("expected Run to report the failure")
	}

	status, err := o.GetStatus(ctx, subID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != model.StatusFailed {
		t.Errorf("expected failed, got %q", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Fatal("failed submission must carry an error message")
	}
	if !strings.HasPrefix(status.ErrorMessage, "[ocr]") {
		t.Errorf("expected an ocr-classified message, got %q", status.ErrorMessage)
	}

	// No partial results are visible.
	report, err := o.GetResults(ctx, subID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if report.Available || len(report.Results) != 0 {
		t.Errorf("failed submission must expose no results: %+v", report)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestStore(t)
	o := newOrchestrator(t, s, &fakeExtractor{})
	ctx := context.Background()

	paperID, err := s.CreatePaper(model.Paper{Title: "No scheme yet"})
	if err != nil {
		t.Fatalf("CreatePaper: %v", err)
	}

	// No active mark scheme.
	_, err = o.Submit(ctx, model.Submission{PaperID: paperID, UserID: 1}, []byte("doc"))
	if !model.IsValidation(err) {
		t.Errorf("expected validation error for missing scheme, got %v", err)
	}

	// Empty document.
	withScheme := setupPaperWithScheme(t, s)
	_, err = o.Submit(ctx, model.Submission{PaperID: withScheme, UserID: 1}, nil)
	if !model.IsValidation(err) {
		t.Errorf("expected validation error for empty document, got %v", err)
	}
}

func TestGetResultsBeforeCompletion(t *testing.T) {
	s := newTestStore(t)
	paperID := setupPaperWithScheme(t, s)
	o := newOrchestrator(t, s, &fakeExtractor{})
	ctx := context.Background()

	subID, err := o.Submit(ctx, model.Submission{PaperID: paperID, UserID: 1}, []byte("scan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Uploaded but never processed: a well-defined not-ready report.
	report, err := o.GetResults(ctx, subID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if report.Available {
		t.Error("results must not be available before marking completes")
	}
	if report.Status != model.StatusUploaded {
		t.Errorf("expected uploaded, got %q", report.Status)
	}
	if report.Summary != nil {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}

func TestRunPartialAnswers(t *testing.T) {
	s := newTestStore(t)
	paperID := setupPaperWithScheme(t, s)

	// Only two of four questions answered; the rest score zero but marking
	// still completes.
	ex := &fakeExtractor{text: "1) C\n4) sodium chloride"}
	o := newOrchestrator(t, s, ex)
	ctx := context.Background()

	subID, err := o.Submit(ctx, model.Submission{PaperID: paperID, UserID: 1}, []byte("scan"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.Run(ctx, subID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	report, err := o.GetResults(ctx, subID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(report.Results) != 4 {
		t.Fatalf("expected one result per scheme question, got %d", len(report.Results))
	}
	if report.Summary.TotalScore != 2 {
		t.Errorf("expected 2 marks, got %d", report.Summary.TotalScore)
	}
	byNumber := map[string]model.MarkingResult{}
	for _, r := range report.Results {
		byNumber[r.QuestionNumber] = r
	}
	if byNumber["2"].Feedback != "No answer provided" {
		t.Errorf("unanswered question feedback = %q", byNumber["2"].Feedback)
	}
}
