package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/grader"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/i18n"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/ocr"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/pipeline"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/scheme"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/store"
)

type fakeExtractor struct {
	text string
}

func (f *fakeExtractor) Extract(_ context.Context, _ ocr.Document) (*ocr.Result, error) {
	return &ocr.Result{Text: f.text, Confidence: 0.97}, nil
}

type fakeStructurer struct{}

func (f *fakeStructurer) StructureMarkScheme(_ context.Context, _ string, _ model.PaperHints) (*model.MarkScheme, error) {
	ms := &model.MarkScheme{
		Rules: model.DefaultRules(),
		Questions: []model.Question{
			{Number: "1", Type: model.TypeMultipleChoice, MaxMarks: 1, AcceptedAnswers: []string{"C"}},
			{Number: "2", Type: model.TypeShortAnswer, MaxMarks: 2, AcceptedAnswers: []string{"sodium chloride"}},
		},
	}
	ms.Recompute()
	return ms, nil
}

func newTestServer(t *testing.T, extractedText string) (*httptest.Server, *store.Store) {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ex := &fakeExtractor{text: extractedText}
	orch := pipeline.New(s, ex, grader.New(nil, false), 5*time.Second)
	structurer := scheme.New(ex, &fakeStructurer{})

	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	New(s, orch, structurer).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, s
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createPaper(t *testing.T, srv *httptest.Server) int64 {
	t.Helper()
	resp := postJSON(t, srv.URL+"/papers", model.Paper{Board: "AQA", Code: "7405/1", Title: "Paper 1", Year: 2024})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create paper: status %d", resp.StatusCode)
	}
	p := decode[model.Paper](t, resp)
	return p.ID
}

func uploadScheme(t *testing.T, srv *httptest.Server, paperID int64) {
	t.Helper()
	resp := postJSON(t, fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID),
		map[string]any{"raw_text": "1. C [1]\n2. sodium chloride [2]"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload scheme: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func uploadSubmission(t *testing.T, srv *httptest.Server, paperID int64, doc []byte) int64 {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("document", "answers.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(doc)
	mw.Close()

	resp, err := http.Post(fmt.Sprintf("%s/papers/%d/submissions", srv.URL, paperID), mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST submission: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload submission: status %d", resp.StatusCode)
	}
	out := decode[map[string]any](t, resp)
	return int64(out["submission_id"].(float64))
}

func waitForStatus(t *testing.T, srv *httptest.Server, subID int64, want model.SubmissionStatus) model.StatusReport {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(fmt.Sprintf("%s/submissions/%d/status", srv.URL, subID))
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		report := decode[model.StatusReport](t, resp)
		if report.Status == want {
			return report
		}
		if report.Status == model.StatusFailed && want != model.StatusFailed {
			t.Fatalf("submission failed: %s", report.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last status %s", want, report.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestCreatePaperValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/papers", model.Paper{Board: "AQA"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing title, got %d", resp.StatusCode)
	}
}

func TestUploadMarkScheme(t *testing.T) {
	srv, _ := newTestServer(t, "")
	paperID := createPaper(t, srv)

	resp := postJSON(t, fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID),
		map[string]any{"raw_text": "scheme text"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	out := decode[markSchemeResponse](t, resp)
	if out.SchemeID == 0 || out.Scheme == nil {
		t.Fatalf("unexpected response %+v", out)
	}
	if out.Scheme.TotalMarks != 3 || out.Scheme.QuestionCount != 2 {
		t.Errorf("unexpected scheme totals %+v", out.Scheme)
	}

	// Identical re-upload keeps the active scheme.
	resp = postJSON(t, fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID),
		map[string]any{"raw_text": "scheme text"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", resp.StatusCode)
	}
	dup := decode[markSchemeResponse](t, resp)
	if !dup.Duplicate || dup.SchemeID != out.SchemeID {
		t.Errorf("expected duplicate of scheme %d, got %+v", out.SchemeID, dup)
	}

	// Changed text supersedes.
	resp = postJSON(t, fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID),
		map[string]any{"raw_text": "revised scheme text"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for revised scheme, got %d", resp.StatusCode)
	}
	revised := decode[markSchemeResponse](t, resp)
	if revised.SchemeID == out.SchemeID {
		t.Error("revised scheme should get a new ID")
	}
}

func TestUploadMarkSchemeValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")
	paperID := createPaper(t, srv)

	// Neither raw_text nor doc_data.
	resp := postJSON(t, fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID), map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	// Unknown paper.
	resp2 := postJSON(t, srv.URL+"/papers/9999/markscheme", map[string]any{"raw_text": "x"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp2.StatusCode)
	}
}

func TestGetMarkScheme(t *testing.T) {
	srv, _ := newTestServer(t, "")
	paperID := createPaper(t, srv)

	resp, err := http.Get(fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID))
	if err != nil {
		t.Fatalf("GET markscheme: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for paper without scheme, got %d", resp.StatusCode)
	}

	uploadScheme(t, srv, paperID)
	resp, err = http.Get(fmt.Sprintf("%s/papers/%d/markscheme", srv.URL, paperID))
	if err != nil {
		t.Fatalf("GET markscheme: %v", err)
	}
	ms := decode[model.MarkScheme](t, resp)
	if ms.QuestionCount != 2 {
		t.Errorf("unexpected scheme %+v", ms)
	}
}

func TestSubmissionEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t, "1) C\n2) sodium chloride")
	paperID := createPaper(t, srv)
	uploadScheme(t, srv, paperID)

	subID := uploadSubmission(t, srv, paperID, []byte("scan bytes"))

	// Results are not ready until marking completes.
	resp, err := http.Get(fmt.Sprintf("%s/submissions/%d/results", srv.URL, subID))
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	early := decode[map[string]any](t, resp)
	if avail, _ := early["available"].(bool); avail {
		// The pipeline may already have finished; only assert the contract
		// when it has not.
		_ = avail
	} else if early["message"] == "" {
		t.Error("not-ready response must carry a message")
	}

	waitForStatus(t, srv, subID, model.StatusMarkingComplete)

	resp, err = http.Get(fmt.Sprintf("%s/submissions/%d/results", srv.URL, subID))
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	report := decode[model.ResultsReport](t, resp)
	if !report.Available {
		t.Fatal("expected available results")
	}
	if report.Summary == nil || report.Summary.TotalScore != 3 || report.Summary.Grade != "A*" {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
	if len(report.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(report.Results))
	}

	// The submission shows up in the paper's listing with its totals.
	resp, err = http.Get(fmt.Sprintf("%s/papers/%d/submissions", srv.URL, paperID))
	if err != nil {
		t.Fatalf("GET submissions: %v", err)
	}
	listing := decode[map[string][]model.Submission](t, resp)
	subs := listing["submissions"]
	if len(subs) != 1 || subs[0].ID != subID {
		t.Fatalf("unexpected listing %+v", subs)
	}
	if subs[0].Grade != "A*" {
		t.Errorf("expected grade A* in listing, got %q", subs[0].Grade)
	}
}

func TestSubmissionRejectedWithoutScheme(t *testing.T) {
	srv, _ := newTestServer(t, "")
	paperID := createPaper(t, srv)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("document", "answers.pdf")
	fw.Write([]byte("scan"))
	mw.Close()

	resp, err := http.Post(fmt.Sprintf("%s/papers/%d/submissions", srv.URL, paperID), mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST submission: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without an active scheme, got %d", resp.StatusCode)
	}
}

func TestStatusErrors(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/submissions/notanumber/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad ID, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/submissions/9999/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown submission, got %d", resp.StatusCode)
	}
}
