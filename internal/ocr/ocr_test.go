package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// fakeProvider scripts a sequence of poll responses.
type fakeProvider struct {
	jobID     string
	submitErr error
	polls     []JobStatus
	pollErr   error
	pollCount int
}

func (f *fakeProvider) Submit(_ context.Context, _ Document) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.jobID, nil
}

func (f *fakeProvider) Poll(_ context.Context, _ string) (*JobStatus, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	idx := f.pollCount
	if idx >= len(f.polls) {
		idx = len(f.polls) - 1
	}
	f.pollCount++
	st := f.polls[idx]
	return &st, nil
}

func testDoc() Document {
	return Document{Name: "answers.pdf", MIME: "application/pdf", Data: []byte("%PDF-fake")}
}

func TestExtractCompletes(t *testing.T) {
	fp := &fakeProvider{
		jobID: "job-1",
		polls: []JobStatus{
			{State: StatePending},
			{State: StatePending},
			{State: StateDone, Text: "1a) 2.0 mol", Confidence: 0.91, Formulas: []string{"H2O"}},
		},
	}
	a := NewAdapter(fp, 5, time.Millisecond)

	res, err := a.Extract(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "1a) 2.0 mol" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Confidence != 0.91 {
		t.Errorf("unexpected confidence %v", res.Confidence)
	}
	if len(res.Formulas) != 1 || res.Formulas[0] != "H2O" {
		t.Errorf("unexpected formulas %v", res.Formulas)
	}
	if fp.pollCount != 3 {
		t.Errorf("expected 3 polls, got %d", fp.pollCount)
	}
}

func TestExtractTimeoutAfterBudget(t *testing.T) {
	fp := &fakeProvider{jobID: "job-2", polls: []JobStatus{{State: StatePending}}}
	a := NewAdapter(fp, 3, time.Millisecond)

	_, err := a.Extract(context.Background(), testDoc())
	if !errors.Is(err, model.ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout, got %v", err)
	}
	if fp.pollCount != 3 {
		t.Errorf("expected exactly 3 polls, got %d", fp.pollCount)
	}
}

func TestExtractRejectedTerminalState(t *testing.T) {
	fp := &fakeProvider{jobID: "job-3", polls: []JobStatus{{State: StateError, Message: "unsupported file"}}}
	a := NewAdapter(fp, 3, time.Millisecond)

	_, err := a.Extract(context.Background(), testDoc())
	if !errors.Is(err, model.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	a := NewAdapter(&fakeProvider{jobID: "x"}, 3, time.Millisecond)
	_, err := a.Extract(context.Background(), Document{Name: "empty.pdf"})
	if !errors.Is(err, model.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestExtractSubmitFailure(t *testing.T) {
	fp := &fakeProvider{submitErr: fmt.Errorf("%w: connection refused", model.ErrProviderUnavailable)}
	a := NewAdapter(fp, 3, time.Millisecond)

	_, err := a.Extract(context.Background(), testDoc())
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestExtractContextCancelled(t *testing.T) {
	fp := &fakeProvider{jobID: "job-4", polls: []JobStatus{{State: StatePending}}}
	a := NewAdapter(fp, 100, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Extract(ctx, testDoc())
	if !errors.Is(err, model.ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout on cancelled context, got %v", err)
	}
}

func TestHTTPProvider(t *testing.T) {
	pollsSeen := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/jobs":
			if r.Header.Get("Authorization") != "Bearer test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"job_id": "j-77"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/j-77":
			pollsSeen++
			if pollsSeen < 2 {
				json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":     "done",
				"text":       "Q1: C",
				"confidence": 0.88,
				"formulas":   []string{"CaCO3"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-key")
	a := NewAdapter(p, 5, time.Millisecond)

	res, err := a.Extract(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "Q1: C" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if len(res.Formulas) != 1 || res.Formulas[0] != "CaCO3" {
		t.Errorf("unexpected formulas %v", res.Formulas)
	}
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	_, err := p.Submit(context.Background(), testDoc())
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHTTPProviderRejectsBadInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	_, err := p.Submit(context.Background(), testDoc())
	if !errors.Is(err, model.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}
