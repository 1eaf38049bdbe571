// Package ocr adapts an external text-extraction provider to the marking
// pipeline. Large documents are submitted asynchronously; the adapter polls
// for completion with a bounded number of attempts and a fixed delay.
package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// Document is the input to extraction.
type Document struct {
	Name string
	MIME string
	Data []byte
}

// Result is the extraction output: plain text plus any structured math the
// provider discovered.
type Result struct {
	Text       string
	Confidence float64
	Formulas   []string
}

// Job states reported by the provider.
const (
	StatePending = "pending"
	StateDone    = "done"
	StateError   = "error"
)

// JobStatus is one poll response from the provider.
type JobStatus struct {
	State      string
	Text       string
	Confidence float64
	Formulas   []string
	Message    string
}

// Provider is the raw extraction-provider boundary: submit a document,
// then poll the job until it reaches a terminal state.
type Provider interface {
	Submit(ctx context.Context, doc Document) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (*JobStatus, error)
}

// Adapter wraps a Provider with the bounded polling loop. It performs no
// retries of its own; a failed extraction is pipeline-fatal and retry
// policy belongs to the caller.
type Adapter struct {
	provider     Provider
	maxAttempts  int
	pollInterval time.Duration
}

// NewAdapter creates an extraction adapter. Non-positive attempts or
// interval fall back to defaults.
func NewAdapter(p Provider, maxAttempts int, pollInterval time.Duration) *Adapter {
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Adapter{provider: p, maxAttempts: maxAttempts, pollInterval: pollInterval}
}

// Extract submits the document and polls until the job completes. Exceeding
// the attempt budget yields ErrProviderTimeout; any terminal non-done state
// yields ErrProviderRejected.
func (a *Adapter) Extract(ctx context.Context, doc Document) (*Result, error) {
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("%w: empty document", model.ErrProviderRejected)
	}

	jobID, err := a.provider.Submit(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("submit extraction job: %w", err)
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		status, err := a.provider.Poll(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("poll extraction job %s: %w", jobID, err)
		}

		switch status.State {
		case StateDone:
			return &Result{
				Text:       status.Text,
				Confidence: status.Confidence,
				Formulas:   status.Formulas,
			}, nil
		case StatePending:
			// Fall through to the delay below.
		default:
			return nil, fmt.Errorf("%w: extraction job %s ended %s: %s",
				model.ErrProviderRejected, jobID, status.State, status.Message)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: extraction job %s: %v", model.ErrProviderTimeout, jobID, ctx.Err())
		case <-time.After(a.pollInterval):
		}
	}

	return nil, fmt.Errorf("%w: extraction job %s still pending after %d attempts",
		model.ErrProviderTimeout, jobID, a.maxAttempts)
}
