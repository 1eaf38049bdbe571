package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// HTTPProvider talks to an OCR service with a submit/poll job API:
// POST {base}/v1/jobs returns a job id, GET {base}/v1/jobs/{id} reports
// {status, text, confidence, formulas}.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given endpoint.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit uploads the document and returns the provider's job id.
func (p *HTTPProvider) Submit(ctx context.Context, doc Document) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"name": doc.Name,
		"mime": doc.MIME,
		"data": base64.StdEncoding.EncodeToString(doc.Data),
	})
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}

	body, err := p.do(ctx, http.MethodPost, p.baseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	jobID := gjson.GetBytes(body, "job_id")
	if !jobID.Exists() || jobID.String() == "" {
		return "", fmt.Errorf("%w: submit response missing job_id", model.ErrMalformedResponse)
	}
	return jobID.String(), nil
}

// Poll fetches the current state of a job.
func (p *HTTPProvider) Poll(ctx context.Context, jobID string) (*JobStatus, error) {
	body, err := p.do(ctx, http.MethodGet, p.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	state := gjson.GetBytes(body, "status")
	if !state.Exists() {
		return nil, fmt.Errorf("%w: poll response missing status", model.ErrMalformedResponse)
	}

	status := &JobStatus{
		State:      state.String(),
		Text:       gjson.GetBytes(body, "text").String(),
		Confidence: gjson.GetBytes(body, "confidence").Float(),
		Message:    gjson.GetBytes(body, "error").String(),
	}
	for _, f := range gjson.GetBytes(body, "formulas").Array() {
		status.Formulas = append(status.Formulas, f.String())
	}
	return status, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", model.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: OCR service returned %d", model.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: OCR service returned %d: %s", model.ErrProviderRejected, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
