// Package llm wraps an OpenAI-compatible API for the two language-model
// calls the pipeline makes: marking a single answer and structuring a raw
// mark scheme. Both calls use a strict JSON contract; a reply that fails to
// parse or misses a required field is a hard failure of that call.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/llm/prompts"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable before the server starts taking
// submissions.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// MarkAnswer sends one question, its marking points, and the student's
// answer to the model and parses the verdict.
func (c *Client) MarkAnswer(ctx context.Context, q model.Question, rules model.MarkingRules, answer string) (*model.FallbackVerdict, error) {
	raw, err := c.complete(ctx, prompts.BuildMarkingPrompt(q, rules), prompts.SanitizeAnswer(answer))
	if err != nil {
		return nil, fmt.Errorf("LLM marking call: %w", err)
	}

	var verdict model.FallbackVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("%w: parse marking reply: %v (raw: %s)", model.ErrMalformedResponse, err, raw)
	}
	if verdict.MaxMarks <= 0 || verdict.Score < 0 {
		return nil, fmt.Errorf("%w: marking reply out of range (score %d, max %d)",
			model.ErrMalformedResponse, verdict.Score, verdict.MaxMarks)
	}
	return &verdict, nil
}

// schemePayload is the structuring call's output contract.
type schemePayload struct {
	Rules     *model.MarkingRules `json:"rules"`
	Questions []struct {
		Number               string               `json:"number"`
		Type                 model.QuestionType   `json:"type"`
		MaxMarks             int                  `json:"max_marks"`
		AcceptedAnswers      []string             `json:"accepted_answers"`
		CanonicalEquation    string               `json:"canonical_equation"`
		BalanceRequired      bool                 `json:"balance_required"`
		StateSymbolsRequired bool                 `json:"state_symbols_required"`
		Points               []model.MarkingPoint `json:"points"`
	} `json:"questions"`
}

// StructureMarkScheme turns raw extracted mark-scheme text into a
// MarkScheme. The caller owns retry policy and total-marks validation.
func (c *Client) StructureMarkScheme(ctx context.Context, rawText string, hints model.PaperHints) (*model.MarkScheme, error) {
	raw, err := c.complete(ctx, prompts.BuildStructuringPrompt(hints), rawText)
	if err != nil {
		return nil, fmt.Errorf("LLM structuring call: %w", err)
	}

	var payload schemePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: parse structuring reply: %v", model.ErrMalformedResponse, err)
	}
	if len(payload.Questions) == 0 {
		return nil, fmt.Errorf("%w: structuring reply has no questions", model.ErrMalformedResponse)
	}

	scheme := &model.MarkScheme{Rules: model.DefaultRules()}
	if payload.Rules != nil {
		scheme.Rules = *payload.Rules
		if scheme.Rules.SpellingTolerance == "" {
			slog.Warn("structuring reply missing spelling tolerance, using default")
			scheme.Rules.SpellingTolerance = model.SpellingModerate
		}
		if scheme.Rules.NumericTolerance <= 0 {
			scheme.Rules.NumericTolerance = model.DefaultRules().NumericTolerance
		}
	}

	for i, q := range payload.Questions {
		if q.Number == "" {
			return nil, fmt.Errorf("%w: question %d has no identifier", model.ErrMalformedResponse, i)
		}
		if !model.ValidType(q.Type) {
			return nil, fmt.Errorf("%w: question %s has unknown type %q", model.ErrMalformedResponse, q.Number, q.Type)
		}
		if q.MaxMarks <= 0 {
			return nil, fmt.Errorf("%w: question %s has non-positive max marks", model.ErrMalformedResponse, q.Number)
		}
		scheme.Questions = append(scheme.Questions, model.Question{
			Number:               q.Number,
			Type:                 q.Type,
			MaxMarks:             q.MaxMarks,
			Points:               q.Points,
			AcceptedAnswers:      q.AcceptedAnswers,
			CanonicalEquation:    q.CanonicalEquation,
			BalanceRequired:      q.BalanceRequired,
			StateSymbolsRequired: q.StateSymbolsRequired,
		})
	}

	scheme.Recompute()
	return scheme, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", model.ErrMalformedResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}
