package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the external provider boundary. Providers wrap these
// so callers can classify failures with errors.Is.
var (
	// ErrProviderUnavailable marks an extraction or language-model call
	// that could not reach the provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderTimeout marks a provider call that exhausted its time or
	// polling budget.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderRejected marks input the provider refused (malformed or
	// too large).
	ErrProviderRejected = errors.New("provider rejected input")
	// ErrMalformedResponse marks a provider reply that violated its
	// output contract. Never partially consumed.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// ValidationError reports bad caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FailureClass groups pipeline failures for user-visible messages.
type FailureClass string

const (
	FailureOCR     FailureClass = "ocr"
	FailureAI      FailureClass = "ai"
	FailureConfig  FailureClass = "configuration"
	FailureUnknown FailureClass = "unknown"
)

// ClassifyFailure derives a failure class from the error text. The pipeline
// surfaces the class together with the underlying message so callers can
// tell an OCR outage from a marking-model outage.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "ocr") || strings.Contains(msg, "extraction") || strings.Contains(msg, "mathpix"):
		return FailureOCR
	case strings.Contains(msg, "llm") || strings.Contains(msg, "openai") || strings.Contains(msg, "marking call") || strings.Contains(msg, "structuring"):
		return FailureAI
	case strings.Contains(msg, "api key") || strings.Contains(msg, "config") || strings.Contains(msg, "mark scheme"):
		return FailureConfig
	}
	return FailureUnknown
}

// FailureMessage builds the non-empty, classified error message stored on a
// failed submission.
func FailureMessage(stage string, err error) string {
	class := ClassifyFailure(err)
	return fmt.Sprintf("[%s] %s failed: %v", class, stage, err)
}
