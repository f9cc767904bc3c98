// ABOUTME: Provider fault types and HTTP error extraction
// ABOUTME: Reduces vendor error payloads to a single human-readable message

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrTurnTimeout is delivered into a fragment sequence when a turn deadline passes.
var ErrTurnTimeout = errors.New("model did not finish in time")

// APIError is an upstream fault reported by a model provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

// errorEnvelope matches the {"error": {"message": ...}} shape used by OpenAI,
// Anthropic and Gemini alike.
type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// checkHTTPError returns an APIError for non-2xx responses and closes the body in that case.
func checkHTTPError(providerName string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &APIError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Message:    extractMessage(body, resp.Status),
	}
}

// extractMessage pulls error.message out of a JSON payload, falling back to the raw text.
func extractMessage(body []byte, fallback string) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	return text
}
