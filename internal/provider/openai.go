// ABOUTME: OpenAI chat completions adapter (stream: true over SSE)
// ABOUTME: Maps choices[0].delta.content events onto the uniform fragment sequence

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	openAIName           = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-3.5-turbo"
	openAIDoneMarker     = "[DONE]"
)

// OpenAI streams replies from the chat completions endpoint.
type OpenAI struct {
	cfg Config
}

// NewOpenAI creates an OpenAI adapter, filling in the default endpoint and model.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg}
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream implements Capability.
func (p *OpenAI) Stream(ctx context.Context, history []Message) (<-chan Chunk, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", openAIName, ErrMissingAPIKey)
	}

	body, err := json.Marshal(openAIRequest{
		Model:    p.cfg.Model,
		Messages: history,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	//nolint:bodyclose // closed by pumpSSE
	resp, err := p.cfg.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", openAIName, err)
	}
	if err := checkHTTPError(openAIName, resp); err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go pumpSSE(ctx, resp.Body, out, decodeOpenAI)
	return out, nil
}

func decodeOpenAI(data string) (string, bool, error) {
	if data == openAIDoneMarker {
		return "", true, nil
	}
	var event openAIStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", false, fmt.Errorf("%s: decoding stream event: %w", openAIName, err)
	}
	if event.Error != nil {
		return "", false, &APIError{Provider: openAIName, Message: event.Error.Message}
	}
	if len(event.Choices) == 0 {
		return "", false, nil
	}
	return event.Choices[0].Delta.Content, false, nil
}
