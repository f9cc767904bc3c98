// ABOUTME: Anthropic messages adapter (stream: true over SSE)
// ABOUTME: Forwards text_delta blocks and stops on message_stop or an error event

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
	anthropicName           = "anthropic"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicModel   = "claude-3-opus-20240229"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 1024
)

// Anthropic streams replies from the messages endpoint.
type Anthropic struct {
	cfg Config
}

// NewAnthropic creates an Anthropic adapter, filling in the default endpoint, model and token limit.
func NewAnthropic(cfg Config) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Anthropic{cfg: cfg}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream implements Capability.
func (p *Anthropic) Stream(ctx context.Context, history []Message) (<-chan Chunk, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", anthropicName, ErrMissingAPIKey)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		Messages:  history,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Api-Key", p.cfg.APIKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)

	//nolint:bodyclose // closed by pumpSSE
	resp, err := p.cfg.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", anthropicName, err)
	}
	if err := checkHTTPError(anthropicName, resp); err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go pumpSSE(ctx, resp.Body, out, decodeAnthropic)
	return out, nil
}

func decodeAnthropic(data string) (string, bool, error) {
	var event anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", false, fmt.Errorf("%s: decoding stream event: %w", anthropicName, err)
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta != nil && event.Delta.Type == "text_delta" {
			return event.Delta.Text, false, nil
		}
	case "message_stop":
		return "", true, nil
	case "error":
		msg := "stream error"
		if event.Error != nil && event.Error.Message != "" {
			msg = event.Error.Message
		}
		return "", false, &APIError{Provider: anthropicName, Message: msg}
	}
	return "", false, nil
}
