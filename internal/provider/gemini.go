// ABOUTME: Google Gemini adapter using streamGenerateContent with alt=sse
// ABOUTME: Converts assistant turns to the "model" role and concatenates candidate parts

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	geminiName           = "gemini"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-pro"
)

// Gemini streams replies from the Generative Language API.
type Gemini struct {
	cfg Config
}

// NewGemini creates a Gemini adapter, filling in the default endpoint and model.
func NewGemini(cfg Config) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gemini{cfg: cfg}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiStreamEvent struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream implements Capability.
func (p *Gemini) Stream(ctx context.Context, history []Message) (<-chan Chunk, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", geminiName, ErrMissingAPIKey)
	}

	body, err := json.Marshal(geminiRequest{Contents: toGeminiContents(history)})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.cfg.BaseURL, url.PathEscape(p.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Goog-Api-Key", p.cfg.APIKey)

	//nolint:bodyclose // closed by pumpSSE
	resp, err := p.cfg.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", geminiName, err)
	}
	if err := checkHTTPError(geminiName, resp); err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go pumpSSE(ctx, resp.Body, out, decodeGemini)
	return out, nil
}

func toGeminiContents(history []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	return contents
}

// decodeGemini never reports done: the stream ends when the body does.
func decodeGemini(data string) (string, bool, error) {
	var event geminiStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", false, fmt.Errorf("%s: decoding stream event: %w", geminiName, err)
	}
	if event.Error != nil {
		return "", false, &APIError{Provider: geminiName, Message: event.Error.Message}
	}
	if event.PromptFeedback != nil && event.PromptFeedback.BlockReason != "" {
		return "", false, &APIError{Provider: geminiName, Message: "prompt blocked: " + event.PromptFeedback.BlockReason}
	}
	if len(event.Candidates) == 0 {
		return "", false, nil
	}

	var sb strings.Builder
	for _, part := range event.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), false, nil
}
