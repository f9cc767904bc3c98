// ABOUTME: Uniform streaming contract shared by every model backend
// ABOUTME: Defines Message, Chunk and the Capability interface adapters implement

package provider

import (
	"context"
	"errors"
	"net/http"
)

// ErrInvalidHistory is returned when a history is empty or does not end with a user message.
var ErrInvalidHistory = errors.New("history must be non-empty and end with a user message")

// ErrMissingAPIKey is returned by network adapters configured without credentials.
var ErrMissingAPIKey = errors.New("api key is not configured")

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry of a conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Chunk is one element of a fragment sequence. Exactly one of Text or Err is meaningful.
// A chunk with a non-nil Err is always the last one sent before the channel closes.
type Chunk struct {
	Text string
	Err  error
}

// Capability produces a lazy sequence of text fragments for a history.
//
// The returned channel is closed when the reply is complete. A fault during
// streaming is delivered as a final Chunk with Err set. An error return means
// the call could not be issued at all. Implementations stop producing and close
// the channel when ctx is cancelled.
type Capability interface {
	Stream(ctx context.Context, history []Message) (<-chan Chunk, error)
}

// CapabilityFunc adapts a plain function to the Capability interface.
type CapabilityFunc func(ctx context.Context, history []Message) (<-chan Chunk, error)

// Stream calls f.
func (f CapabilityFunc) Stream(ctx context.Context, history []Message) (<-chan Chunk, error) {
	return f(ctx, history)
}

// Config holds the settings shared by the HTTP-backed adapters.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// ValidateHistory checks the input constraint every adapter relies on.
func ValidateHistory(history []Message) error {
	if len(history) == 0 || history[len(history)-1].Role != RoleUser {
		return ErrInvalidHistory
	}
	return nil
}

// emit sends c on out unless ctx is cancelled first.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
