// ABOUTME: Static model catalog mapping model ids to display metadata and adapters
// ABOUTME: Unknown ids are configuration faults; there is no fallback model

package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/2389/parley/internal/provider"
)

// ErrUnknownModel is returned when a model id is not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Model identifiers. The set is closed.
const (
	ChatGPT = "chatgpt"
	Claude  = "claude"
	Gemini  = "gemini"
	Echo    = "echo"
)

// DefaultModel is assigned to new sessions unless configuration overrides it.
const DefaultModel = ChatGPT

// Entry describes one selectable model.
type Entry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
}

// Providers carries adapter settings for each backend.
type Providers struct {
	OpenAI    provider.Config
	Anthropic provider.Config
	Gemini    provider.Config
	EchoDelay time.Duration

	// TurnTimeout, when positive, bounds every turn of every model.
	TurnTimeout time.Duration
}

var entries = []Entry{
	{
		ID:          ChatGPT,
		Title:       "ChatGPT Turbo",
		Description: "GPT-3.5 Turbo is a fast and efficient language model suitable for a wide range of tasks.",
		Provider:    "openai",
	},
	{
		ID:          Claude,
		Title:       "Claude",
		Description: "Claude is an AI assistant created by Anthropic to be helpful, harmless, and honest.",
		Provider:    "anthropic",
	},
	{
		ID:          Gemini,
		Title:       "Gemini",
		Description: "Gemini is Google's largest and most capable AI model, with strong performance across a wide range of tasks.",
		Provider:    "gemini",
	},
	{
		ID:          Echo,
		Title:       "Echo",
		Description: "A local loopback model that repeats your message back. Needs no network or credentials.",
		Provider:    "echo",
	},
}

// Catalog resolves model ids to ready-to-use capabilities.
type Catalog struct {
	entries      []Entry
	capabilities map[string]provider.Capability
}

// New builds the catalog, constructing one adapter per entry.
func New(p Providers) *Catalog {
	caps := map[string]provider.Capability{
		ChatGPT: provider.NewOpenAI(p.OpenAI),
		Claude:  provider.NewAnthropic(p.Anthropic),
		Gemini:  provider.NewGemini(p.Gemini),
		Echo:    provider.NewEcho(p.EchoDelay),
	}
	for id, c := range caps {
		caps[id] = provider.WithTimeout(c, p.TurnTimeout)
	}
	return NewWithCapabilities(caps)
}

// NewWithCapabilities builds a catalog over caller-supplied adapters. Only ids
// from the fixed entry list are accepted; anything else is ignored.
func NewWithCapabilities(caps map[string]provider.Capability) *Catalog {
	c := &Catalog{capabilities: make(map[string]provider.Capability, len(caps))}
	for _, e := range entries {
		if capability, ok := caps[e.ID]; ok && capability != nil {
			c.entries = append(c.entries, e)
			c.capabilities[e.ID] = capability
		}
	}
	return c
}

// Entries returns the selectable models in display order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the metadata for id.
func (c *Catalog) Lookup(id string) (Entry, error) {
	for _, e := range c.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
}

// Contains reports whether id names a model in the catalog.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.capabilities[id]
	return ok
}

// Resolve returns the capability for id.
func (c *Catalog) Resolve(id string) (provider.Capability, error) {
	capability, ok := c.capabilities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return capability, nil
}

// KnownModels lists every id the catalog can contain, regardless of construction.
func KnownModels() []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
