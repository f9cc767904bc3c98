// ABOUTME: Local loopback adapter that needs no network or credentials
// ABOUTME: Streams a deterministic reply word by word, used offline and in demos

package provider

import (
	"context"
	"strings"
	"time"
)

// Echo replies with the last user message, split into word fragments.
type Echo struct {
	Prefix string
	Delay  time.Duration
}

// NewEcho creates an Echo adapter that waits delay between fragments.
func NewEcho(delay time.Duration) *Echo {
	return &Echo{Prefix: "You said: ", Delay: delay}
}

// Stream implements Capability.
func (e *Echo) Stream(ctx context.Context, history []Message) (<-chan Chunk, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}

	reply := e.Prefix + history[len(history)-1].Content
	fragments := strings.SplitAfter(reply, " ")

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for _, frag := range fragments {
			if e.Delay > 0 {
				timer := time.NewTimer(e.Delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
			if !emit(ctx, out, Chunk{Text: frag}) {
				return
			}
		}
	}()
	return out, nil
}
