// ABOUTME: Turns a provider fragment sequence into one growing assistant message
// ABOUTME: Emits Progress events, then exactly one Done or Fault, uniform across providers

package assembler

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/parley/internal/provider"
)

// Kind identifies an assembler event.
type Kind int

const (
	// KindProgress carries the accumulated reply so far.
	KindProgress Kind = iota
	// KindDone carries the complete reply. Terminal.
	KindDone
	// KindFault carries a human-readable failure reason. Terminal.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindDone:
		return "done"
	case KindFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Event is one step of an assembled reply.
type Event struct {
	Kind Kind
	// Text is the accumulator for Progress and Done.
	Text string
	// Reason is set for Fault.
	Reason string
	// Err is the underlying fault, kept for errors.Is checks by observers.
	Err error
	// Fragments counts the non-empty fragments consumed so far.
	Fragments int
}

// Terminal reports whether e ends the run.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindFault
}

// Run consumes fragments and returns the event sequence. The returned channel
// is closed after the terminal event, or without one if ctx is cancelled.
func Run(ctx context.Context, fragments <-chan provider.Chunk) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		var acc strings.Builder
		var n int
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-fragments:
				if !ok {
					send(ctx, out, Event{Kind: KindDone, Text: acc.String(), Fragments: n})
					return
				}
				if c.Err != nil {
					send(ctx, out, faultEvent(c.Err, n))
					return
				}
				if c.Text == "" {
					continue
				}
				acc.WriteString(c.Text)
				n++
				if !send(ctx, out, Event{Kind: KindProgress, Text: acc.String(), Fragments: n}) {
					return
				}
			}
		}
	}()
	return out
}

// Start invokes capability and assembles its reply. An invocation error is
// delivered as the single Fault event of the run rather than returned.
func Start(ctx context.Context, capability provider.Capability, history []provider.Message) <-chan Event {
	fragments, err := capability.Stream(ctx, history)
	if err != nil {
		out := make(chan Event, 1)
		if ctx.Err() == nil {
			out <- faultEvent(err, 0)
		}
		close(out)
		return out
	}
	return Run(ctx, fragments)
}

// Reason reduces err to the message shown to the user.
func Reason(err error) string {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func faultEvent(err error, n int) Event {
	return Event{Kind: KindFault, Reason: Reason(err), Err: err, Fragments: n}
}

// send delivers e unless ctx is cancelled first. Once cancelled, nothing more
// is observed by the consumer.
func send(ctx context.Context, out chan<- Event, e Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
