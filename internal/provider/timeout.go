// ABOUTME: Per-turn deadline layered around any Capability
// ABOUTME: Injects ErrTurnTimeout into the fragment sequence when the deadline passes

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout wraps c so that each Stream call fails with ErrTurnTimeout once d has
// elapsed. Cancellation of the caller's ctx still closes the sequence silently.
// A non-positive d returns c unchanged.
func WithTimeout(c Capability, d time.Duration) Capability {
	if d <= 0 {
		return c
	}
	timeoutErr := fmt.Errorf("%w after %s", ErrTurnTimeout, d)

	return CapabilityFunc(func(ctx context.Context, history []Message) (<-chan Chunk, error) {
		tctx, cancel := context.WithTimeout(ctx, d)

		in, err := c.Stream(tctx, history)
		if err != nil {
			expired := errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
			cancel()
			if expired {
				return nil, timeoutErr
			}
			return nil, err
		}

		out := make(chan Chunk)
		go func() {
			defer close(out)
			defer cancel()

			for {
				select {
				case chunk, ok := <-in:
					if !ok {
						return
					}
					if chunk.Err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
						chunk.Err = timeoutErr
					}
					if !emit(ctx, out, chunk) || chunk.Err != nil {
						return
					}
				case <-tctx.Done():
					if ctx.Err() == nil {
						emit(ctx, out, Chunk{Err: timeoutErr})
					}
					return
				}
			}
		}()
		return out, nil
	})
}
