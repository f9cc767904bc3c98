// Package assembler materializes a streaming reply into a single message.
//
// Run reads a provider fragment sequence and keeps an accumulator. Every
// non-empty fragment extends it and yields a Progress event carrying the whole
// text so far. The run ends with exactly one terminal event: Done with the
// final text when the sequence closes, or Fault with a human-readable reason
// when the sequence reports an error. Cancelling the context stops
// consumption and closes the event channel with no further events.
//
// The assembler knows nothing about which provider produced the fragments.
package assembler
