// Package metrics exposes Prometheus collectors for the orchestration engine.
//
// A Metrics value is both a conversation.TurnObserver (turn counts, durations
// and fragment counts per model) and an engine.Reporter (active sessions and
// broadcast outcomes). Collectors live in a private registry served by
// Handler, so tests can build as many instances as they like.
package metrics
