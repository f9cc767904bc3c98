// Package conversation owns sessions and their request/response lifecycle.
//
// # Overview
//
// A Session is one independent conversation: a selected model, an ordered
// message history, a transient draft reply and a lifecycle state. The
// Registry creates, looks up, lists and removes sessions. Neither knows about
// sync mode or any presentation surface.
//
// # State Machine
//
//	Idle --Send--> Awaiting --Progress--> Streaming --Progress--> Streaming
//	Awaiting|Streaming --Done--> Completed --> Idle
//	Awaiting|Streaming --Fault--> Failed --> Idle
//
// Send appends the user message, moves to Awaiting and runs the turn on its own
// goroutine through the assembler. Done commits the reply as an assistant
// message. Fault keeps the user message, commits nothing and records a
// human-readable reason so the user can retry without retyping.
//
// Send while Awaiting or Streaming fails with ErrBusy and changes nothing.
// Turns are never queued.
//
// SetModel is destructive: it cancels any in-flight turn, clears history and
// returns to Idle. Confirmation is the caller's job.
//
// # Observation
//
// Every transition publishes a Snapshot through the Notify callback while the
// session lock is held, so per-session order is the order of transitions.
// EventBroadcaster fans snapshots out to subscribers by key.
//
// TurnObserver receives one TurnRecord per finished turn, including turns
// cancelled by removal or model change. The ledger and metrics packages
// implement it.
//
// # Cancellation
//
// Removing a session from the Registry cancels its in-flight turn. Events from
// an abandoned turn are discarded by generation, so nothing is observed after
// removal or a model reset.
package conversation
