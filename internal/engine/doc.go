// Package engine is the composition root that presentation layers talk to.
//
// # Operations
//
//   - CreateSession(model), RemoveSession(id)
//   - SetModel(id, model): destructive reset, callers confirm first
//   - SetSyncMember(id, enabled), SetSharedInput(text), Broadcast()
//   - Send(id, text)
//   - Session(id), Sessions(), SyncState(), Models()
//   - Subscribe(ctx, key) for session, sync and removal updates
//
// Session membership, sync membership and broadcasts are serialized by one
// mutex. Removing a session therefore always leaves the synced set before the
// next broadcast can run. Turns themselves run concurrently, one goroutine per
// in-flight turn, and never hold the engine lock.
//
// # Updates
//
// Subscribe keys are a session id, SyncTopic, or "" for everything. Session
// updates for one id arrive in transition order. Nothing is ordered across
// sessions.
package engine
