// Package ledger keeps an audit trail of conversation turns in SQLite.
//
// Every finished turn (completed, failed or cancelled) becomes one row in the
// turns table with its prompt, reply, fault reason, fragment count and
// timing. Store implements conversation.TurnObserver, so wiring it into the
// engine is enough to start recording.
//
// The ledger is write-mostly and read only for listing and statistics. It is
// not session storage: sessions always start empty after a restart.
package ledger
