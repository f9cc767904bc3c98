// ABOUTME: Turn observation hooks for audit and metrics collaborators
// ABOUTME: Observers see turn start and one record per finished, failed or cancelled turn

package conversation

import "time"

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// TurnRecord summarizes one request/response exchange.
type TurnRecord struct {
	ID          string    `json:"turn_id"`
	SessionID   string    `json:"session_id"`
	Model       string    `json:"model"`
	Prompt      string    `json:"prompt"`
	Reply       string    `json:"reply,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	FaultReason string    `json:"fault_reason,omitempty"`
	Fragments   int       `json:"fragments"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration is the wall time of the turn.
func (r TurnRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TurnObserver is notified outside any session lock. Implementations must not
// block for long; they run on the turn's goroutine.
type TurnObserver interface {
	TurnStarted(sessionID, model string)
	TurnFinished(rec TurnRecord)
}

// Observers fans notifications out to several observers in order.
type Observers []TurnObserver

func (o Observers) TurnStarted(sessionID, model string) {
	for _, obs := range o {
		obs.TurnStarted(sessionID, model)
	}
}

func (o Observers) TurnFinished(rec TurnRecord) {
	for _, obs := range o {
		obs.TurnFinished(rec)
	}
}
