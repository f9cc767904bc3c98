// ABOUTME: Sync broadcast controller: shared input text plus the set of synced session ids
// ABOUTME: Fans one input out to every idle member, skipping busy ones, then clears the input

package broadcast

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/2389/parley/internal/conversation"
)

var (
	// ErrEmptyInput is returned when broadcasting blank shared input.
	ErrEmptyInput = errors.New("shared input is empty")

	// ErrSyncDisabled is returned when broadcasting with no synced sessions.
	ErrSyncDisabled = errors.New("no sessions are synced")
)

// Target is the send path of one session.
type Target interface {
	Send(text string) (conversation.Snapshot, error)
}

// Directory resolves session ids. The controller never owns sessions.
type Directory interface {
	Lookup(id string) (Target, bool)
}

// State is the observable sync state.
type State struct {
	SharedInput      string   `json:"shared_input"`
	SyncedSessionIDs []string `json:"synced_session_ids"`
	Enabled          bool     `json:"enabled"`
}

// Result reports the outcome of one broadcast per session id.
type Result struct {
	Sent    []string `json:"sent"`
	Skipped []string `json:"skipped"`
	// Dropped lists members that no longer resolved to a live session.
	Dropped []string `json:"dropped,omitempty"`
}

// Controller holds the shared input and sync membership.
type Controller struct {
	mu          sync.Mutex
	sharedInput string
	members     []string
	logger      *slog.Logger
}

// NewController creates a controller with no members. Pass nil logger for default.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger.With("component", "sync")}
}

// SetMember adds or removes id from the synced set.
func (c *Controller) SetMember(id string, enabled bool) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	has := slices.Contains(c.members, id)
	switch {
	case enabled && !has:
		c.members = append(c.members, id)
	case !enabled && has:
		c.removeLocked(id)
	}
	return c.stateLocked()
}

// Forget drops id from the synced set. It reports whether id was a member.
func (c *Controller) Forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.members, id) {
		return false
	}
	c.removeLocked(id)
	return true
}

// SetSharedInput replaces the shared composer text.
func (c *Controller) SetSharedInput(text string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sharedInput = text
	return c.stateLocked()
}

// State returns the current sync state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// IsMember reports whether id is synced.
func (c *Controller) IsMember(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.members, id)
}

// Broadcast sends the shared input to every member. Busy sessions are skipped,
// not queued. Ids the directory no longer knows are dropped from membership.
// The shared input is cleared once every send has been issued.
func (c *Controller) Broadcast(dir Directory) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.members) == 0 {
		return Result{}, ErrSyncDisabled
	}
	if strings.TrimSpace(c.sharedInput) == "" {
		return Result{}, ErrEmptyInput
	}

	text := c.sharedInput
	res := Result{Sent: []string{}, Skipped: []string{}}
	for _, id := range slices.Clone(c.members) {
		target, ok := dir.Lookup(id)
		if !ok {
			c.removeLocked(id)
			res.Dropped = append(res.Dropped, id)
			continue
		}
		_, err := target.Send(text)
		switch {
		case err == nil:
			res.Sent = append(res.Sent, id)
		case errors.Is(err, conversation.ErrBusy):
			res.Skipped = append(res.Skipped, id)
		case errors.Is(err, conversation.ErrSessionClosed):
			c.removeLocked(id)
			res.Dropped = append(res.Dropped, id)
		default:
			// configuration faults stay with the member session
			c.logger.Warn("broadcast send failed",
				"session_id", id,
				"error", err)
			res.Skipped = append(res.Skipped, id)
		}
	}
	c.sharedInput = ""

	c.logger.Info("broadcast dispatched",
		"sent", len(res.Sent),
		"skipped", len(res.Skipped),
		"dropped", len(res.Dropped))
	return res, nil
}

func (c *Controller) removeLocked(id string) {
	c.members = slices.DeleteFunc(c.members, func(v string) bool { return v == id })
}

func (c *Controller) stateLocked() State {
	ids := make([]string, len(c.members))
	copy(ids, c.members)
	return State{
		SharedInput:      c.sharedInput,
		SyncedSessionIDs: ids,
		Enabled:          len(ids) > 0,
	}
}
