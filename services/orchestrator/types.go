package orchestrator

import (
	"time"

	"github.com/RnD-sandbox/image-sharing/services/report"
)

// dispatchedEvent is published after every dispatch.
type dispatchedEvent struct {
	RunID      string        `json:"run_id"`
	Action     string        `json:"action"`
	Pending    string        `json:"pending,omitempty"`
	Accounts   int           `json:"accounts"`
	Counts     report.Counts `json:"counts"`
	FinishedAt time.Time     `json:"finished_at"`
}
