package imagectl

import (
	"sync"
	"time"

	"github.com/RnD-sandbox/image-sharing/services/report"
)

// Run phases exposed by the status server.
const (
	PhaseStarting    = "starting"
	PhaseDispatching = "dispatching"
	PhasePolling     = "polling"
	PhaseFinished    = "finished"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID     string            `json:"run_id"`
	Action    string            `json:"action"`
	Phase     string            `json:"phase"`
	PollState string            `json:"poll_state,omitempty"`
	Accounts  int               `json:"accounts"`
	Counts    report.Counts     `json:"counts"`
	Report    *report.RunReport `json:"report,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RunState tracks the progress of the current run.
type RunState struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewRunState creates a state in the starting phase.
func NewRunState(runID, action string) *RunState {
	return &RunState{snap: Snapshot{RunID: runID, Action: action, Phase: PhaseStarting, UpdatedAt: time.Now().UTC()}}
}

// SetPhase records the current phase.
func (s *RunState) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Phase = phase
	s.snap.UpdatedAt = time.Now().UTC()
}

// SetAccounts records the number of target accounts.
func (s *RunState) SetAccounts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Accounts = n
}

// SetPollState records the poller state.
func (s *RunState) SetPollState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.PollState = state
	s.snap.UpdatedAt = time.Now().UTC()
}

// SetReport records the latest report.
func (s *RunState) SetReport(r report.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Report = &r
	s.snap.Counts = r.Counts()
	s.snap.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy of the current state.
func (s *RunState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Ready reports whether account resolution has finished.
func (s *RunState) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Phase != PhaseStarting
}
