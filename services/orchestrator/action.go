package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// Action is an image lifecycle operation.
type Action int

const (
	ActionNone Action = iota
	ActionImport
	ActionDelete
	ActionStatus
)

// ParseAction maps an operation name such as "IMPORT" onto an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "import":
		return ActionImport, nil
	case "delete":
		return ActionDelete, nil
	case "status":
		return ActionStatus, nil
	default:
		return ActionNone, fmt.Errorf("unknown image operation %q", s)
	}
}

func (a Action) String() string {
	switch a {
	case ActionImport:
		return "import"
	case ActionDelete:
		return "delete"
	case ActionStatus:
		return "status"
	default:
		return "none"
	}
}

// Async reports whether the remote side completes the action in the background.
func (a Action) Async() bool {
	return a == ActionImport || a == ActionDelete
}

// FirstWait is how long to wait before the first status poll after a.
func (a Action) FirstWait(cfg PollConfig) time.Duration {
	switch a {
	case ActionImport:
		return cfg.ImportWait
	case ActionDelete:
		return cfg.DeleteWait
	default:
		return 0
	}
}
