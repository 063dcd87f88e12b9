package orchestrator

import (
	"errors"
	"fmt"
)

// Reasons recorded on skipped or pending workspaces.
const (
	ReasonImagePresent     = "image already present"
	ReasonImportInProgress = "import already in progress"
	ReasonImageMissing     = "image does not exist"
	ReasonImageNotActive   = "image is not active"
)

// ErrOperationNotComplete marks a workspace whose asynchronous job has not finished.
var ErrOperationNotComplete = errors.New("operation not complete")

// AuthError is a failed child account token exchange.
type AuthError struct {
	AccountID string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DiscoveryError is a failed workspace enumeration.
type DiscoveryError struct {
	AccountID string
	Err       error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("workspace discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ActionError is a failed remote call against one workspace.
type ActionError struct {
	Action      Action
	WorkspaceID string
	Err         error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// ConvergenceTimeout is returned when status polling runs out of attempts with
// workspaces still failing or target accounts unreachable.
type ConvergenceTimeout struct {
	Action      Action
	Attempts    int
	Failed      int
	Unreachable int
}

func (e *ConvergenceTimeout) Error() string {
	msg := fmt.Sprintf("%s did not converge after %d status poll(s): %d workspace(s) still failing", e.Action, e.Attempts, e.Failed)
	if e.Unreachable > 0 {
		msg += fmt.Sprintf(", %d account(s) unreachable", e.Unreachable)
	}
	return msg
}
