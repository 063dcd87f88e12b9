package orchestrator

import (
	"github.com/RnD-sandbox/image-sharing/services/powervs"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

// Outcome is the result of one action on one workspace: success, skipped with a
// reason, or failed with an error.
type Outcome struct {
	bucket report.Bucket
	Reason string
	Err    error
}

// Success is a completed action.
func Success() Outcome {
	return Outcome{bucket: report.BucketSuccess}
}

// Skipped is an action that was not needed.
func Skipped(reason string) Outcome {
	return Outcome{bucket: report.BucketSkipped, Reason: reason}
}

// Failed is an action that could not be carried out.
func Failed(err error) Outcome {
	return Outcome{bucket: report.BucketFailed, Err: err}
}

// Bucket names the report bucket the outcome belongs to.
func (o Outcome) Bucket() report.Bucket {
	return o.bucket
}

// Entry renders the outcome for ws.
func (o Outcome) Entry(ws powervs.Workspace) report.WorkspaceEntry {
	entry := report.WorkspaceEntry{ID: ws.ID, Name: ws.Name, Reason: o.Reason}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}
	return entry
}
