package orchestrator

import (
	"context"
	"fmt"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
	"github.com/RnD-sandbox/image-sharing/services/powervs"
)

// WorkspaceAPI is the workspace control plane used by the engine.
type WorkspaceAPI interface {
	ListWorkspaces(ctx context.Context, token string) ([]powervs.Workspace, error)
	ListImages(ctx context.Context, token string, ws powervs.Workspace) ([]powervs.Image, error)
	ImportImage(ctx context.Context, token string, ws powervs.Workspace, req powervs.ImportRequest) (powervs.ImportJob, error)
	DeleteImage(ctx context.Context, token string, ws powervs.Workspace, imageID string) error
	LastImportJob(ctx context.Context, token string, ws powervs.Workspace) (powervs.ImportJob, error)
}

// Executor applies one action to one workspace and reports a single Outcome.
// Any failed lookup ends the action before a mutating call is made.
type Executor struct {
	api    WorkspaceAPI
	image  string
	source powervs.ImportRequest
}

// NewExecutor builds an Executor for the image described by source.
func NewExecutor(api WorkspaceAPI, source powervs.ImportRequest) *Executor {
	return &Executor{api: api, image: source.ImageName, source: source}
}

// Execute runs action on ws. pending is the asynchronous action a status check
// verifies and is ignored for other actions.
func (e *Executor) Execute(ctx context.Context, action, pending Action, ws powervs.Workspace, token string) Outcome {
	switch action {
	case ActionImport:
		return e.Import(ctx, ws, token)
	case ActionDelete:
		return e.Delete(ctx, ws, token)
	case ActionStatus:
		return e.Status(ctx, ws, token, pending)
	default:
		return Failed(fmt.Errorf("unsupported action %q", action))
	}
}

// Import submits a cos-image import unless the image is already active or an
// import job is still running.
func (e *Executor) Import(ctx context.Context, ws powervs.Workspace, token string) Outcome {
	images, err := e.api.ListImages(ctx, token, ws)
	if err != nil {
		return e.failed(ActionImport, ws, err)
	}
	if img, ok := powervs.FindImage(images, e.image); ok && img.Active() {
		return Skipped(ReasonImagePresent)
	}

	job, err := e.api.LastImportJob(ctx, token, ws)
	switch {
	case cloudapi.IsNotFound(err):
		// No import was ever submitted to this workspace.
	case err != nil:
		return e.failed(ActionImport, ws, err)
	case job.InFlight():
		return Skipped(ReasonImportInProgress)
	}

	if _, err := e.api.ImportImage(ctx, token, ws, e.source); err != nil {
		return e.failed(ActionImport, ws, err)
	}
	return Success()
}

// Delete removes the image when the workspace has it in the active state.
func (e *Executor) Delete(ctx context.Context, ws powervs.Workspace, token string) Outcome {
	images, err := e.api.ListImages(ctx, token, ws)
	if err != nil {
		return e.failed(ActionDelete, ws, err)
	}
	img, ok := powervs.FindImage(images, e.image)
	if !ok {
		return Skipped(ReasonImageMissing)
	}
	if !img.Active() {
		return Skipped(ReasonImageNotActive)
	}
	if err := e.api.DeleteImage(ctx, token, ws, img.ID); err != nil {
		return e.failed(ActionDelete, ws, err)
	}
	return Success()
}

// Status checks whether the pending asynchronous action has finished on ws.
// A pending delete is finished once the image is gone; anything else is finished
// once the last import job completed.
func (e *Executor) Status(ctx context.Context, ws powervs.Workspace, token string, pending Action) Outcome {
	if pending == ActionDelete {
		images, err := e.api.ListImages(ctx, token, ws)
		if err != nil {
			return e.failed(ActionStatus, ws, err)
		}
		if _, ok := powervs.FindImage(images, e.image); ok {
			return Failed(ErrOperationNotComplete)
		}
		return Success()
	}

	job, err := e.api.LastImportJob(ctx, token, ws)
	switch {
	case cloudapi.IsNotFound(err):
		return Failed(ErrOperationNotComplete)
	case err != nil:
		return e.failed(ActionStatus, ws, err)
	case job.Completed():
		return Success()
	default:
		return Failed(ErrOperationNotComplete)
	}
}

func (e *Executor) failed(action Action, ws powervs.Workspace, err error) Outcome {
	return Failed(&ActionError{Action: action, WorkspaceID: ws.ID, Err: err})
}
