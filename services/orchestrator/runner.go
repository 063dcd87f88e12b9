package orchestrator

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RnD-sandbox/image-sharing/pkg/telemetry"
	"github.com/RnD-sandbox/image-sharing/services/iam"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

// TokenExchanger turns the enterprise token into a child account token.
type TokenExchanger interface {
	Exchange(ctx context.Context, profileID, accountID, parentToken string) (iam.Token, error)
}

// Job is one account's share of a dispatch.
type Job struct {
	Action      Action
	Pending     Action
	Account     iam.Account
	ParentToken string
	// Workspaces restricts the run to these workspace ids. Nil means every workspace.
	Workspaces map[string]struct{}
}

// Runner processes the workspaces of one account sequentially.
type Runner struct {
	tokens   TokenExchanger
	api      WorkspaceAPI
	executor *Executor
	tracer   trace.Tracer
}

// NewRunner wires a Runner.
func NewRunner(tokens TokenExchanger, api WorkspaceAPI, executor *Executor) *Runner {
	return &Runner{tokens: tokens, api: api, executor: executor, tracer: telemetry.Tracer()}
}

// Run exchanges the account token, enumerates workspaces and executes the action
// on each. Account-level failures become a single Other entry.
func (r *Runner) Run(ctx context.Context, job Job, logger zerolog.Logger) report.AccountReport {
	acct := job.Account
	out := report.AccountReport{AccountID: acct.AccountID, Name: acct.Name}

	ctx, span := r.tracer.Start(ctx, "account."+job.Action.String(), trace.WithAttributes(
		attribute.String("account.id", acct.AccountID),
		attribute.String("action", job.Action.String()),
	))
	defer span.End()

	tok, err := r.tokens.Exchange(ctx, acct.ProfileID, acct.AccountID, job.ParentToken)
	if err != nil {
		authErr := &AuthError{AccountID: acct.AccountID, Err: err}
		logger.Warn().Err(err).Msg("token exchange failed")
		span.SetStatus(codes.Error, authErr.Error())
		out.Add(report.BucketOther, report.WorkspaceEntry{Error: authErr.Error()})
		return out
	}

	workspaces, err := r.api.ListWorkspaces(ctx, tok.AccessToken)
	if err != nil {
		discErr := &DiscoveryError{AccountID: acct.AccountID, Err: err}
		logger.Warn().Err(err).Msg("workspace discovery failed")
		span.SetStatus(codes.Error, discErr.Error())
		out.Add(report.BucketOther, report.WorkspaceEntry{Error: discErr.Error()})
		return out
	}
	span.SetAttributes(attribute.Int("workspaces", len(workspaces)))

	for _, ws := range workspaces {
		if job.Workspaces != nil {
			if _, ok := job.Workspaces[ws.ID]; !ok {
				continue
			}
		}
		wsCtx, wsSpan := r.tracer.Start(ctx, "workspace."+job.Action.String(), trace.WithAttributes(
			attribute.String("workspace.id", ws.ID),
		))
		outcome := r.executor.Execute(wsCtx, job.Action, job.Pending, ws, tok.AccessToken)
		if outcome.Err != nil {
			wsSpan.SetStatus(codes.Error, outcome.Err.Error())
		}
		wsSpan.End()

		ev := logger.Info()
		if outcome.Bucket() == report.BucketFailed {
			ev = logger.Warn().Err(outcome.Err)
		}
		ev.Str("workspace_id", ws.ID).
			Str("workspace", ws.Name).
			Str("outcome", string(outcome.Bucket())).
			Str("reason", outcome.Reason).
			Msg("workspace processed")

		out.Add(outcome.Bucket(), outcome.Entry(ws))
	}
	return out
}
