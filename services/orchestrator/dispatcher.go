package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/RnD-sandbox/image-sharing/pkg/bus"
	"github.com/RnD-sandbox/image-sharing/pkg/metrics"
	"github.com/RnD-sandbox/image-sharing/pkg/telemetry"
	"github.com/RnD-sandbox/image-sharing/services/iam"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

// DefaultConcurrency bounds the number of accounts processed at once.
const DefaultConcurrency = 5

// Store persists the merged report of a dispatch.
type Store interface {
	Save(ctx context.Context, action string, r report.RunReport) error
}

// Publisher emits run events.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Request describes one dispatch.
type Request struct {
	Action      Action
	Pending     Action
	Accounts    []iam.Account
	ParentToken string
	// TokenSource, when set, mints a fresh parent token before each status poll.
	TokenSource func(ctx context.Context) (string, error)
	Concurrency int
	// Targets restricts the dispatch to these accounts and, per account, workspace
	// ids. Nil means every account and workspace.
	Targets map[string][]string
}

// Dispatcher fans a request out across accounts with a bounded worker pool.
type Dispatcher struct {
	runner    *Runner
	store     Store
	publisher Publisher
	metrics   *metrics.Recorder
	logger    zerolog.Logger
	runID     string
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher publishes a dispatched event after every dispatch.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithMetrics records outcomes and account latency.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRunID tags logs and events with the run identifier.
func WithRunID(id string) Option {
	return func(d *Dispatcher) { d.runID = id }
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(runner *Runner, store Store, opts ...Option) (*Dispatcher, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	d := &Dispatcher{
		runner: runner,
		store:  store,
		logger: zerolog.Nop(),
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch runs req against every target account, waits for all of them, merges
// the outcomes and persists the merged report once. The returned error is only
// ever a persistence failure; account and workspace failures live in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (report.RunReport, error) {
	limit := req.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	jobs := d.jobs(req)

	ctx, span := d.tracer.Start(ctx, "dispatch."+req.Action.String(), trace.WithAttributes(
		attribute.String("run.id", d.runID),
		attribute.Int("accounts", len(jobs)),
		attribute.Int("concurrency", limit),
	))
	defer span.End()

	logger := d.logger.With().Str("run_id", d.runID).Str("action", req.Action.String()).Logger()
	logger.Info().Int("accounts", len(jobs)).Int("concurrency", limit).Msg("dispatch started")

	results := make([]report.AccountReport, len(jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			start := d.now()
			acctLogger := logger.With().Str("account_id", job.Account.AccountID).Str("account", job.Account.Name).Logger()
			results[i] = d.runner.Run(ctx, job, acctLogger)
			d.metrics.ObserveAccount(req.Action.String(), d.now().Sub(start))
			return nil
		})
	}
	_ = g.Wait()

	merged := report.Merge(results)
	counts := merged.Counts()
	d.observe(req.Action, counts)
	logger.Info().
		Int("success", counts.Success).
		Int("skipped", counts.Skipped).
		Int("failed", counts.Failed).
		Int("other", counts.Other).
		Msg("dispatch finished")

	if err := d.store.Save(ctx, req.Action.String(), merged); err != nil {
		return merged, fmt.Errorf("persist %s report: %w", req.Action, err)
	}
	d.publish(ctx, logger, req, len(jobs), counts)
	return merged, nil
}

func (d *Dispatcher) jobs(req Request) []Job {
	jobs := make([]Job, 0, len(req.Accounts))
	for _, acct := range req.Accounts {
		job := Job{
			Action:      req.Action,
			Pending:     req.Pending,
			Account:     acct,
			ParentToken: req.ParentToken,
		}
		if req.Targets != nil {
			ids, ok := req.Targets[acct.AccountID]
			if !ok {
				continue
			}
			job.Workspaces = make(map[string]struct{}, len(ids))
			for _, id := range ids {
				job.Workspaces[id] = struct{}{}
			}
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (d *Dispatcher) observe(action Action, c report.Counts) {
	name := action.String()
	d.metrics.ObserveOutcomes(name, string(report.BucketSuccess), c.Success)
	d.metrics.ObserveOutcomes(name, string(report.BucketSkipped), c.Skipped)
	d.metrics.ObserveOutcomes(name, string(report.BucketFailed), c.Failed)
	d.metrics.ObserveOutcomes(name, string(report.BucketOther), c.Other)
}

func (d *Dispatcher) publish(ctx context.Context, logger zerolog.Logger, req Request, accounts int, c report.Counts) {
	if d.publisher == nil {
		return
	}
	evt := dispatchedEvent{
		RunID:      d.runID,
		Action:     req.Action.String(),
		Accounts:   accounts,
		Counts:     c,
		FinishedAt: d.now().UTC(),
	}
	if req.Pending != ActionNone {
		evt.Pending = req.Pending.String()
	}
	if err := d.publisher.Publish(ctx, bus.SubjectRunDispatched, evt); err != nil {
		logger.Warn().Err(err).Msg("publish dispatched event")
	}
}
