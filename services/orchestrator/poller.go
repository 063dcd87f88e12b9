package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/RnD-sandbox/image-sharing/pkg/metrics"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

// PollState is a step of status convergence.
type PollState int

const (
	StateIdle PollState = iota
	StateWaiting
	StatePolling
	StateConverged
	StateTimedOut
)

func (s PollState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateConverged:
		return "converged"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("PollState(%d)", int(s))
	}
}

// PollConfig bounds status convergence.
type PollConfig struct {
	ImportWait  time.Duration
	DeleteWait  time.Duration
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollConfig returns the production timings.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		ImportWait:  30 * time.Minute,
		DeleteWait:  5 * time.Minute,
		Interval:    5 * time.Minute,
		MaxAttempts: 6,
	}
}

// Validate checks the configuration.
func (c PollConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.ImportWait < 0 || c.DeleteWait < 0 {
		return errors.New("first wait must not be negative")
	}
	return nil
}

// Dispatch runs one dispatch.
type Dispatch interface {
	Dispatch(ctx context.Context, req Request) (report.RunReport, error)
}

// PollResult is the terminal state of convergence.
type PollResult struct {
	State    PollState
	Attempts int
	// Report is the last status report; empty when the poller stayed idle.
	Report report.RunReport
}

// Poller repeats status dispatches until the workspaces that accepted an
// asynchronous action report completion, or attempts run out.
type Poller struct {
	dispatch Dispatch
	cfg      PollConfig
	sleep    func(context.Context, time.Duration) error
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	onState  func(PollState)
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollLogger sets the logger.
func WithPollLogger(l zerolog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollMetrics records poll attempts.
func WithPollMetrics(m *metrics.Recorder) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithStateHook observes state transitions.
func WithStateHook(fn func(PollState)) PollerOption {
	return func(p *Poller) { p.onState = fn }
}

// NewPoller constructs a Poller.
func NewPoller(dispatch Dispatch, cfg PollConfig, opts ...PollerOption) (*Poller, error) {
	if dispatch == nil {
		return nil, errors.New("dispatcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Poller{
		dispatch: dispatch,
		cfg:      cfg,
		sleep:    sleepContext,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Converge waits for the asynchronous action of req to finish on every workspace
// in prior's success bucket. It returns a *ConvergenceTimeout with the final state
// when attempts are exhausted.
func (p *Poller) Converge(ctx context.Context, req Request, prior report.RunReport) (PollResult, error) {
	p.enter(StateIdle)
	if !req.Action.Async() || len(prior.Success) == 0 {
		return PollResult{State: StateIdle}, nil
	}

	logger := p.logger.With().Str("action", req.Action.String()).Logger()

	p.enter(StateWaiting)
	wait := req.Action.FirstWait(p.cfg)
	logger.Info().Dur("wait", wait).Msg("waiting before first status check")
	if err := p.sleep(ctx, wait); err != nil {
		return PollResult{State: StateWaiting}, err
	}

	statusReq := Request{
		Action:      ActionStatus,
		Pending:     req.Action,
		Accounts:    req.Accounts,
		ParentToken: req.ParentToken,
		TokenSource: req.TokenSource,
		Concurrency: req.Concurrency,
		Targets:     prior.Targets(),
	}

	var (
		result      = PollResult{State: StatePolling}
		notComplete = errors.New("status not converged")
	)
	p.enter(StatePolling)
	backoff := retry.WithMaxRetries(uint64(p.cfg.MaxAttempts-1), retry.NewConstant(p.cfg.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result.Attempts++
		p.metrics.SetPollAttempts(req.Action.String(), result.Attempts)

		if statusReq.TokenSource != nil {
			tok, err := statusReq.TokenSource(ctx)
			if err != nil {
				logger.Warn().Err(err).Int("attempt", result.Attempts).Msg("refresh parent token")
				return retry.RetryableError(notComplete)
			}
			statusReq.ParentToken = tok
		}

		rep, err := p.dispatch.Dispatch(ctx, statusReq)
		if err != nil {
			return err
		}
		result.Report = rep
		// Accounts in other were never checked, so they cannot count as converged.
		failed, unreachable := rep.FailedCount(), len(rep.Other)
		if failed > 0 || unreachable > 0 {
			logger.Info().Int("attempt", result.Attempts).Int("failed", failed).Int("unreachable", unreachable).Msg("status not converged")
			return retry.RetryableError(notComplete)
		}
		return nil
	})

	switch {
	case err == nil:
		result.State = StateConverged
		p.enter(StateConverged)
		logger.Info().Int("attempts", result.Attempts).Msg("status converged")
		return result, nil
	case errors.Is(err, notComplete):
		result.State = StateTimedOut
		p.enter(StateTimedOut)
		timeout := &ConvergenceTimeout{
			Action:      req.Action,
			Attempts:    result.Attempts,
			Failed:      result.Report.FailedCount(),
			Unreachable: len(result.Report.Other),
		}
		logger.Warn().Err(timeout).Msg("status did not converge")
		return result, timeout
	default:
		return result, err
	}
}

func (p *Poller) enter(s PollState) {
	if p.onState != nil {
		p.onState(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
