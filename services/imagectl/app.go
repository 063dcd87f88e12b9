package imagectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RnD-sandbox/image-sharing/pkg/bus"
	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
	"github.com/RnD-sandbox/image-sharing/pkg/metrics"
	"github.com/RnD-sandbox/image-sharing/pkg/render"
	"github.com/RnD-sandbox/image-sharing/pkg/s3"
	"github.com/RnD-sandbox/image-sharing/services/iam"
	"github.com/RnD-sandbox/image-sharing/services/imagectl/internal/config"
	"github.com/RnD-sandbox/image-sharing/services/orchestrator"
	"github.com/RnD-sandbox/image-sharing/services/powervs"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

// ServiceName identifies the tool in traces and metrics.
const ServiceName = "imagectl"

// ErrRunFailed is returned when the run finished with failed workspaces.
var ErrRunFailed = errors.New("run finished with failed workspaces")

// ObjectStore is the object storage used for the image pre-check and report upload.
type ObjectStore interface {
	RequireObject(ctx context.Context, bucket, key string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256hex string) error
}

// Options carries the collaborators of an App. Zero values select production defaults.
type Options struct {
	Logger      zerolog.Logger
	Stdout      io.Writer
	HTTPClient  *http.Client
	Metrics     *metrics.Recorder
	Publisher   orchestrator.Publisher
	ObjectStore ObjectStore
	State       *RunState
	RunID       string
}

// App runs one image operation end to end.
type App struct {
	cfg        config.Config
	base       zerolog.Logger
	logger     zerolog.Logger
	stdout     io.Writer
	runID      string
	broker     *iam.Broker
	directory  *iam.Directory
	workspaces *powervs.Client
	metrics    *metrics.Recorder
	publisher  orchestrator.Publisher
	objects    ObjectStore
	httpClient *http.Client
	state      *RunState
	summary    *render.Engine
}

// Result summarises a finished run.
type Result struct {
	RunID     string
	Action    orchestrator.Action
	Operation report.RunReport
	Status    *report.RunReport
	PollState orchestrator.PollState
	Attempts  int
	Files     []string
}

// Failed reports whether the final report has failed workspaces or convergence
// timed out. The final report is the last status poll when one ran and the
// operation report otherwise.
func (r Result) Failed() bool {
	if r.PollState == orchestrator.StateTimedOut {
		return true
	}
	if r.Status != nil {
		return r.Status.FailedCount() > 0
	}
	return r.Operation.FailedCount() > 0
}

// New wires an App from a validated configuration.
func New(cfg config.Config, opts Options) (*App, error) {
	action, err := orchestrator.ParseAction(cfg.ImageOperation)
	if err != nil {
		return nil, err
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.State == nil {
		opts.State = NewRunState(opts.RunID, action.String())
	}

	summary, err := render.Default()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("run_id", opts.RunID).Logger()
	api := cloudapi.New(cloudapi.WithHTTPClient(opts.HTTPClient), cloudapi.WithLogger(logger))

	return &App{
		cfg:        cfg,
		base:       opts.Logger,
		logger:     logger,
		stdout:     opts.Stdout,
		runID:      opts.RunID,
		broker:     iam.NewBroker(api, cfg.Endpoints.IAM),
		directory:  iam.NewDirectory(api, iam.DirectoryOptions{IAMURL: cfg.Endpoints.IAM, EnterpriseURL: cfg.Endpoints.Enterprise, Logger: logger}),
		workspaces: powervs.New(api, cfg.Endpoints.PowerVS),
		metrics:    opts.Metrics,
		publisher:  opts.Publisher,
		objects:    opts.ObjectStore,
		httpClient: opts.HTTPClient,
		state:      opts.State,
		summary:    summary,
	}, nil
}

// RunID identifies this run.
func (a *App) RunID() string { return a.runID }

// State exposes the live run state.
func (a *App) State() *RunState { return a.state }

// ResolveAccounts obtains the enterprise token and resolves the target accounts.
func (a *App) ResolveAccounts(ctx context.Context) ([]iam.Account, iam.Token, error) {
	tok, err := a.broker.EnterpriseToken(ctx, a.cfg.Env.APIKey)
	if err != nil {
		return nil, iam.Token{}, err
	}
	accounts, err := a.directory.ResolveAccounts(ctx, tok, iam.Selector{
		EnterpriseID:     a.cfg.EnterpriseID,
		AccountGroupID:   a.cfg.AccountGroupID,
		AccountGroupName: a.cfg.AccountGroupName,
		AccountList:      a.cfg.AccountList,
	})
	if err != nil {
		return nil, iam.Token{}, fmt.Errorf("resolve accounts: %w", err)
	}
	return accounts, tok, nil
}

// Run executes the configured operation and, for asynchronous operations, waits
// for convergence. The error is non-nil when the run must exit unsuccessfully.
func (a *App) Run(ctx context.Context) (Result, error) {
	action, err := orchestrator.ParseAction(a.cfg.ImageOperation)
	if err != nil {
		return Result{}, err
	}
	logger := a.logger.With().Str("action", action.String()).Logger()
	result := Result{RunID: a.runID, Action: action}

	accounts, tok, err := a.ResolveAccounts(ctx)
	if err != nil {
		return result, err
	}
	a.state.SetAccounts(len(accounts))
	logger.Info().Int("accounts", len(accounts)).Msg("target accounts resolved")

	if action == orchestrator.ActionImport {
		if err := a.precheckImage(ctx); err != nil {
			return result, err
		}
	}

	store, err := a.reportStore(logger)
	if err != nil {
		return result, err
	}

	a.state.SetPhase(PhaseDispatching)
	a.publish(ctx, bus.SubjectRunStarted, runEvent{RunID: a.runID, Action: action.String(), Accounts: len(accounts), At: time.Now().UTC()})

	executor := orchestrator.NewExecutor(a.workspaces, a.importRequest())
	runner := orchestrator.NewRunner(a.broker, a.workspaces, executor)
	dispatchOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.base),
		orchestrator.WithRunID(a.runID),
		orchestrator.WithMetrics(a.metrics),
	}
	if a.publisher != nil {
		dispatchOpts = append(dispatchOpts, orchestrator.WithPublisher(a.publisher))
	}
	dispatcher, err := orchestrator.NewDispatcher(runner, store, dispatchOpts...)
	if err != nil {
		return result, err
	}

	req := orchestrator.Request{
		Action:      action,
		Accounts:    accounts,
		ParentToken: tok.AccessToken,
		TokenSource: a.enterpriseToken,
		Concurrency: a.cfg.Processes,
	}
	op, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		return result, err
	}
	result.Operation = op
	result.Files = append(result.Files, store.PathFor(action.String()))
	a.state.SetReport(op)
	a.printSummary(action, "dispatch", store.PathFor(action.String()), op)

	var runErr error
	if action.Async() && !a.cfg.NoWait {
		runErr = a.converge(ctx, dispatcher, req, &result, store, logger)
	}

	a.state.SetPhase(PhaseFinished)
	if runErr == nil && result.Failed() {
		runErr = ErrRunFailed
	}
	if err := a.finish(ctx, &result, store, logger); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return result, runErr
}

func (a *App) converge(ctx context.Context, dispatcher *orchestrator.Dispatcher, req orchestrator.Request, result *Result, store *report.FileStore, logger zerolog.Logger) error {
	a.state.SetPhase(PhasePolling)
	poller, err := orchestrator.NewPoller(dispatcher, a.pollConfig(),
		orchestrator.WithPollLogger(a.base.With().Str("run_id", a.runID).Logger()),
		orchestrator.WithPollMetrics(a.metrics),
		orchestrator.WithStateHook(func(s orchestrator.PollState) { a.state.SetPollState(s.String()) }),
	)
	if err != nil {
		return err
	}

	res, err := poller.Converge(ctx, req, result.Operation)
	result.PollState = res.State
	result.Attempts = res.Attempts
	if res.Attempts > 0 {
		status := res.Report
		result.Status = &status
		statusPath := store.PathFor(orchestrator.ActionStatus.String())
		result.Files = append(result.Files, statusPath)
		a.state.SetReport(status)
		a.printSummary(req.Action, "status", statusPath, status)
	}

	var timeout *orchestrator.ConvergenceTimeout
	if errors.As(err, &timeout) {
		logger.Error().Err(err).Msg("convergence timed out")
	}
	return err
}

func (a *App) finish(ctx context.Context, result *Result, store *report.FileStore, logger zerolog.Logger) error {
	action := result.Action.String()
	ok := !result.Failed()
	a.metrics.SetRunResult(action, ok)

	if path := a.cfg.Telemetry.MetricsTextfile; path != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(path); err != nil {
			logger.Warn().Err(err).Msg("write metrics textfile")
		}
	}
	if url := a.cfg.Telemetry.PushgatewayURL; url != "" && a.metrics != nil {
		if err := a.metrics.Push(url, ServiceName); err != nil {
			logger.Warn().Err(err).Msg("push metrics")
		}
	}

	var errs []error
	if a.cfg.Report.Archive || a.cfg.Report.UploadBucket != "" {
		for _, path := range result.Files {
			if err := a.archive(ctx, path, store.Signer.CanSign(), logger); err != nil {
				errs = append(errs, err)
			}
		}
	}

	counts := result.Operation.Counts()
	if result.Status != nil {
		counts = result.Status.Counts()
	}
	a.publish(ctx, bus.SubjectRunFinished, runEvent{
		RunID:     a.runID,
		Action:    action,
		Success:   &ok,
		PollState: result.PollState.String(),
		Counts:    &counts,
		At:        time.Now().UTC(),
	})
	return errors.Join(errs...)
}

func (a *App) archive(ctx context.Context, path string, signed bool, logger zerolog.Logger) error {
	archived, err := report.Archive(path)
	if err != nil {
		return err
	}
	logger.Info().Str("archive", archived).Msg("report archived")

	bucket := a.cfg.Report.UploadBucket
	if bucket == "" {
		return nil
	}
	objects, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	uploads := []string{archived}
	if signed {
		uploads = append(uploads, path+report.SignatureSuffix)
	}
	for _, file := range uploads {
		key, err := report.Upload(ctx, objects, bucket, a.cfg.Report.UploadPrefix, a.runID, file)
		if err != nil {
			return err
		}
		logger.Info().Str("bucket", bucket).Str("key", key).Msg("report uploaded")
	}
	return nil
}

func (a *App) enterpriseToken(ctx context.Context) (string, error) {
	tok, err := a.broker.EnterpriseToken(ctx, a.cfg.Env.APIKey)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *App) precheckImage(ctx context.Context) error {
	objects, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	if err := objects.RequireObject(ctx, a.cfg.COS.Bucket, a.cfg.COS.ImageFileName); err != nil {
		return fmt.Errorf("image pre-check: %w", err)
	}
	return nil
}

func (a *App) objectStore(ctx context.Context) (ObjectStore, error) {
	if a.objects != nil {
		return a.objects, nil
	}
	client, err := s3.NewClient(ctx, s3.Options{
		Endpoint:   a.cfg.Endpoints.COS,
		COSRegion:  a.cfg.COS.Region,
		AccessKey:  a.cfg.Env.COSAccessKey,
		SecretKey:  a.cfg.Env.COSSecretKey,
		HTTPClient: a.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	a.objects = client
	return client, nil
}

func (a *App) reportStore(logger zerolog.Logger) (*report.FileStore, error) {
	store := &report.FileStore{
		OperationPath: a.cfg.LogOperationFileName,
		StatusPath:    a.cfg.LogImageStatusFileName,
		Logger:        logger,
	}
	if a.cfg.Report.Sign {
		signer, err := report.NewSigner(a.cfg.Env.AgeSecretKey, a.cfg.Env.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("report signer: %w", err)
		}
		store.Signer = signer
	}
	return store, nil
}

func (a *App) importRequest() powervs.ImportRequest {
	req := powervs.ImportRequest{
		ImageName:     a.cfg.Image.Name,
		Region:        a.cfg.COS.Region,
		ImageFilename: a.cfg.COS.ImageFileName,
		BucketName:    a.cfg.COS.Bucket,
		AccessKey:     a.cfg.Env.COSAccessKey,
		SecretKey:     a.cfg.Env.COSSecretKey,
		StorageType:   a.cfg.COS.StorageType,
	}
	img := a.cfg.Image
	if img.LicenseType != "" || img.Product != "" || img.Vendor != "" {
		req.ImportDetails = &powervs.ImportDetails{LicenseType: img.LicenseType, Product: img.Product, Vendor: img.Vendor}
	}
	return req
}

func (a *App) pollConfig() orchestrator.PollConfig {
	return orchestrator.PollConfig{
		ImportWait:  a.cfg.Retry.ImportWait,
		DeleteWait:  a.cfg.Retry.DeleteWait,
		Interval:    a.cfg.Retry.Interval,
		MaxAttempts: a.cfg.Retry.MaxAttempts,
	}
}

func (a *App) printSummary(action orchestrator.Action, phase, path string, r report.RunReport) {
	if !a.cfg.Report.Summary {
		return
	}
	if err := report.NewSummary(action.String(), a.runID, phase, path, r).Print(a.stdout, a.summary); err != nil {
		a.logger.Warn().Err(err).Msg("render summary")
	}
}

func (a *App) publish(ctx context.Context, subject string, evt runEvent) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, subject, evt); err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Msg("publish run event")
	}
}

type runEvent struct {
	RunID     string         `json:"run_id"`
	Action    string         `json:"action"`
	Accounts  int            `json:"accounts,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	PollState string         `json:"poll_state,omitempty"`
	Counts    *report.Counts `json:"counts,omitempty"`
	At        time.Time      `json:"at"`
}
