package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 3

type accountAuthenticator interface {
	Authenticate(ctx context.Context, cred domain.AccountCredential, logger *zap.Logger) (AuthResult, error)
}

var _ accountAuthenticator = (*Authenticator)(nil)

type OrchestratorOptions struct {
	Platform domain.Platform
	// Concurrency is the configured worker ceiling, capped at
	// domain.MaxConcurrentSessions.
	Concurrency int
	Workloads   map[domain.JobKind]Workload
	Registry    *JobRegistry
	Clock       ports.Clock
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *zap.Logger
	// DetachJobLogs keeps per-job log lines out of Logger. They still reach
	// the registry and its subscribers.
	DetachJobLogs bool
}

// Orchestrator runs batches of accounts through authentication and a workload
// with bounded concurrency and cooperative cancellation.
type Orchestrator struct {
	auth        accountAuthenticator
	credentials ports.CredentialSource
	registry    *JobRegistry
	workloads   map[domain.JobKind]Workload

	platform    domain.Platform
	concurrency int
	clock       ports.Clock
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
	jobLogBase  *zap.Logger

	accountLocks *keyedLocks
	supervisors  sync.WaitGroup
}

func NewOrchestrator(auth accountAuthenticator, credentials ports.CredentialSource, opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		auth:         auth,
		credentials:  credentials,
		registry:     opts.Registry,
		workloads:    opts.Workloads,
		platform:     opts.Platform,
		concurrency:  opts.Concurrency,
		clock:        opts.Clock,
		sleep:        opts.Sleep,
		logger:       opts.Logger,
		accountLocks: newKeyedLocks(),
	}
	if o.concurrency <= 0 {
		o.concurrency = defaultConcurrency
	}
	if o.workloads == nil {
		o.workloads = DefaultWorkloads()
	}
	if o.clock == nil {
		o.clock = ports.SystemClock{}
	}
	if o.registry == nil {
		o.registry = NewJobRegistry(o.clock)
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.jobLogBase = o.logger
	if opts.DetachJobLogs {
		o.jobLogBase = zap.NewNop()
	}

	return o
}

// Submit validates the batch, registers the job and starts its supervisor. It
// returns as soon as the job is running.
func (o *Orchestrator) Submit(ctx context.Context, kind domain.JobKind, accountIDs []domain.AccountID, cfg domain.WorkloadConfig) (domain.JobID, error) {
	workload, ok := o.workloads[kind]
	if !ok {
		return "", fmt.Errorf("%w %q", domain.ErrUnknownJobKind, kind)
	}
	if err := cfg.Validate(kind); err != nil {
		return "", err
	}

	ids := domain.NormalizeAccountIDs(accountIDs)
	if len(ids) == 0 {
		return "", domain.ErrEmptyBatch
	}

	job := domain.Job{
		ID:        domain.JobID(uuid.NewString()),
		Kind:      kind,
		StartedAt: o.clock.Now(),
		Config:    cfg,
		Accounts:  make([]domain.AccountResult, 0, len(ids)),
	}
	for _, id := range ids {
		job.Accounts = append(job.Accounts, domain.AccountResult{AccountID: id, Outcome: domain.OutcomePending})
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.registry.Create(job, cancel)

	logger := o.registry.Logger(o.jobLogBase, job.ID)
	logger.Info("job submitted",
		zap.String("kind", string(kind)),
		zap.Int("accounts", len(ids)),
		zap.Bool("recurring", cfg.Recurring),
	)

	o.supervisors.Add(1)
	go func() {
		defer o.supervisors.Done()
		o.supervise(jobCtx, job.ID, ids, cfg, workload, logger)
	}()

	return job.ID, nil
}

func (o *Orchestrator) Status(id domain.JobID) (domain.Job, error) {
	return o.registry.Get(id)
}

// Stop signals every worker of the job to exit at its next checkpoint.
func (o *Orchestrator) Stop(id domain.JobID, reason string) error {
	if reason == "" {
		reason = "stop requested"
	}
	return o.registry.RequestStop(id, reason)
}

func (o *Orchestrator) Logs(id domain.JobID) ([]string, error) {
	return o.registry.Logs(id)
}

func (o *Orchestrator) Subscribe(id domain.JobID) (<-chan LogEvent, func(), error) {
	return o.registry.Subscribe(id)
}

func (o *Orchestrator) List() []domain.Job {
	return o.registry.List()
}

// Clear forgets a finished job.
func (o *Orchestrator) Clear(id domain.JobID) error {
	return o.registry.Remove(id)
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id domain.JobID) (domain.Job, error) {
	done, err := o.registry.Done(id)
	if err != nil {
		return domain.Job{}, err
	}

	select {
	case <-done:
		return o.registry.Get(id)
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

// Shutdown stops all running jobs and waits for their supervisors.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, job := range o.registry.List() {
		if job.Status.Terminal() {
			continue
		}
		if err := o.registry.RequestStop(job.ID, "shutdown"); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		o.supervisors.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) supervise(ctx context.Context, jobID domain.JobID, ids []domain.AccountID, cfg domain.WorkloadConfig, workload Workload, logger *zap.Logger) {
	limit := domain.EffectiveConcurrency(cfg.Concurrency, o.concurrency)
	sem := semaphore.NewWeighted(int64(limit))

	var workers sync.WaitGroup
	for _, id := range ids {
		workers.Add(1)
		go func(id domain.AccountID) {
			defer workers.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			o.runAccount(ctx, jobID, id, cfg, workload, logger.With(zap.String("account", string(id))))
		}(id)
	}
	workers.Wait()

	status := o.aggregate(jobID)
	o.registry.Finish(jobID, status)

	job, err := o.registry.Get(jobID)
	if err == nil {
		succeeded, failed := job.Counts()
		o.logger.Info("job finished",
			zap.String("job", string(jobID)),
			zap.String("status", string(status)),
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)
	}
}

func (o *Orchestrator) aggregate(jobID domain.JobID) domain.JobStatus {
	if o.registry.StopRequested(jobID) {
		return domain.JobStatusStopped
	}

	job, err := o.registry.Get(jobID)
	if err != nil {
		return domain.JobStatusError
	}
	for _, result := range job.Accounts {
		if result.Succeeded > 0 {
			return domain.JobStatusCompleted
		}
	}
	return domain.JobStatusError
}

// runAccount drives one account for the lifetime of the job, repeating the
// session in recurring mode.
func (o *Orchestrator) runAccount(ctx context.Context, jobID domain.JobID, id domain.AccountID, cfg domain.WorkloadConfig, workload Workload, logger *zap.Logger) {
	result := domain.AccountResult{AccountID: id, Outcome: domain.OutcomeRunning}
	o.registry.UpdateAccount(jobID, result)

	unlock, err := o.accountLocks.Lock(ctx, string(id))
	if err != nil {
		o.markStopped(jobID, result, logger)
		return
	}
	defer unlock()

	for {
		if err := checkpoint(ctx); err != nil {
			o.markStopped(jobID, result, logger)
			return
		}

		result.Runs++
		method, err := o.runSession(ctx, id, cfg, workload, logger)
		result.AuthMethod = method

		if err != nil && stoppedBy(ctx, err) {
			o.markStopped(jobID, result, logger)
			return
		}

		if err != nil {
			o.recordFailure(&result, err, logger)
		} else {
			result.Succeeded++
			result.Outcome = domain.OutcomeSucceeded
			result.ErrorKind, result.Reason, result.Remediation = "", "", ""
			logger.Info("account succeeded", zap.Int("run", result.Runs), zap.String("method", string(method)))
		}
		o.registry.UpdateAccount(jobID, result)

		if !cfg.Recurring || (cfg.MaxRuns > 0 && result.Runs >= cfg.MaxRuns) {
			return
		}
		if err != nil && !retryable(domain.KindOf(err)) {
			logger.Info("recurring runs abandoned", zap.String("kind", string(domain.KindOf(err))))
			return
		}

		logger.Info("waiting for next run", zap.Duration("interval", cfg.Interval))
		if err := o.waitInterval(ctx, jobID, cfg); err != nil {
			logger.Info("stopped while waiting", zap.Int("runs", result.Runs))
			return
		}
	}
}

// runSession authenticates, runs the workload and closes the browser session.
func (o *Orchestrator) runSession(ctx context.Context, id domain.AccountID, cfg domain.WorkloadConfig, workload Workload, logger *zap.Logger) (domain.AuthMethod, error) {
	cred, err := o.credentials.Credential(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return "", domain.NewAccountError(id, domain.KindNoCredential, "account is not registered", err)
		}
		return "", domain.NewAccountError(id, domain.KindOf(err), "resolve credentials", err)
	}

	auth, err := o.auth.Authenticate(ctx, cred, logger)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := auth.Session.Close(); err != nil {
			logger.Warn("close browser session", zap.Error(err))
		}
	}()

	if err := checkpoint(ctx); err != nil {
		return auth.Method, err
	}

	run := workload.Run(ctx, WorkloadEnv{
		AccountID: id,
		Session:   auth.Session,
		Config:    cfg,
		Platform:  o.platform,
		Logger:    logger,
		Sleep:     o.sleep,
	})
	if run.Err != nil {
		var accountErr *domain.AccountError
		if errors.As(run.Err, &accountErr) || domain.KindOf(run.Err) == domain.KindStopped {
			return auth.Method, run.Err
		}
		return auth.Method, domain.NewAccountError(id, domain.KindWorkload, "workload failed", run.Err)
	}

	logger.Info("workload finished", zap.Int("steps", run.Steps), zap.Int("failed_steps", run.Failed))
	return auth.Method, nil
}

// waitInterval sleeps for the recurring interval in slices of the poll
// interval, returning early once the stop signal is set.
func (o *Orchestrator) waitInterval(ctx context.Context, jobID domain.JobID, cfg domain.WorkloadConfig) error {
	poll := cfg.EffectivePollInterval()
	deadline := o.clock.Now().Add(cfg.Interval)

	for {
		if o.registry.StopRequested(jobID) {
			return domain.ErrJobStopped
		}
		remaining := deadline.Sub(o.clock.Now())
		if remaining <= 0 {
			return nil
		}
		if err := o.sleep(ctx, min(poll, remaining)); err != nil {
			return checkpoint(ctx)
		}
	}
}

func (o *Orchestrator) recordFailure(result *domain.AccountResult, err error, logger *zap.Logger) {
	kind := domain.KindOf(err)
	reason := err.Error()
	var accountErr *domain.AccountError
	if errors.As(err, &accountErr) {
		reason = accountErr.Reason
	}

	result.Outcome = domain.OutcomeFailed
	result.ErrorKind = kind
	result.Reason = reason
	result.Remediation = kind.Remediation()

	logger.Warn("account failed",
		zap.Int("run", result.Runs),
		zap.String("kind", string(kind)),
		zap.String("class", string(kind.Class())),
		zap.String("reason", reason),
		zap.String("remediation", result.Remediation),
		zap.Error(err),
	)
}

func (o *Orchestrator) markStopped(jobID domain.JobID, result domain.AccountResult, logger *zap.Logger) {
	if result.Succeeded == 0 || result.Outcome == domain.OutcomeRunning {
		result.Outcome = domain.OutcomeStopped
	}
	o.registry.UpdateAccount(jobID, result)
	logger.Info("account stopped", zap.Int("runs", result.Runs))
}

// stoppedBy reports whether err ended a run because the job was stopped. A
// transient failure observed after the stop request counts as a stop.
func stoppedBy(ctx context.Context, err error) bool {
	kind := domain.KindOf(err)
	if kind == domain.KindStopped {
		return true
	}
	return retryable(kind) && ctx.Err() != nil
}

// retryable reports whether a failed recurring run should be attempted again.
func retryable(kind domain.ErrorKind) bool {
	switch kind.Class() {
	case domain.ClassTransientDriver:
		return true
	default:
		return false
	}
}
