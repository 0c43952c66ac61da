package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	statusadapter "github.com/bnema/accountctl/internal/adapters/render/status"
	"github.com/bnema/accountctl/internal/config"
	"github.com/bnema/accountctl/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	jobShutdownTimeout = 30 * time.Second
	interruptReason    = "interrupted"
)

var errJobFailed = errors.New("job failed")

func newJobCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run workloads across accounts",
	}

	cmd.AddCommand(newJobRunCmd(app))

	return cmd
}

type jobRunFlags struct {
	kind        string
	accounts    []string
	configPath  string
	concurrency int
	recurring   bool
	interval    time.Duration
	maxRuns     int
	quiet       bool
}

func newJobRunCmd(app *app) *cobra.Command {
	var flags jobRunFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Authenticate each account and run a workload, streaming the job log",
		Long:  "run submits a job for the selected accounts (all accounts when --accounts is empty) and streams its log until it finishes. Ctrl-C stops the job at the next checkpoint of every worker.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := domain.ParseJobKind(flags.kind)
			if err != nil {
				return err
			}

			workload, err := buildWorkloadConfig(cmd, app, flags)
			if err != nil {
				return err
			}
			if err := workload.Validate(kind); err != nil {
				return err
			}

			ids, err := selectAccounts(cmd.Context(), app, flags.accounts)
			if err != nil {
				return err
			}

			return runJob(cmd, app, kind, ids, workload, flags.quiet)
		},
	}

	cmd.Flags().StringVar(&flags.kind, "kind", "", "Workload kind (warmup|message|check)")
	cmd.Flags().StringSliceVar(&flags.accounts, "accounts", nil, "Account IDs, comma separated (default: all accounts)")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "YAML workload file")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Concurrent sessions for this job (capped at 5)")
	cmd.Flags().BoolVar(&flags.recurring, "recurring", false, "Repeat the workload until stopped")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "Wait between recurring runs")
	cmd.Flags().IntVar(&flags.maxRuns, "max-runs", 0, "Stop a recurring job after this many runs per account (0 = unlimited)")
	cmd.Flags().BoolVar(&flags.quiet, "quiet", false, "Print log lines without the progress spinner")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

// buildWorkloadConfig layers explicitly set flags over the optional workload file.
func buildWorkloadConfig(cmd *cobra.Command, app *app, flags jobRunFlags) (domain.WorkloadConfig, error) {
	var workload domain.WorkloadConfig
	if flags.configPath != "" {
		loaded, err := config.LoadWorkload(flags.configPath)
		if err != nil {
			return domain.WorkloadConfig{}, err
		}
		workload = loaded
	}

	if cmd.Flags().Changed("concurrency") {
		workload.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("recurring") {
		workload.Recurring = flags.recurring
	}
	if cmd.Flags().Changed("interval") {
		workload.Interval = flags.interval
	}
	if cmd.Flags().Changed("max-runs") {
		workload.MaxRuns = flags.maxRuns
	}
	if workload.PollInterval == 0 {
		workload.PollInterval = app.cfg.Jobs.PollInterval
	}

	return workload, nil
}

func selectAccounts(ctx context.Context, app *app, raw []string) ([]domain.AccountID, error) {
	if ids := parseAccountIDs(raw); len(ids) > 0 {
		return ids, nil
	}

	statuses, err := app.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]domain.AccountID, 0, len(statuses))
	for _, status := range statuses {
		ids = append(ids, status.Account.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no accounts configured", domain.ErrEmptyBatch)
	}

	return ids, nil
}

func runJob(cmd *cobra.Command, app *app, kind domain.JobKind, ids []domain.AccountID, workload domain.WorkloadConfig, quiet bool) error {
	ctx := cmd.Context()
	orchestrator, closeDriver := app.newOrchestrator()
	defer func() {
		if err := closeDriver(); err != nil {
			app.logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	jobID, err := orchestrator.Submit(ctx, kind, ids, workload)
	if err != nil {
		return err
	}

	events, unsubscribe, err := orchestrator.Subscribe(jobID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	signalCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-signalCtx.Done():
			if err := orchestrator.Stop(jobID, interruptReason); err != nil {
				app.logger.Warn("stop job", zap.String("job", string(jobID)), zap.Error(err))
			}
		case <-finished:
		}
	}()

	output := cmd.ErrOrStderr()
	if quiet {
		err = drainJobLogs(ctx, output, events)
	} else {
		label := fmt.Sprintf("Running %s job on %d accounts...", kind, len(ids))
		if err = streamJobLogs(ctx, output, label, events); err != nil {
			err = drainJobLogs(ctx, output, events)
		}
	}
	if err != nil {
		app.logger.Debug("job log stream ended early", zap.Error(err))
	}

	job, err := orchestrator.Wait(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobShutdownTimeout)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("job shutdown incomplete", zap.Error(err))
	}

	rendered, err := app.renderJob(job, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)

	if job.Status == domain.JobStatusError {
		return fmt.Errorf("%w: every account failed", errJobFailed)
	}

	return nil
}
