package application

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type WorkloadEnv struct {
	AccountID domain.AccountID
	Session   ports.BrowserSession
	Config    domain.WorkloadConfig
	Platform  domain.Platform
	Logger    *zap.Logger
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

type WorkloadResult struct {
	Steps  int
	Failed int
	Err    error
}

// Workload is the per-account activity run after authentication.
type Workload interface {
	Kind() domain.JobKind
	Run(ctx context.Context, env WorkloadEnv) WorkloadResult
}

// DefaultWorkloads returns the built-in workloads keyed by job kind.
func DefaultWorkloads() map[domain.JobKind]Workload {
	workloads := []Workload{WarmupWorkload{}, MessageWorkload{}, CheckWorkload{}}

	byKind := make(map[domain.JobKind]Workload, len(workloads))
	for _, workload := range workloads {
		byKind[workload.Kind()] = workload
	}
	return byKind
}

// WarmupWorkload visits pages and dwells on each.
type WarmupWorkload struct{}

func (WarmupWorkload) Kind() domain.JobKind { return domain.JobKindWarmup }

func (WarmupWorkload) Run(ctx context.Context, env WorkloadEnv) WorkloadResult {
	urls := env.Config.URLs
	if len(urls) == 0 {
		urls = []string{env.Platform.HomeURL}
	}
	limiter := newLimiter(env.Config.RatePerMinute)

	var result WorkloadResult
	for _, url := range urls {
		if err := limiter.Wait(ctx); err != nil {
			return stopped(result, err)
		}

		if err := env.Session.Navigate(ctx, url); err != nil {
			if ctx.Err() != nil {
				return stopped(result, err)
			}
			result.Failed++
			env.Logger.Warn("visit failed", zap.String("url", url), zap.Error(err))
			continue
		}
		result.Steps++
		env.Logger.Info("visited", zap.String("url", url), zap.Duration("dwell", env.Config.Dwell))

		if err := env.sleep(ctx, env.Config.Dwell); err != nil {
			return stopped(result, err)
		}
		if err := checkpoint(ctx); err != nil {
			return stopped(result, err)
		}
	}

	if result.Steps == 0 {
		result.Err = domain.NewAccountError(env.AccountID, domain.KindWorkload, fmt.Sprintf("none of %d pages could be visited", len(urls)), nil)
	}
	return result
}

// MessageWorkload sends each configured message through the platform's message form.
type MessageWorkload struct{}

func (MessageWorkload) Kind() domain.JobKind { return domain.JobKindMessage }

func (MessageWorkload) Run(ctx context.Context, env WorkloadEnv) WorkloadResult {
	var result WorkloadResult

	selectors := env.Platform.Selectors
	if selectors.MessageInput.Empty() || selectors.MessageSend.Empty() {
		result.Err = domain.NewAccountError(env.AccountID, domain.KindConfig, "message selectors are not configured", nil)
		return result
	}

	limiter := newLimiter(env.Config.RatePerMinute)
	for i, message := range env.Config.Messages {
		if err := limiter.Wait(ctx); err != nil {
			return stopped(result, err)
		}

		err := sendMessage(ctx, env, message)
		if err != nil {
			if ctx.Err() != nil {
				return stopped(result, err)
			}
			result.Failed++
			env.Logger.Warn("message failed", zap.Int("message", i), zap.String("recipient", message.Recipient), zap.Error(err))
			continue
		}
		result.Steps++
		env.Logger.Info("message sent", zap.Int("message", i), zap.String("recipient", message.Recipient))

		if err := checkpoint(ctx); err != nil {
			return stopped(result, err)
		}
	}

	if result.Steps == 0 {
		result.Err = domain.NewAccountError(env.AccountID, domain.KindWorkload, fmt.Sprintf("none of %d messages could be sent", len(env.Config.Messages)), nil)
	}
	return result
}

func sendMessage(ctx context.Context, env WorkloadEnv, message domain.Message) error {
	if err := env.Session.Navigate(ctx, message.Recipient); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	if _, err := env.Session.FindAndAct(ctx, env.Platform.Selectors.MessageInput, domain.Type(message.Text)); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if _, err := env.Session.FindAndAct(ctx, env.Platform.Selectors.MessageSend, domain.Click()); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// CheckWorkload only confirms the account can log in.
type CheckWorkload struct{}

func (CheckWorkload) Kind() domain.JobKind { return domain.JobKindCheck }

func (CheckWorkload) Run(_ context.Context, env WorkloadEnv) WorkloadResult {
	env.Logger.Info("account healthy")
	return WorkloadResult{Steps: 1}
}

func (env WorkloadEnv) sleep(ctx context.Context, d time.Duration) error {
	if env.Sleep != nil {
		return env.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), 1)
}

func stopped(result WorkloadResult, err error) WorkloadResult {
	result.Err = fmt.Errorf("%w: %w", domain.ErrJobStopped, err)
	return result
}
