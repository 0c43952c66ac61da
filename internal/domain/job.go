package domain

import (
	"fmt"
	"strings"
	"time"
)

type JobID string

type JobKind string

const (
	JobKindWarmup  JobKind = "warmup"
	JobKindMessage JobKind = "message"
	JobKindCheck   JobKind = "check"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusStopped   JobStatus = "stopped"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusStopped
}

type AccountOutcome string

const (
	OutcomePending   AccountOutcome = "pending"
	OutcomeRunning   AccountOutcome = "running"
	OutcomeSucceeded AccountOutcome = "succeeded"
	OutcomeFailed    AccountOutcome = "failed"
	OutcomeStopped   AccountOutcome = "stopped"
)

type AccountResult struct {
	AccountID   AccountID
	Outcome     AccountOutcome
	AuthMethod  AuthMethod
	Runs        int
	Succeeded   int
	ErrorKind   ErrorKind
	Reason      string
	Remediation string
	UpdatedAt   time.Time
}

type Job struct {
	ID         JobID
	Kind       JobKind
	Status     JobStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	Config     WorkloadConfig
	Accounts   []AccountResult
	StopReason string
}

// Counts returns how many accounts succeeded and failed so far.
func (j Job) Counts() (succeeded, failed int) {
	for _, result := range j.Accounts {
		switch result.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		}
	}
	return succeeded, failed
}

type Message struct {
	Recipient string `yaml:"recipient" mapstructure:"recipient"`
	Text      string `yaml:"text" mapstructure:"text"`
}

// WorkloadConfig is the caller-supplied per-job workload configuration.
type WorkloadConfig struct {
	Recurring     bool          `yaml:"recurring" mapstructure:"recurring"`
	Interval      time.Duration `yaml:"interval" mapstructure:"interval"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxRuns       int           `yaml:"max_runs" mapstructure:"max_runs"`
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	URLs          []string      `yaml:"urls" mapstructure:"urls"`
	Dwell         time.Duration `yaml:"dwell" mapstructure:"dwell"`
	Messages      []Message     `yaml:"messages" mapstructure:"messages"`
	RatePerMinute float64       `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
}

const (
	MaxConcurrentSessions = 5
	MaxPollInterval       = 60 * time.Second
	DefaultPollInterval   = 30 * time.Second
)

func (c WorkloadConfig) Validate(kind JobKind) error {
	if c.Recurring && c.Interval <= 0 {
		return fmt.Errorf("%w: recurring jobs need a positive interval", ErrInvalidWorkload)
	}
	if c.PollInterval < 0 || c.PollInterval > MaxPollInterval {
		return fmt.Errorf("%w: poll interval %s outside (0, %s]", ErrInvalidWorkload, c.PollInterval, MaxPollInterval)
	}
	if c.MaxRuns < 0 {
		return fmt.Errorf("%w: max runs must not be negative", ErrInvalidWorkload)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidWorkload)
	}
	if c.RatePerMinute < 0 {
		return fmt.Errorf("%w: rate per minute must not be negative", ErrInvalidWorkload)
	}

	if kind == JobKindMessage {
		if len(c.Messages) == 0 {
			return fmt.Errorf("%w: message jobs need at least one message", ErrInvalidWorkload)
		}
		for i, message := range c.Messages {
			if strings.TrimSpace(message.Recipient) == "" || strings.TrimSpace(message.Text) == "" {
				return fmt.Errorf("%w: message %d needs a recipient and text", ErrInvalidWorkload, i)
			}
		}
	}

	return nil
}

// EffectivePollInterval clamps the stop-signal polling period to (0, 60s].
func (c WorkloadConfig) EffectivePollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}
	if c.PollInterval > MaxPollInterval {
		return MaxPollInterval
	}
	return c.PollInterval
}

// EffectiveConcurrency caps the requested worker count at MaxConcurrentSessions.
func EffectiveConcurrency(requested, fallback int) int {
	n := requested
	if n <= 0 {
		n = fallback
	}
	if n <= 0 {
		n = 1
	}
	if n > MaxConcurrentSessions {
		n = MaxConcurrentSessions
	}
	return n
}

func ParseJobKind(raw string) (JobKind, error) {
	kind := JobKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case JobKindWarmup, JobKindMessage, JobKindCheck:
		return kind, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownJobKind, raw)
	}
}
