package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/logging"
	"github.com/bnema/accountctl/internal/ports"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const subscriberBuffer = 64

type LogEvent struct {
	JobID domain.JobID
	Time  time.Time
	Line  string
}

type jobEntry struct {
	job         domain.Job
	logs        []LogEvent
	subscribers map[int]chan LogEvent
	nextSub     int
	stop        bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// JobRegistry owns job state, logs and stop signals. It is safe for
// concurrent use; subscribers never block writers.
type JobRegistry struct {
	mu    sync.RWMutex
	jobs  map[domain.JobID]*jobEntry
	clock ports.Clock
}

func NewJobRegistry(clock ports.Clock) *JobRegistry {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &JobRegistry{jobs: map[domain.JobID]*jobEntry{}, clock: clock}
}

// Create registers a running job. cancel is invoked on the first stop request.
func (r *JobRegistry) Create(job domain.Job, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job.Status = domain.JobStatusRunning
	r.jobs[job.ID] = &jobEntry{
		job:         cloneJob(job),
		subscribers: map[int]chan LogEvent{},
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (r *JobRegistry) Get(id domain.JobID) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return cloneJob(entry.job), nil
}

func (r *JobRegistry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(r.jobs))
	for _, entry := range r.jobs {
		jobs = append(jobs, cloneJob(entry.job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	return jobs
}

func (r *JobRegistry) Logs(id domain.JobID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	lines := make([]string, 0, len(entry.logs))
	for _, event := range entry.logs {
		lines = append(lines, event.Line)
	}
	return lines, nil
}

// Append records a log line and fans it out to subscribers, dropping events
// for subscribers whose buffer is full.
func (r *JobRegistry) Append(id domain.JobID, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return
	}
	event := LogEvent{JobID: id, Time: r.clock.Now(), Line: line}
	entry.logs = append(entry.logs, event)

	for _, ch := range entry.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe streams the job log, starting with the lines already recorded.
// The channel is closed when the job finishes or cancel is called.
func (r *JobRegistry) Subscribe(id domain.JobID) (<-chan LogEvent, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	ch := make(chan LogEvent, subscriberBuffer+len(entry.logs))
	for _, event := range entry.logs {
		ch <- event
	}
	if entry.job.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	subID := entry.nextSub
	entry.nextSub++
	entry.subscribers[subID] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := entry.subscribers[subID]; ok {
			delete(entry.subscribers, subID)
			close(sub)
		}
	}
	return ch, cancel, nil
}

func (r *JobRegistry) UpdateAccount(id domain.JobID, result domain.AccountResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return
	}

	result.UpdatedAt = r.clock.Now()
	for i := range entry.job.Accounts {
		if entry.job.Accounts[i].AccountID == result.AccountID {
			entry.job.Accounts[i] = result
			return
		}
	}
	entry.job.Accounts = append(entry.job.Accounts, result)
}

// RequestStop sets the job's stop signal once and cancels its context.
// Stopping an unknown job fails; stopping a stopped or finished job is a no-op.
func (r *JobRegistry) RequestStop(id domain.JobID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if entry.stop || entry.job.Status.Terminal() {
		return nil
	}

	entry.stop = true
	entry.job.StopReason = reason
	if entry.cancel != nil {
		entry.cancel()
	}
	return nil
}

func (r *JobRegistry) StopRequested(id domain.JobID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[id]
	return ok && entry.stop
}

// Finish records the terminal status, marks accounts that never ran as
// stopped and closes all subscriptions.
func (r *JobRegistry) Finish(id domain.JobID, status domain.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok || entry.job.Status.Terminal() {
		return
	}

	now := r.clock.Now()
	for i := range entry.job.Accounts {
		switch entry.job.Accounts[i].Outcome {
		case domain.OutcomePending, domain.OutcomeRunning:
			entry.job.Accounts[i].Outcome = domain.OutcomeStopped
			entry.job.Accounts[i].UpdatedAt = now
		}
	}
	entry.job.Status = status
	entry.job.EndedAt = &now

	for subID, ch := range entry.subscribers {
		delete(entry.subscribers, subID)
		close(ch)
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	close(entry.done)
}

// Done returns a channel closed once the job reaches a terminal status.
func (r *JobRegistry) Done(id domain.JobID) (<-chan struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return entry.done, nil
}

// Remove drops a finished job and its logs.
func (r *JobRegistry) Remove(id domain.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if !entry.job.Status.Terminal() {
		return fmt.Errorf("%w: %s", domain.ErrJobRunning, id)
	}
	delete(r.jobs, id)
	return nil
}

// Logger returns a logger that writes to base and to the job's log.
func (r *JobRegistry) Logger(base *zap.Logger, id domain.JobID) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}

	jobCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(logging.ConsoleEncoderConfig()),
		jobLogWriter{registry: r, id: id},
		zapcore.InfoLevel,
	)

	return zap.New(zapcore.NewTee(base.Core(), jobCore)).With(zap.String("job", string(id)))
}

// jobLogWriter receives one encoded entry per Write from the zap core.
type jobLogWriter struct {
	registry *JobRegistry
	id       domain.JobID
}

func (w jobLogWriter) Write(p []byte) (int, error) {
	w.registry.Append(w.id, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (jobLogWriter) Sync() error {
	return nil
}

func cloneJob(job domain.Job) domain.Job {
	job.Accounts = append([]domain.AccountResult(nil), job.Accounts...)
	job.Config.URLs = append([]string(nil), job.Config.URLs...)
	job.Config.Messages = append([]domain.Message(nil), job.Config.Messages...)
	if job.EndedAt != nil {
		ended := *job.EndedAt
		job.EndedAt = &ended
	}
	return job
}
