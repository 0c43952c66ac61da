package application

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegisteredJob(t *testing.T, registry *JobRegistry, id domain.JobID, accounts ...domain.AccountID) (context.Context, *bool) {
	t.Helper()

	job := domain.Job{ID: id, Kind: domain.JobKindCheck, StartedAt: authEpoch}
	for _, account := range accounts {
		job.Accounts = append(job.Accounts, domain.AccountResult{AccountID: account, Outcome: domain.OutcomePending})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := false
	registry.Create(job, func() {
		cancelled = true
		cancel()
	})
	return ctx, &cancelled
}

func TestJobRegistryUnknownJob(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry(newFakeClock(authEpoch))

	_, err := registry.Get("missing")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = registry.Logs("missing")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	_, _, err = registry.Subscribe("missing")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	require.ErrorIs(t, registry.RequestStop("missing", "x"), domain.ErrJobNotFound)
	require.ErrorIs(t, registry.Remove("missing"), domain.ErrJobNotFound)
}

func TestJobRegistryStampsEventsWithClock(t *testing.T) {
	at := authEpoch.Add(time.Minute)
	clock := mocks.NewMockClock(t)
	clock.EXPECT().Now().Return(at)

	registry := NewJobRegistry(clock)
	newRegisteredJob(t, registry, "job-1", "alice")

	events, cancel, err := registry.Subscribe("job-1")
	require.NoError(t, err)
	defer cancel()

	registry.Append("job-1", "hello")
	event := <-events
	assert.Equal(t, "hello", event.Line)
	assert.Equal(t, at, event.Time)

	registry.Finish("job-1", domain.JobStatusCompleted)
	job, err := registry.Get("job-1")
	require.NoError(t, err)
	require.NotNil(t, job.EndedAt)
	assert.Equal(t, at, *job.EndedAt)
}

func TestJobRegistryStopIsIdempotent(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry(newFakeClock(authEpoch))
	ctx, cancelled := newRegisteredJob(t, registry, "job-1", "alice")

	require.NoError(t, registry.RequestStop("job-1", "operator"))
	require.NoError(t, registry.RequestStop("job-1", "again"))

	assert.True(t, *cancelled)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, registry.StopRequested("job-1"))

	job, err := registry.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "operator", job.StopReason)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
}

func TestJobRegistryFinishMarksUnfinishedAccountsStopped(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(authEpoch)
	registry := NewJobRegistry(clock)
	newRegisteredJob(t, registry, "job-1", "alice", "bob", "carol")

	registry.UpdateAccount("job-1", domain.AccountResult{AccountID: "alice", Outcome: domain.OutcomeSucceeded, Runs: 1, Succeeded: 1})
	registry.UpdateAccount("job-1", domain.AccountResult{AccountID: "bob", Outcome: domain.OutcomeRunning, Runs: 1})
	clock.Advance(time.Minute)
	registry.Finish("job-1", domain.JobStatusStopped)
	registry.Finish("job-1", domain.JobStatusCompleted)

	job, err := registry.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusStopped, job.Status)
	require.NotNil(t, job.EndedAt)
	assert.True(t, job.EndedAt.Equal(authEpoch.Add(time.Minute)))

	outcomes := map[domain.AccountID]domain.AccountOutcome{}
	for _, result := range job.Accounts {
		outcomes[result.AccountID] = result.Outcome
	}
	assert.Equal(t, map[domain.AccountID]domain.AccountOutcome{
		"alice": domain.OutcomeSucceeded,
		"bob":   domain.OutcomeStopped,
		"carol": domain.OutcomeStopped,
	}, outcomes)

	done, err := registry.Done("job-1")
	require.NoError(t, err)
	select {
	case <-done:
	default:
		t.Fatal("done channel not closed")
	}

	require.NoError(t, registry.RequestStop("job-1", "late"))
	assert.False(t, registry.StopRequested("job-1"))
}

func TestJobRegistryGetReturnsCopy(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry(newFakeClock(authEpoch))
	newRegisteredJob(t, registry, "job-1", "alice")

	job, err := registry.Get("job-1")
	require.NoError(t, err)
	job.Accounts[0].Outcome = domain.OutcomeFailed

	again, err := registry.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, again.Accounts[0].Outcome)
}

func TestJobRegistryLoggerFansOutToSubscribers(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry(newFakeClock(authEpoch))
	newRegisteredJob(t, registry, "job-1", "alice")

	events, unsubscribe, err := registry.Subscribe("job-1")
	require.NoError(t, err)
	defer unsubscribe()

	logger := registry.Logger(zap.NewNop(), "job-1")
	logger.Info("account succeeded", zap.String("account", "alice"))
	logger.Debug("not recorded")

	select {
	case event := <-events:
		assert.Equal(t, domain.JobID("job-1"), event.JobID)
		assert.Contains(t, event.Line, "account succeeded")
		assert.Contains(t, event.Line, `"account": "alice"`)
		assert.Contains(t, event.Line, `"job": "job-1"`)
	case <-time.After(time.Second):
		t.Fatal("no log event received")
	}

	lines, err := registry.Logs("job-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "\n")

	registry.Finish("job-1", domain.JobStatusCompleted)
	_, open := <-events
	assert.False(t, open)
}

func TestJobRegistrySlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry(newFakeClock(authEpoch))
	newRegisteredJob(t, registry, "job-1", "alice")

	_, unsubscribe, err := registry.Subscribe("job-1")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer*3; i++ {
		registry.Append("job-1", "line")
	}
	unsubscribe()
	unsubscribe()

	lines, err := registry.Logs("job-1")
	require.NoError(t, err)
	assert.Len(t, lines, subscriberBuffer*3)
}

func TestJobRegistryRemoveOnlyFinishedJobs(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry(newFakeClock(authEpoch))
	newRegisteredJob(t, registry, "job-1", "alice")

	require.ErrorIs(t, registry.Remove("job-1"), domain.ErrJobRunning)

	registry.Finish("job-1", domain.JobStatusCompleted)
	require.NoError(t, registry.Remove("job-1"))
	assert.Empty(t, registry.List())

	events, _, err := registry.Subscribe("job-1")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.Nil(t, events)
}
