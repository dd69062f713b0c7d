package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variant-engine/internal/cluster/local"
	"variant-engine/internal/shared/model"
)

func testVariants(n int) []model.Variant {
	variants := make([]model.Variant, n)
	for i := range variants {
		variants[i] = model.Variant{
			Index:      i,
			ID:         fmt.Sprintf("variant-%04d", i),
			Assignment: map[string]any{"index": i},
		}
	}
	return variants
}

func fastOptions() Options {
	return Options{
		ConcurrencyLimit: 3,
		MaxAttempts:      3,
		JobTimeout:       2 * time.Second,
		PollInterval:     2 * time.Millisecond,
	}
}

func TestDispatchAllSucceed(t *testing.T) {
	client := local.New()
	run := model.NewRun(testVariants(10))

	d := New(client, fastOptions(), nil)
	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, 10)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 10, client.Submitted())

	for _, job := range run.Jobs {
		assert.Equal(t, model.JobStateSucceeded, job.State)
		assert.Equal(t, 1, job.AttemptCount)
		assert.NotNil(t, job.FinishedAt)
	}
}

func TestDispatchBoundedConcurrency(t *testing.T) {
	client := local.New()
	client.SetDefaultBehavior(local.Behavior{RunDuration: 10 * time.Millisecond})
	run := model.NewRun(testVariants(10))

	opts := fastOptions()
	opts.ConcurrencyLimit = 3
	d := New(client, opts, nil)

	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, 10)
	assert.LessOrEqual(t, client.MaxRunning(), 3,
		"running jobs must never exceed the concurrency limit")
}

func TestDispatchTransientFailureRetries(t *testing.T) {
	client := local.New()
	client.SetBehavior("variant-0002", local.Behavior{FailuresBeforeSuccess: 2})
	client.SetBehavior("variant-0005", local.Behavior{FailuresBeforeSuccess: 1})
	run := model.NewRun(testVariants(10))

	d := New(client, fastOptions(), nil)
	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, 10)
	assert.Empty(t, result.Failed)

	// 8 clean + 3 attempts for variant-0002 + 2 for variant-0005.
	assert.Equal(t, 13, client.Submitted())
	assert.Equal(t, 3, run.Jobs["variant-0002"].AttemptCount)
	assert.Equal(t, 2, run.Jobs["variant-0005"].AttemptCount)
	assert.Equal(t, model.JobStateSucceeded, run.Jobs["variant-0002"].State)
}

func TestDispatchPermanentFailureTolerated(t *testing.T) {
	client := local.New()
	client.SetBehavior("variant-0001", local.Behavior{AlwaysFail: true})
	run := model.NewRun(testVariants(4))

	d := New(client, fastOptions(), nil)
	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err, "job failures are data in the result, not an error")

	assert.Equal(t, []string{"variant-0000", "variant-0002", "variant-0003"}, result.Succeeded)
	assert.Equal(t, []string{"variant-0001"}, result.Failed)

	failed := run.Jobs["variant-0001"]
	assert.Equal(t, model.JobStateFailedFinal, failed.State)
	assert.Equal(t, 3, failed.AttemptCount)
	assert.NotEmpty(t, failed.Error)

	// One bad variant never blocks its siblings.
	assert.Equal(t, 3+3, client.Submitted())
}

func TestDispatchAttemptTimeout(t *testing.T) {
	client := local.New()
	client.SetBehavior("variant-0000", local.Behavior{Hang: true})
	run := model.NewRun(testVariants(1))

	opts := fastOptions()
	opts.MaxAttempts = 1
	opts.JobTimeout = 20 * time.Millisecond
	d := New(client, opts, nil)

	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, []string{"variant-0000"}, result.Failed)
	assert.Contains(t, run.Jobs["variant-0000"].Error, "timeout")
}

func TestDispatchCancellation(t *testing.T) {
	client := local.New()
	client.SetDefaultBehavior(local.Behavior{Hang: true})
	run := model.NewRun(testVariants(6))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	d := New(client, fastOptions(), nil)
	result, err := d.Dispatch(ctx, run)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Succeeded)
	assert.Len(t, result.Failed, 6, "every variant resolves, terminal or abandoned")
	// Pending variants beyond the concurrency limit were never submitted.
	assert.LessOrEqual(t, client.Submitted(), 3)
}

func TestDispatchResultSorted(t *testing.T) {
	client := local.New()
	client.SetDefaultBehavior(local.Behavior{RunDuration: time.Duration(0)})
	run := model.NewRun(testVariants(8))

	d := New(client, fastOptions(), nil)
	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	for i := 1; i < len(result.Succeeded); i++ {
		assert.Less(t, result.Succeeded[i-1], result.Succeeded[i])
	}
}

func TestDispatchProgressSink(t *testing.T) {
	client := local.New()
	run := model.NewRun(testVariants(3))

	var mu sync.Mutex
	var lines []string
	d := New(client, fastOptions(), nil)
	d.SetProgressSink(SinkFunc(func(status string) {
		mu.Lock()
		lines = append(lines, status)
		mu.Unlock()
	}))

	_, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, lines)
	sawTerminal := false
	for _, l := range lines {
		if l == fmt.Sprintf("run %s: 3/3 variants terminal", run.ID) {
			sawTerminal = true
		}
	}
	assert.True(t, sawTerminal, "final progress line must report all variants terminal")
}

// memAudit collects audit records in memory.
type memAudit struct {
	mu   sync.Mutex
	runs []string
	jobs []model.Job
}

func (a *memAudit) RecordRun(ctx context.Context, run *model.Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run.ID)
	return nil
}

func (a *memAudit) RecordJob(ctx context.Context, runID string, job *model.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, *job)
	return nil
}

func TestDispatchAuditTrail(t *testing.T) {
	client := local.New()
	client.SetBehavior("variant-0001", local.Behavior{AlwaysFail: true})
	run := model.NewRun(testVariants(2))

	audit := &memAudit{}
	d := New(client, fastOptions(), nil)
	d.SetAudit(audit)

	_, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	assert.Equal(t, []string{run.ID}, audit.runs)

	// Every attempt leaves at least one record, and the last record per
	// variant is terminal.
	last := make(map[string]model.Job)
	for _, j := range audit.jobs {
		last[j.VariantID] = j
	}
	assert.Equal(t, model.JobStateSucceeded, last["variant-0000"].State)
	assert.Equal(t, model.JobStateFailedFinal, last["variant-0001"].State)
	assert.GreaterOrEqual(t, len(audit.jobs), 4)
}

func TestDispatchAuditRecordsFailedBeforeRetry(t *testing.T) {
	client := local.New()
	client.SetBehavior("variant-0000", local.Behavior{FailuresBeforeSuccess: 1})
	run := model.NewRun(testVariants(1))

	audit := &memAudit{}
	d := New(client, fastOptions(), nil)
	d.SetAudit(audit)

	_, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	audit.mu.Lock()
	defer audit.mu.Unlock()

	states := make([]model.JobState, 0, len(audit.jobs))
	for _, j := range audit.jobs {
		states = append(states, j.State)
	}
	assert.Equal(t, []model.JobState{
		model.JobStateRunning,
		model.JobStateFailed,
		model.JobStatePending,
		model.JobStateRunning,
		model.JobStateSucceeded,
	}, states, "a retried attempt must leave a failed record before re-queueing")

	// The failed record carries the reason and a finish time; the pending
	// record that follows has both timestamps cleared.
	assert.Equal(t, "cluster reported failure", audit.jobs[1].Error)
	require.NotNil(t, audit.jobs[1].FinishedAt)
	assert.Nil(t, audit.jobs[2].StartedAt)
	assert.Nil(t, audit.jobs[2].FinishedAt)
}

func TestDispatchJobNaming(t *testing.T) {
	client := local.New()
	client.SetBehavior("variant-0000", local.Behavior{FailuresBeforeSuccess: 1})
	run := model.NewRun(testVariants(1))

	d := New(client, fastOptions(), nil)
	_, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	// Attempt counter is part of the cluster job name, so resubmissions never
	// collide with their predecessor.
	assert.Equal(t, fmt.Sprintf("%s-variant-0000-a2", run.ID), run.Jobs["variant-0000"].ClusterJobName)
}

func TestOptionsValidateDefaults(t *testing.T) {
	o := Options{}
	o.validate()
	assert.Equal(t, 1, o.ConcurrencyLimit)
	assert.Equal(t, 1, o.MaxAttempts)
	assert.Equal(t, 30*time.Minute, o.JobTimeout)
	assert.Equal(t, 2*time.Second, o.PollInterval)
}
