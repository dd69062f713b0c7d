// Package dispatch submits one isolated cluster job per variant and tracks
// each job to a terminal state.
//
// The dispatcher runs a bounded worker pool: at most ConcurrencyLimit jobs
// are simultaneously running on the cluster, which is the engine's
// backpressure mechanism against cluster resource exhaustion. A worker holds
// its slot for the whole lifetime of one variant, including retries, so the
// bound holds across attempt boundaries.
//
// Completions are correlated back to variant identity via the job's variant
// id, never by arrival order. A variant that exhausts its attempts is
// recorded as failed and its siblings keep dispatching: one bad variant must
// not abort the run.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"variant-engine/internal/cluster"
	"variant-engine/internal/config"
	"variant-engine/internal/shared/model"
	"variant-engine/pkg/logging"
)

// ProgressSink receives human-readable status lines. Callers (CLI, GUI,
// logging) implement it; the engine never formats output beyond these
// strings.
type ProgressSink interface {
	Progress(status string)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(status string)

func (f SinkFunc) Progress(status string) { f(status) }

// AuditRecorder persists run and job-attempt records so job identifiers
// outlive the in-memory Run. Write-through only: dispatch decisions never
// read from it, and recording failures are logged, not propagated.
type AuditRecorder interface {
	RecordRun(ctx context.Context, run *model.Run) error
	RecordJob(ctx context.Context, runID string, job *model.Job) error
}

// Options bound one Dispatch invocation.
type Options struct {
	ConcurrencyLimit int
	MaxAttempts      int
	JobTimeout       time.Duration
	PollInterval     time.Duration
}

// FromConfig maps the dispatcher config section to Options.
func FromConfig(cfg config.DispatcherConfig) Options {
	return Options{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		MaxAttempts:      cfg.MaxAttempts,
		JobTimeout:       cfg.JobTimeout,
		PollInterval:     cfg.PollInterval,
	}
}

func (o *Options) validate() {
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
}

// Dispatcher drives one run's jobs against a cluster.Client.
type Dispatcher struct {
	client  cluster.Client
	opts    Options
	log     *logging.Logger
	sink    ProgressSink
	audit   AuditRecorder
	metrics *Metrics
}

// New creates a Dispatcher.
func New(client cluster.Client, opts Options, log *logging.Logger) *Dispatcher {
	opts.validate()
	if log == nil {
		log = logging.Default("dispatch")
	}
	return &Dispatcher{client: client, opts: opts, log: log}
}

// SetProgressSink attaches a progress sink.
func (d *Dispatcher) SetProgressSink(sink ProgressSink) { d.sink = sink }

// SetAudit attaches an audit recorder.
func (d *Dispatcher) SetAudit(audit AuditRecorder) { d.audit = audit }

// SetMetrics attaches Prometheus metrics.
func (d *Dispatcher) SetMetrics(m *Metrics) { d.metrics = m }

// Dispatch submits every variant of run and blocks until each reaches a
// terminal state or ctx is cancelled.
//
// The returned RunResult partitions the variant ids into succeeded and
// failed; the run is complete once every variant is terminal, independent of
// whether any failed. Job failures are data in the result, never an error.
// The only error Dispatch returns is ctx's, when cancellation stopped the
// run before all variants reached a terminal state.
func (d *Dispatcher) Dispatch(ctx context.Context, run *model.Run) (model.RunResult, error) {
	log := d.log.WithRunID(run.ID)
	log.Info("dispatching run", "variants", len(run.Variants),
		"concurrency_limit", d.opts.ConcurrencyLimit, "max_attempts", d.opts.MaxAttempts)
	d.recordRun(ctx, run)

	var (
		mu       sync.Mutex
		result   model.RunResult
		terminal int
	)

	sem := make(chan struct{}, d.opts.ConcurrencyLimit)
	var wg sync.WaitGroup

	for _, v := range run.Variants {
		wg.Add(1)
		go func(v model.Variant) {
			defer wg.Done()

			// A cancelled run stops submitting new pending jobs immediately.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				result.AddFailed(v.ID)
				mu.Unlock()
				return
			}

			ok := d.runJob(ctx, run, v)

			mu.Lock()
			if ok {
				result.AddSucceeded(v.ID)
			} else {
				result.AddFailed(v.ID)
			}
			terminal++
			done := terminal
			mu.Unlock()

			d.progress(fmt.Sprintf("run %s: %d/%d variants terminal", run.ID, done, len(run.Variants)))
		}(v)
	}

	wg.Wait()
	result.Sort()

	log.Info("run complete", "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result, ctx.Err()
}

// runJob drives one variant through the job state machine, retrying
// transient failures up to MaxAttempts. Returns true when the job succeeded.
func (d *Dispatcher) runJob(ctx context.Context, run *model.Run, v model.Variant) bool {
	job := run.Jobs[v.ID]
	log := d.log.WithRunID(run.ID).WithVariantID(v.ID)

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			d.failJob(ctx, run, job, "run cancelled before submission")
			return false
		}

		job.AttemptCount = attempt
		job.ClusterJobName = fmt.Sprintf("%s-%s-a%d", run.ID, v.ID, attempt)

		state, errMsg := d.runAttempt(ctx, run, v, job)
		if state == cluster.StateSucceeded {
			now := time.Now()
			job.State = model.JobStateSucceeded
			job.FinishedAt = &now
			job.Error = ""
			d.recordJob(ctx, run.ID, job)
			d.countAttempt("succeeded")
			d.countVariant("succeeded")
			log.JobLog("succeeded", run.ID, v.ID, "attempts", attempt)
			return true
		}

		d.countAttempt("failed")
		job.Error = errMsg
		if ctx.Err() != nil {
			d.failJob(ctx, run, job, errMsg)
			return false
		}
		if attempt < d.opts.MaxAttempts {
			// Record the failed attempt before re-queueing, so the audit
			// history shows Running -> Failed -> Pending per retry.
			now := time.Now()
			job.State = model.JobStateFailed
			job.FinishedAt = &now
			d.recordJob(ctx, run.ID, job)

			job.State = model.JobStatePending
			job.StartedAt = nil
			job.FinishedAt = nil
			d.recordJob(ctx, run.ID, job)
			log.Warn("job attempt failed, retrying",
				"attempt", attempt, "max_attempts", d.opts.MaxAttempts, "reason", errMsg)
			d.progress(fmt.Sprintf("job %s attempt %d failed: %s (retrying)", job.ClusterJobName, attempt, errMsg))
			continue
		}
	}

	d.failJob(ctx, run, job, job.Error)
	return false
}

// runAttempt submits one attempt and polls it to a terminal cluster state.
// Returns the terminal state and a failure reason when not succeeded.
func (d *Dispatcher) runAttempt(ctx context.Context, run *model.Run, v model.Variant, job *model.Job) (cluster.JobState, string) {
	desc := cluster.JobDescriptor{
		Name:         job.ClusterJobName,
		RunID:        run.ID,
		VariantID:    v.ID,
		Assignment:   v.Assignment,
		ResultPrefix: job.ResultPrefix,
		Timeout:      d.opts.JobTimeout,
	}

	handle, err := d.client.Submit(ctx, desc)
	if err != nil {
		return cluster.StateFailed, fmt.Sprintf("submit: %v", err)
	}

	now := time.Now()
	job.State = model.JobStateRunning
	job.StartedAt = &now
	d.recordJob(ctx, run.ID, job)
	if d.metrics != nil {
		d.metrics.JobsRunning.Inc()
		defer d.metrics.JobsRunning.Dec()
		defer func(start time.Time) {
			d.metrics.JobDuration.Observe(time.Since(start).Seconds())
		}(now)
	}
	d.progress(fmt.Sprintf("job %s submitted", job.ClusterJobName))

	deadline := now.Add(d.opts.JobTimeout)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort cluster-side cancellation; a fresh context because
			// ctx is already dead.
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d.client.Cancel(cancelCtx, handle)
			cancel()
			return cluster.StateFailed, "run cancelled"
		case <-ticker.C:
		}

		state, err := d.client.Poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return cluster.StateFailed, "run cancelled"
			}
			// Poll errors are transient cluster trouble, not job failure.
			d.log.Warn("poll failed", "job_name", job.ClusterJobName, "error", err.Error())
			continue
		}

		switch state {
		case cluster.StateSucceeded:
			return cluster.StateSucceeded, ""
		case cluster.StateFailed:
			return cluster.StateFailed, "cluster reported failure"
		default:
			// A job exceeding its wall-clock budget while running is failed
			// and retried under the same policy as any other failure.
			if time.Now().After(deadline) {
				cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				d.client.Cancel(cancelCtx, handle)
				cancel()
				return cluster.StateFailed, fmt.Sprintf("timeout after %s", d.opts.JobTimeout)
			}
		}
	}
}

// failJob finalizes a job as FailedFinal.
func (d *Dispatcher) failJob(ctx context.Context, run *model.Run, job *model.Job, reason string) {
	now := time.Now()
	job.State = model.JobStateFailedFinal
	job.FinishedAt = &now
	job.Error = reason
	d.recordJob(ctx, run.ID, job)
	d.countVariant("failed_final")
	d.log.WithRunID(run.ID).WithVariantID(job.VariantID).
		Error("job failed permanently", "attempts", job.AttemptCount, "reason", reason)
	d.progress(fmt.Sprintf("job %s failed permanently: %s", job.ClusterJobName, reason))
}

func (d *Dispatcher) progress(status string) {
	if d.sink != nil {
		d.sink.Progress(status)
	}
}

func (d *Dispatcher) countAttempt(outcome string) {
	if d.metrics != nil {
		d.metrics.JobAttempts.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) countVariant(state string) {
	if d.metrics != nil {
		d.metrics.VariantsTotal.WithLabelValues(state).Inc()
	}
}

func (d *Dispatcher) recordRun(ctx context.Context, run *model.Run) {
	if d.audit == nil {
		return
	}
	if err := d.audit.RecordRun(ctx, run); err != nil {
		d.log.Warn("audit run record failed", "run_id", run.ID, "error", err.Error())
	}
}

func (d *Dispatcher) recordJob(ctx context.Context, runID string, job *model.Job) {
	if d.audit == nil {
		return
	}
	if err := d.audit.RecordJob(ctx, runID, job); err != nil {
		d.log.Warn("audit job record failed", "run_id", runID, "variant_id", job.VariantID, "error", err.Error())
	}
}
