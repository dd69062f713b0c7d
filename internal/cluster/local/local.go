// Package local is an in-process cluster.Client double.
//
// It executes nothing: each submitted job sits in Running for a configurable
// duration, then resolves according to the behavior registered for its
// variant. Tests use it to script transient failures, permanent failures and
// timing, and to observe the peak number of simultaneously running jobs.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"variant-engine/internal/cluster"
	"variant-engine/internal/shared/objstore"
)

// Behavior scripts how jobs of one variant resolve.
type Behavior struct {
	// FailuresBeforeSuccess makes the first N attempts fail, later ones
	// succeed (transient failure).
	FailuresBeforeSuccess int

	// AlwaysFail makes every attempt fail (permanent failure).
	AlwaysFail bool

	// RunDuration is how long a job stays Running before resolving.
	RunDuration time.Duration

	// Hang keeps the job Running forever (for timeout tests).
	Hang bool
}

type jobRec struct {
	desc      cluster.JobDescriptor
	start     time.Time
	state     cluster.JobState
	cancelled bool
}

// Client is the in-process adapter.
type Client struct {
	mu         sync.Mutex
	defaults   Behavior
	behaviors  map[string]Behavior // by variant id
	jobs       map[cluster.Handle]*jobRec
	failsSoFar map[string]int // transient failures already delivered, by variant id
	running    int
	maxRunning int
	results    objstore.Store // optional: successful jobs deposit a result object
}

var _ cluster.Client = (*Client)(nil)

// New creates a Client whose jobs all succeed immediately by default.
func New() *Client {
	return &Client{
		behaviors:  make(map[string]Behavior),
		jobs:       make(map[cluster.Handle]*jobRec),
		failsSoFar: make(map[string]int),
	}
}

// WithResults makes successful jobs write a marker object under their result
// prefix, so archiver tests have something to stream.
func (c *Client) WithResults(store objstore.Store) *Client {
	c.results = store
	return c
}

// SetDefaultBehavior applies b to variants without a specific behavior.
func (c *Client) SetDefaultBehavior(b Behavior) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = b
}

// SetBehavior scripts the resolution of one variant's jobs.
func (c *Client) SetBehavior(variantID string, b Behavior) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviors[variantID] = b
}

// Submit records the job as Running.
func (c *Client) Submit(ctx context.Context, desc cluster.JobDescriptor) (cluster.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	h := cluster.Handle(desc.Name)
	if _, exists := c.jobs[h]; exists {
		return "", fmt.Errorf("duplicate job name %s", desc.Name)
	}
	c.jobs[h] = &jobRec{desc: desc, start: time.Now(), state: cluster.StateRunning}
	c.running++
	if c.running > c.maxRunning {
		c.maxRunning = c.running
	}
	return h, nil
}

// Poll resolves the job once its scripted run duration has elapsed.
func (c *Client) Poll(ctx context.Context, h cluster.Handle) (cluster.JobState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.jobs[h]
	if !ok {
		return "", fmt.Errorf("unknown job handle %s", h)
	}
	if rec.state != cluster.StateRunning {
		return rec.state, nil
	}

	b, ok := c.behaviors[rec.desc.VariantID]
	if !ok {
		b = c.defaults
	}

	if rec.cancelled {
		c.finish(rec, cluster.StateFailed)
		return rec.state, nil
	}
	if b.Hang {
		return cluster.StateRunning, nil
	}
	if time.Since(rec.start) < b.RunDuration {
		return cluster.StateRunning, nil
	}

	switch {
	case b.AlwaysFail:
		c.finish(rec, cluster.StateFailed)
	case c.failsSoFar[rec.desc.VariantID] < b.FailuresBeforeSuccess:
		c.failsSoFar[rec.desc.VariantID]++
		c.finish(rec, cluster.StateFailed)
	default:
		c.finish(rec, cluster.StateSucceeded)
		if c.results != nil {
			key := rec.desc.ResultPrefix + "output.json"
			body := fmt.Sprintf(`{"variant_id":%q,"job":%q}`, rec.desc.VariantID, rec.desc.Name)
			// Deposit outside the lock is unnecessary: MemStore never blocks.
			c.results.Upload(context.Background(), key, strings.NewReader(body), int64(len(body)), "application/json")
		}
	}
	return rec.state, nil
}

// Cancel marks the job for failure on its next poll.
func (c *Client) Cancel(ctx context.Context, h cluster.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.jobs[h]; ok {
		rec.cancelled = true
	}
	return nil
}

// finish transitions rec to a terminal state exactly once.
func (c *Client) finish(rec *jobRec, state cluster.JobState) {
	rec.state = state
	c.running--
}

// MaxRunning reports the peak number of simultaneously running jobs.
func (c *Client) MaxRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxRunning
}

// Submitted reports how many jobs were submitted in total.
func (c *Client) Submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}
