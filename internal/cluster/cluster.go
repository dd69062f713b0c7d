// Package cluster defines the narrow capability interface the dispatcher
// needs from a cluster scheduler.
//
// The dispatcher's retry and concurrency logic depends only on Client; any
// concrete scheduler API is an adapter implementing it. Two adapters ship
// with the engine: redis (Redis Streams, production) and local (in-process
// double for tests).
package cluster

import (
	"context"
	"time"
)

// JobState is the scheduler-reported state of one submitted job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Handle identifies a submitted job on the cluster side. Opaque to the
// dispatcher beyond equality.
type Handle string

// JobDescriptor is everything the cluster needs to execute one variant in
// isolation: the variant's assignment as the sole input, the object-storage
// prefix where results must land, and the retry/timeout policy.
type JobDescriptor struct {
	Name         string         `json:"name"` // cluster job name, unique per attempt
	RunID        string         `json:"run_id"`
	VariantID    string         `json:"variant_id"`
	Assignment   map[string]any `json:"assignment"`
	ResultPrefix string         `json:"result_prefix"` // {run_id}/{variant_id}/
	Timeout      time.Duration  `json:"timeout"`
}

// Client is the scheduler capability interface.
type Client interface {
	// Submit hands one job descriptor to the scheduler and returns a handle
	// for polling.
	Submit(ctx context.Context, desc JobDescriptor) (Handle, error)

	// Poll reports the current state of a submitted job.
	Poll(ctx context.Context, h Handle) (JobState, error)

	// Cancel requests cancellation of a submitted job. Best effort: the
	// cluster side is not guaranteed to stop instantaneously.
	Cancel(ctx context.Context, h Handle) error
}
