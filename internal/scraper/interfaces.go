package scraper

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by stores when a job or artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by queues that no longer accept or hold work.
	ErrQueueClosed = errors.New("queue closed")
)

// JobStore keeps every job of the process lifetime and tracks the current one.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	StartJob(ctx context.Context, jobID string, total int) error
	RecordRow(ctx context.Context, jobID, name string, outcome Outcome) error
	CompleteJob(ctx context.Context, jobID string, artifact Artifact) error
	FailJob(ctx context.Context, jobID string, status JobStatus, errText string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	CurrentJob(ctx context.Context) (Job, error)
	// ListJobs returns jobs newest first; a nil status matches every job.
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]Job, error)
}

// ArtifactStore persists output workbooks.
type ArtifactStore interface {
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
	OpenObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests of stored artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
