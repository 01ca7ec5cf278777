// Package job defines submission requests, job descriptions, and the
// service that submits and inspects jobs on the compute backend.
package job

import (
	"context"
	"time"

	"batchctl/pkg/cloudevent"
)

// SpecBuilder turns a request into the container invocation.
type SpecBuilder interface {
	Build(ctx context.Context, req *Request) (*Spec, error)
}

// Provisioner creates the remote resources a submission depends on.
// Every method is idempotent.
type Provisioner interface {
	EnsureQueue(ctx context.Context, name string) error
	EnsureJobDefinition(ctx context.Context, req *Request, spec *Spec) (*Definition, error)
	EnsureLogGroup(ctx context.Context, name string) error
}

// Submission is the payload sent to the compute service.
type Submission struct {
	Name        string
	Queue       string
	Definition  string
	DependsOn   []string
	Parameters  map[string]string
	Command     []string
	Environment []EnvVar
	Timeout     time.Duration
}

// Backend is the compute service.
//
// Describe returns only the jobs the service still knows about; a missing
// ID is not an error.
type Backend interface {
	Submit(ctx context.Context, sub *Submission) (jobID, jobARN string, err error)
	Describe(ctx context.Context, jobIDs []string) ([]Description, error)
	Terminate(ctx context.Context, jobID, reason string) error
	ListJobIDs(ctx context.Context, queue string, status Status) ([]string, error)
	ListQueues(ctx context.Context) ([]string, error)
}

// SnapshotStore keeps job descriptions past the service's retention.
// Load returns an apperrors.ErrNotFound error for unknown IDs.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, jobID string) (*Snapshot, error)
}

// Watcher follows a job until it finishes.
type Watcher interface {
	Watch(ctx context.Context, jobID string) (*Description, error)
}

// OutputStore returns the results a workflow job wrote to the status table.
type OutputStore interface {
	Outputs(ctx context.Context, jobID string) (map[string]any, error)
}

// Notifier queues lifecycle events for delivery. Notify must not block.
type Notifier interface {
	Notify(event *cloudevent.CloudEvent) error
}
