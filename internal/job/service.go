package job

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/observability"
)

// Validation limits of the compute service.
const (
	maxNameLength    = 128
	maxRetryAttempts = 10
	maxDependencies  = 20
	minTimeout       = 60 * time.Second
	describePageSize = 100
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// DefaultTerminateReason is sent when the caller gives no reason.
const DefaultTerminateReason = "Terminated by batchctl"

// EventSource is the CloudEvent source of job notifications.
const EventSource = "batchctl"

// Defaults fill unset request fields.
type Defaults struct {
	Queue         string
	Image         string
	VCPUs         int32
	MemoryMB      int32
	Ulimits       []Ulimit
	RetryAttempts int32
	JobRole       string
	LogGroups     []string // ensured before every submission
}

func (d Defaults) withDefaults() Defaults {
	if d.Queue == "" {
		d.Queue = "batchctl"
	}
	if d.Image == "" {
		d.Image = "ubuntu"
	}
	if d.VCPUs <= 0 {
		d.VCPUs = 1
	}
	if d.MemoryMB <= 0 {
		d.MemoryMB = 1024
	}
	if d.RetryAttempts <= 0 {
		d.RetryAttempts = 1
	}
	if d.JobRole == "" {
		d.JobRole = "batchctl.worker"
	}
	if d.LogGroups == nil {
		d.LogGroups = []string{"docker", "syslog"}
	}
	return d
}

// Service submits and inspects jobs.
type Service struct {
	builder     SpecBuilder
	provisioner Provisioner
	backend     Backend
	lookup      *Lookup
	watcher     Watcher
	outputs     OutputStore
	notifier    Notifier
	events      []string
	metrics     *observability.Metrics
	defaults    Defaults
}

// ServiceConfig wires a Service. Snapshots, Watcher, Outputs, Notifier and
// Metrics are optional.
type ServiceConfig struct {
	Builder     SpecBuilder
	Provisioner Provisioner
	Backend     Backend
	Snapshots   SnapshotStore
	Watcher     Watcher
	Outputs     OutputStore
	Notifier    Notifier
	Events      []string // event types to notify; empty means all
	Metrics     *observability.Metrics
	Defaults    Defaults
}

// NewService creates a new job service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		builder:     cfg.Builder,
		provisioner: cfg.Provisioner,
		backend:     cfg.Backend,
		lookup:      NewLookup(cfg.Backend, cfg.Snapshots),
		watcher:     cfg.Watcher,
		outputs:     cfg.Outputs,
		notifier:    cfg.Notifier,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		defaults:    cfg.Defaults.withDefaults(),
	}
}

// Submit builds, registers and submits a job.
// Note: This method applies defaults to the request before validation.
func (s *Service) Submit(ctx context.Context, req *Request) (*SubmitResult, error) {
	applyDefaults(req, s.defaults)
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Wait == WaitWatch && s.watcher == nil {
		return nil, apperrors.Validation("wait", "watching a job needs a configured watcher")
	}

	logger := slog.With("queue", req.Queue, "payload", req.Payload.Kind().String())

	if !req.DryRun {
		for _, group := range s.defaults.LogGroups {
			if err := s.provisioner.EnsureLogGroup(ctx, group); err != nil {
				return nil, err
			}
		}
	}

	spec, err := s.builder.Build(ctx, req)
	if err != nil {
		logger.Error("Job spec build failed", "error", err)
		return nil, err
	}

	if req.DefinitionARN == "" && !req.DryRun {
		def, err := s.provisioner.EnsureJobDefinition(ctx, req, spec)
		if err != nil {
			return nil, err
		}
		req.DefinitionARN = def.ARN
		if req.Name == "" {
			req.Name = fmt.Sprintf("%s_%d", def.Name, def.Revision)
		}
	}
	if req.Name == "" {
		req.Name = nameFromDefinition(req.DefinitionARN)
	}

	sub := &Submission{
		Name:        req.Name,
		Queue:       req.Queue,
		Definition:  req.DefinitionARN,
		DependsOn:   req.DependsOn,
		Parameters:  req.Parameters,
		Command:     spec.Command(),
		Environment: spec.Environment,
		Timeout:     req.Timeout,
	}

	result := &SubmitResult{JobName: sub.Name, Definition: sub.Definition, Spec: spec}
	if req.DryRun {
		logger.Info("Dry run succeeded", "jobName", sub.Name)
		result.DryRun = true
		return result, nil
	}

	jobID, jobARN, err := s.submit(ctx, sub, logger)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSubmitError(ctx, req.Queue)
		}
		return nil, err
	}
	result.JobID, result.JobARN = jobID, jobARN

	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx, req.Queue, req.Payload.Kind().String())
	}
	logger = logger.With("jobId", jobID)
	logger.Info("Job submitted", "jobName", sub.Name)

	if s.notifier != nil && FilteredEvents(EventTypeSubmitted, s.events) {
		event := NewEventBuilder(jobID, EventSource).BuildSubmittedEvent(result, req.Queue)
		if err := s.notifier.Notify(event); err != nil {
			logger.Warn("Submitted event not queued", "error", err)
		}
	}

	if req.Wait == WaitWatch {
		final, err := s.watcher.Watch(ctx, jobID)
		if err != nil {
			return result, err
		}
		result.Final = final
		if req.Payload.Kind() == PayloadWorkflow && s.outputs != nil {
			outputs, err := s.outputs.Outputs(ctx, jobID)
			if err != nil {
				logger.Warn("Workflow outputs unavailable", "error", err)
			} else {
				result.Outputs = outputs
			}
		}
	}
	return result, nil
}

// submit sends sub, creating the queue and retrying once if the service
// reports it missing.
func (s *Service) submit(ctx context.Context, sub *Submission, logger *slog.Logger) (string, string, error) {
	jobID, jobARN, err := s.backend.Submit(ctx, sub)
	if err == nil || !apperrors.IsQueueNotFound(err) {
		return jobID, jobARN, err
	}

	logger.Warn("Job queue not found, creating it", "error", err)
	if err := s.provisioner.EnsureQueue(ctx, sub.Queue); err != nil {
		return "", "", err
	}
	return s.backend.Submit(ctx, sub)
}

// Describe returns the description of a job, from a snapshot if the live
// record has expired.
func (s *Service) Describe(ctx context.Context, jobID string) (*Description, error) {
	return s.lookup.Describe(ctx, jobID)
}

// Terminate stops a job.
func (s *Service) Terminate(ctx context.Context, jobID, reason string) error {
	if reason == "" {
		reason = DefaultTerminateReason
	}
	logger := slog.With("jobId", jobID)
	if err := s.backend.Terminate(ctx, jobID, reason); err != nil {
		logger.Error("Job termination failed", "error", err)
		return err
	}
	logger.Info("Job terminated", "reason", reason)
	return nil
}

// List describes the jobs in queues with one of statuses. Empty queues
// means every queue; empty statuses means every status.
func (s *Service) List(ctx context.Context, queues []string, statuses []Status) ([]Description, error) {
	if len(queues) == 0 {
		var err error
		if queues, err = s.backend.ListQueues(ctx); err != nil {
			return nil, err
		}
	}
	if len(statuses) == 0 {
		statuses = Statuses
	}

	var ids []string
	for _, q := range queues {
		for _, st := range statuses {
			found, err := s.backend.ListJobIDs(ctx, q, st)
			if err != nil {
				return nil, err
			}
			ids = append(ids, found...)
		}
	}

	descs := make([]Description, 0, len(ids))
	for start := 0; start < len(ids); start += describePageSize {
		end := min(start+describePageSize, len(ids))
		page, err := s.backend.Describe(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		descs = append(descs, page...)
	}
	return descs, nil
}

// applyDefaults sets default values for unspecified request fields.
func applyDefaults(req *Request, d Defaults) {
	if req.Queue == "" {
		req.Queue = d.Queue
	}
	r := &req.Resources
	if r.Image == "" {
		r.Image = d.Image
	}
	if r.VCPUs <= 0 {
		r.VCPUs = d.VCPUs
	}
	if r.MemoryMB <= 0 {
		r.MemoryMB = d.MemoryMB
	}
	if r.Ulimits == nil {
		r.Ulimits = d.Ulimits
	}
	if r.JobRole == "" {
		r.JobRole = d.JobRole
	}
	if req.RetryAttempts <= 0 {
		req.RetryAttempts = d.RetryAttempts
	}
}

// validate validates a job request. Does not modify the request.
func validate(req *Request) error {
	if req.Name != "" {
		if len(req.Name) > maxNameLength {
			return apperrors.Validation("name", fmt.Sprintf("job name exceeds maximum length of %d", maxNameLength))
		}
		if !namePattern.MatchString(req.Name) {
			return apperrors.Validation("name", "job name must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
		}
	}
	if req.Queue == "" {
		return apperrors.Validation("queue", "queue is required")
	}

	switch req.Payload.Kind() {
	case PayloadCommand:
	case PayloadExecutable:
		if len(req.Payload.Executable()) == 0 {
			return apperrors.Validation("payload", "executable is empty")
		}
	case PayloadWorkflow:
		if req.Payload.Workflow().Path == "" {
			return apperrors.Validation("payload", "workflow definition path is required")
		}
	default:
		return apperrors.Validation("payload", "exactly one of command, executable or workflow is required")
	}

	if req.Wait == WaitBlock {
		return apperrors.Unimplemented("wait mode")
	}

	seen := make(map[string]bool, len(req.Environment))
	for _, env := range req.Environment {
		if env.Name == "" {
			return apperrors.Validation("environment", "environment variable name is required")
		}
		if seen[env.Name] {
			return apperrors.Validation("environment", fmt.Sprintf("duplicate environment variable %q", env.Name))
		}
		seen[env.Name] = true
	}

	mounts := make(map[string]bool, len(req.BlockStorage))
	for _, m := range req.BlockStorage {
		if !path.IsAbs(m.Mountpoint) {
			return apperrors.Validation("storage", fmt.Sprintf("mountpoint %q must be absolute", m.Mountpoint))
		}
		if mounts[m.Mountpoint] {
			return apperrors.Validation("storage", fmt.Sprintf("duplicate mountpoint %q", m.Mountpoint))
		}
		mounts[m.Mountpoint] = true
		if m.SizeGB <= 0 {
			return apperrors.Validation("storage", fmt.Sprintf("size for %q must be positive", m.Mountpoint))
		}
	}
	if sm := req.SharedStorage; sm != nil && !path.IsAbs(sm.Mountpoint) {
		return apperrors.Validation("efsStorage", fmt.Sprintf("mountpoint %q must be absolute", sm.Mountpoint))
	}

	for _, v := range req.Resources.Volumes {
		if v.HostPath == "" || v.ContainerPath == "" {
			return apperrors.Validation("volumes", "volumes need both a host and a container path")
		}
	}
	if req.RetryAttempts > maxRetryAttempts {
		return apperrors.Validation("retryAttempts", fmt.Sprintf("retry attempts exceed maximum of %d", maxRetryAttempts))
	}
	if req.Timeout != 0 && req.Timeout < minTimeout {
		return apperrors.Validation("timeout", fmt.Sprintf("timeout must be at least %s", minTimeout))
	}
	if len(req.DependsOn) > maxDependencies {
		return apperrors.Validation("dependsOn", fmt.Sprintf("dependencies exceed maximum of %d", maxDependencies))
	}
	return nil
}

// nameFromDefinition turns "arn:...:job-definition/name:3" into "name_3".
func nameFromDefinition(arn string) string {
	base := arn[strings.LastIndex(arn, "/")+1:]
	if base == "" {
		return "batchctl"
	}
	return strings.ReplaceAll(base, ":", "_")
}
