// Package jobspec turns a submission request into the container command and
// environment a job runs with.
package jobspec

import (
	"context"
	"encoding/base64"
	"log/slog"
	"slices"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"
	"batchctl/internal/staging"
)

// Environment variables injected by the builder.
const (
	EFSDescEnv     = "BATCHCTL_EFS_DESC"
	StagingURLEnv  = "BATCHCTL_S3_BASE_URL"
	WorkflowDefEnv = "BATCHCTL_WORKFLOW_DEF_B64"
	WorkflowJobEnv = "BATCHCTL_WORKFLOW_JOB_B64"
)

// DefaultURLExpiry is how long a staged executable stays downloadable.
const DefaultURLExpiry = 7 * 24 * time.Hour

// Stager stores payloads under content-addressed keys.
type Stager interface {
	Bucket() string
	Put(ctx context.Context, key string, content []byte) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Prerequisites creates the bucket and table workflow and executable jobs
// write to.
type Prerequisites interface {
	EnsureBucket(ctx context.Context, name string) error
	EnsureTable(ctx context.Context, name, hashKey string) error
}

// Config wires a Builder. Filesystems, Stager and Prerequisites are only
// needed for the request shapes that use them.
type Config struct {
	Filesystems   *FilesystemResolver
	Stager        Stager
	Prerequisites Prerequisites
	Preprocessor  Preprocessor
	Runner        string // workflow interpreter on the instance (default: cwltool)
	StatusTable   string // default: batchctl-jobs
	URLExpiry     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Runner == "" {
		c.Runner = "cwltool"
	}
	if c.StatusTable == "" {
		c.StatusTable = "batchctl-jobs"
	}
	if c.URLExpiry <= 0 {
		c.URLExpiry = DefaultURLExpiry
	}
	return c
}

// Builder assembles job specs.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg.withDefaults()}
}

// StatusTableHashKey is the partition key of the workflow status table.
const StatusTableHashKey = "job_id"

// Build derives the spec for req. Storage comes first (block volumes win
// over a shared filesystem), then the payload. With req.DryRun nothing is
// uploaded or created, but lookups still run.
func (b *Builder) Build(ctx context.Context, req *job.Request) (*job.Spec, error) {
	spec := &job.Spec{
		Preamble:    append(slices.Clone(Preamble), envPrologue...),
		Environment: slices.Clone(req.Environment),
		Resources:   req.Resources,
	}
	spec.Resources.Volumes = slices.Clone(req.Resources.Volumes)

	var boot script
	switch {
	case len(req.BlockStorage) > 0:
		spec.Resources.Privileged = true
		if !slices.ContainsFunc(spec.Resources.Volumes, func(v job.Volume) bool { return v.HostPath == "/dev" }) {
			spec.Resources.Volumes = append(spec.Resources.Volumes, job.Volume{HostPath: "/dev", ContainerPath: "/dev"})
		}
		boot = append(boot, blockPrelude()...)
		for i, m := range req.BlockStorage {
			boot = append(boot, blockVolume(i, m)...)
		}
	case req.SharedStorage != nil:
		if b.cfg.Filesystems == nil {
			return nil, apperrors.Validation("efsStorage", "shared filesystems are not configured")
		}
		spec.Resources.Privileged = true
		targets, err := b.cfg.Filesystems.MountTargets(ctx, req.SharedStorage.Filesystem)
		if err != nil {
			return nil, err
		}
		spec.Environment = append(spec.Environment, job.EnvVar{Name: EFSDescEnv, Value: targets})
		boot = append(boot, sharedFilesystem(req.SharedStorage.Mountpoint)...)
	}

	switch req.Payload.Kind() {
	case job.PayloadCommand:
		spec.Tail = req.Payload.Command()
	case job.PayloadExecutable:
		lines, err := b.stageExecutable(ctx, req.Payload.Executable(), req.DryRun)
		if err != nil {
			return nil, err
		}
		boot = append(boot, lines...)
	case job.PayloadWorkflow:
		env, lines, err := b.workflow(ctx, req.Payload.Workflow(), req.DryRun)
		if err != nil {
			return nil, err
		}
		spec.Environment = append(spec.Environment, env...)
		boot = append(boot, lines...)
	default:
		return nil, apperrors.Validation("payload", "exactly one of command, executable or workflow is required")
	}

	spec.Bootstrap = boot
	return spec, nil
}

func (b *Builder) stageExecutable(ctx context.Context, content []byte, dryRun bool) (script, error) {
	if b.cfg.Stager == nil {
		return nil, apperrors.Validation("executable", "staging bucket is not configured")
	}
	key := staging.Key(content)
	logger := slog.With("bucket", b.cfg.Stager.Bucket(), "key", key)

	if !dryRun {
		if b.cfg.Prerequisites != nil {
			if err := b.cfg.Prerequisites.EnsureBucket(ctx, b.cfg.Stager.Bucket()); err != nil {
				return nil, err
			}
		}
		if err := b.cfg.Stager.Put(ctx, key, content); err != nil {
			return nil, err
		}
		logger.Info("Executable staged", "size", len(content))
	}

	url, err := b.cfg.Stager.PresignGet(ctx, key, b.cfg.URLExpiry)
	if err != nil {
		return nil, err
	}
	return fetchExecutable(url), nil
}

func (b *Builder) workflow(ctx context.Context, wf *job.Workflow, dryRun bool) ([]job.EnvVar, script, error) {
	if b.cfg.Preprocessor == nil {
		return nil, nil, apperrors.Validation("workflow", "workflow preprocessor is not configured")
	}
	if b.cfg.Stager == nil {
		return nil, nil, apperrors.Validation("workflow", "staging bucket is not configured")
	}

	def, err := b.cfg.Preprocessor.Preprocess(ctx, wf.Path)
	if err != nil {
		return nil, nil, err
	}

	if !dryRun && b.cfg.Prerequisites != nil {
		if err := b.cfg.Prerequisites.EnsureTable(ctx, b.cfg.StatusTable, StatusTableHashKey); err != nil {
			return nil, nil, err
		}
		if err := b.cfg.Prerequisites.EnsureBucket(ctx, b.cfg.Stager.Bucket()); err != nil {
			return nil, nil, err
		}
	}

	env := []job.EnvVar{
		{Name: StagingURLEnv, Value: "s3://" + b.cfg.Stager.Bucket()},
		{Name: WorkflowDefEnv, Value: base64.StdEncoding.EncodeToString(def)},
		{Name: WorkflowJobEnv, Value: base64.StdEncoding.EncodeToString(wf.Input)},
	}
	return env, runWorkflow(b.cfg.Runner, b.cfg.StatusTable), nil
}

var _ job.SpecBuilder = (*Builder)(nil)
