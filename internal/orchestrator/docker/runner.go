// Package docker runs a built job spec in a local Docker container, for
// trying a job before it goes to the compute service.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// API is the part of the Docker client the runner uses.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Result is the outcome of a local run.
type Result struct {
	RunID       string `json:"runId"`
	ContainerID string `json:"containerId"`
	ExitCode    int    `json:"exitCode"`
}

// Runner runs job specs on the local Docker daemon.
type Runner struct {
	api   API
	cfg   Config
	state *stateRepo
}

// NewRunner connects to the Docker daemon.
func NewRunner(cfg Config) (*Runner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewRunnerWithAPI(c, cfg), nil
}

// NewRunnerWithAPI creates a runner over an existing client.
func NewRunnerWithAPI(api API, cfg Config) *Runner {
	return &Runner{api: api, cfg: cfg.withDefaults(), state: newStateRepo()}
}

// Ready checks that the Docker daemon answers.
func (r *Runner) Ready(ctx context.Context) error {
	_, err := r.api.Ping(ctx)
	return err
}

// Run executes spec to completion, copying its output to the configured
// writers. Specs with storage bootstrap need a cloud instance and are
// rejected. On cancellation the container is stopped and ctx.Err returned.
func (r *Runner) Run(ctx context.Context, spec *job.Spec) (*Result, error) {
	if len(spec.Bootstrap) > 0 {
		return nil, apperrors.Validation("storage", "storage mounts need a cloud instance and cannot run locally")
	}

	runID := uuid.NewString()
	logger := slog.With("runId", runID, "image", spec.Resources.Image)
	if err := r.state.reserve(runID); err != nil {
		return nil, err
	}
	defer r.state.release(runID)

	if err := r.pullImageIfNeeded(ctx, spec.Resources.Image); err != nil {
		return nil, apperrors.Internal("docker.ImagePull", err)
	}

	name := "batchctl-local-" + runID[:8]
	id, err := r.createContainer(ctx, runID, name, spec)
	if err != nil {
		return nil, apperrors.Internal("docker.ContainerCreate", err)
	}
	r.state.commit(runID, &runState{containerID: id, name: name})
	defer r.cleanup(id)

	if err := r.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, apperrors.Internal("docker.ContainerStart", err)
	}
	logger.Info("Local run started", "container", name)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.streamLogs(ctx, logger, id)
	}()

	exitCode, err := r.waitForExit(ctx, id)
	if err != nil {
		r.stop(id)
		wg.Wait()
		return nil, err
	}
	wg.Wait()

	logger.Info("Local run finished", "exitCode", exitCode)
	return &Result{RunID: runID, ContainerID: id, ExitCode: exitCode}, nil
}

// Close stops any run still in progress and releases the client.
func (r *Runner) Close() error {
	for _, rs := range r.state.list() {
		if rs != nil {
			r.stop(rs.containerID)
		}
	}
	return r.api.Close()
}

func (r *Runner) createContainer(ctx context.Context, runID, name string, spec *job.Spec) (string, error) {
	env := make([]string, 0, len(spec.Environment)+1)
	env = append(env, "AWS_BATCH_JOB_ID=local-"+runID)
	for _, e := range spec.Environment {
		env = append(env, e.Name+"="+e.Value)
	}

	res := spec.Resources
	binds := make([]string, 0, len(res.Volumes))
	for _, v := range res.Volumes {
		binds = append(binds, v.HostPath+":"+v.ContainerPath)
	}
	ulimits := make([]*units.Ulimit, 0, len(res.Ulimits))
	for _, u := range res.Ulimits {
		ulimits = append(ulimits, &units.Ulimit{Name: u.Name, Soft: int64(u.Value), Hard: int64(u.Value)})
	}

	containerConfig := &container.Config{
		Image: res.Image,
		Cmd:   spec.Command(),
		Env:   env,
		Labels: map[string]string{
			"batchctl.run-id": runID,
			"managed-by":      "batchctl",
		},
	}
	hostConfig := &container.HostConfig{
		Privileged: res.Privileged,
		Binds:      binds,
		Resources: container.Resources{
			NanoCPUs: int64(res.VCPUs) * 1e9,
			Memory:   int64(res.MemoryMB) * 1024 * 1024,
			Ulimits:  ulimits,
		},
	}

	resp, err := r.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Runner) pullImageIfNeeded(ctx context.Context, ref string) error {
	if _, err := r.api.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	slog.Info("Pulling image", "image", ref)
	reader, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runner) streamLogs(ctx context.Context, logger *slog.Logger, id string) {
	logs, err := r.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.Error("Failed to get container logs", "error", err)
		return
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(r.cfg.Stdout, r.cfg.Stderr, logs); err != nil && ctx.Err() == nil {
		logger.Debug("Log stream ended", "error", err)
	}
}

func (r *Runner) waitForExit(ctx context.Context, id string) (int, error) {
	statusCh, errCh := r.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, apperrors.Internal("docker.ContainerWait", err)
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), apperrors.Internal("docker.ContainerWait", fmt.Errorf("%s", status.Error.Message))
		}
		return int(status.StatusCode), nil
	}
}

// stop uses a fresh context so a cancelled run still gets stopped.
func (r *Runner) stop(id string) {
	timeout := int(r.cfg.StopTimeout.Seconds())
	_ = r.api.ContainerStop(context.Background(), id, container.StopOptions{Timeout: &timeout})
}

func (r *Runner) cleanup(id string) {
	if r.cfg.Keep {
		return
	}
	_ = r.api.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
}

