package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDocker struct {
	mu       sync.Mutex
	hasImage bool
	pulled   []string
	created  *container.Config
	host     *container.HostConfig
	name     string
	stdout   string
	stderr   string
	exitCode int64
	block    bool
	stopped  []string
	removed  []string
}

func (f *fakeDocker) Ping(context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeDocker) ImageInspect(context.Context, string, ...client.ImageInspectOption) (image.InspectResponse, error) {
	if !f.hasImage {
		return image.InspectResponse{}, errors.New("no such image")
	}
	return image.InspectResponse{}, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.created, f.host, f.name = cfg, host, name
	return container.CreateResponse{ID: "c-1"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error { return nil }

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if !f.block {
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func localSpec() *job.Spec {
	return &job.Spec{
		Preamble:    []string{"/bin/bash", "-c", `for i in "$@"; do eval "$i"; done`, "batchctl"},
		Tail:        []string{"echo hello"},
		Environment: []job.EnvVar{{Name: "GREETING", Value: "hi"}},
		Resources: job.Resources{
			Image:    "ubuntu",
			VCPUs:    2,
			MemoryMB: 512,
			Ulimits:  []job.Ulimit{{Name: "nofile", Value: 100000}},
			Volumes:  []job.Volume{{HostPath: "/tmp", ContainerPath: "/scratch"}},
		},
	}
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()
	api := &fakeDocker{stdout: "hello\n", stderr: "warning\n", exitCode: 3}
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithAPI(api, Config{Stdout: &stdout, Stderr: &stderr})

	res, err := r.Run(context.Background(), localSpec())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 || res.ContainerID != "c-1" {
		t.Errorf("Run() = %+v", res)
	}
	if stdout.String() != "hello\n" || stderr.String() != "warning\n" {
		t.Errorf("stdout %q stderr %q", stdout.String(), stderr.String())
	}

	if !slices.Equal(api.pulled, []string{"ubuntu"}) {
		t.Errorf("pulled = %v", api.pulled)
	}
	if got := api.created.Cmd; len(got) != 5 || got[4] != "echo hello" {
		t.Errorf("cmd = %v", got)
	}
	if !slices.Contains(api.created.Env, "GREETING=hi") || !strings.HasPrefix(api.created.Env[0], "AWS_BATCH_JOB_ID=local-") {
		t.Errorf("env = %v", api.created.Env)
	}
	if !strings.HasPrefix(api.name, "batchctl-local-") || api.created.Labels["managed-by"] != "batchctl" {
		t.Errorf("name %q labels %v", api.name, api.created.Labels)
	}
	h := api.host
	if h.NanoCPUs != 2e9 || h.Memory != 512*1024*1024 || !slices.Equal(h.Binds, []string{"/tmp:/scratch"}) {
		t.Errorf("host config = %+v", h)
	}
	if len(h.Ulimits) != 1 || h.Ulimits[0].Hard != 100000 {
		t.Errorf("ulimits = %+v", h.Ulimits)
	}
	if !slices.Equal(api.removed, []string{"c-1"}) {
		t.Errorf("removed = %v", api.removed)
	}
	if len(r.state.list()) != 0 {
		t.Error("finished run still tracked")
	}
}

func TestRunner_KeepAndCachedImage(t *testing.T) {
	t.Parallel()
	api := &fakeDocker{hasImage: true}
	r := NewRunnerWithAPI(api, Config{Keep: true, Stdout: io.Discard, Stderr: io.Discard})

	if _, err := r.Run(context.Background(), localSpec()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(api.pulled) != 0 {
		t.Error("present image must not be pulled")
	}
	if len(api.removed) != 0 {
		t.Error("kept container was removed")
	}
}

func TestRunner_RejectsStorageBootstrap(t *testing.T) {
	t.Parallel()
	spec := localSpec()
	spec.Bootstrap = []string{"mount /dev/xvdf /scratch"}
	r := NewRunnerWithAPI(&fakeDocker{}, Config{})

	if _, err := r.Run(context.Background(), spec); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRunner_CancelStopsContainer(t *testing.T) {
	t.Parallel()
	api := &fakeDocker{block: true}
	r := NewRunnerWithAPI(api, Config{Stdout: io.Discard, Stderr: io.Discard})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, localSpec()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !slices.Equal(api.stopped, []string{"c-1"}) || !slices.Equal(api.removed, []string{"c-1"}) {
		t.Errorf("stopped %v removed %v", api.stopped, api.removed)
	}
}
