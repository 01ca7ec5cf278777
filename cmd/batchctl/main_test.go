package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/config"
	"batchctl/internal/job"
)

func readFiles(files map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		content, ok := files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(content), nil
	}
}

func TestSubmitOptions_Request(t *testing.T) {
	t.Parallel()
	o := submitOptions{
		name:          "hello",
		queue:         "q",
		env:           []string{"A=1", "B=x=y"},
		storage:       []string{"/scratch=100G"},
		ulimits:       []string{"nofile:4096"},
		volumes:       []string{"/data=/mnt/data"},
		timeout:       "2h",
		parameters:    []string{"k=v"},
		dependsOn:     []string{"j-0"},
		retryAttempts: 3,
		watch:         true,
	}
	req, err := o.request([]string{"echo hi", "date"}, nil, nil)
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}

	if req.Payload.Kind() != job.PayloadCommand || !slices.Equal(req.Payload.Command(), []string{"echo hi", "date"}) {
		t.Errorf("payload = %v %v", req.Payload.Kind(), req.Payload.Command())
	}
	if len(req.Environment) != 2 || req.Environment[1] != (job.EnvVar{Name: "B", Value: "x=y"}) {
		t.Errorf("environment = %+v", req.Environment)
	}
	if len(req.BlockStorage) != 1 || req.BlockStorage[0].SizeGB != 100 {
		t.Errorf("block storage = %+v", req.BlockStorage)
	}
	if req.Timeout != 2*time.Hour {
		t.Errorf("timeout = %s", req.Timeout)
	}
	if req.Parameters["k"] != "v" || req.Wait != job.WaitWatch || req.RetryAttempts != 3 {
		t.Errorf("unexpected request %+v", req)
	}
	if len(req.Resources.Ulimits) != 1 || req.Resources.Ulimits[0].Value != 4096 {
		t.Errorf("ulimits = %+v", req.Resources.Ulimits)
	}
	if len(req.Resources.Volumes) != 1 || req.Resources.Volumes[0].ContainerPath != "/mnt/data" {
		t.Errorf("volumes = %+v", req.Resources.Volumes)
	}
}

func TestSubmitOptions_Payloads(t *testing.T) {
	t.Parallel()
	files := readFiles(map[string]string{
		"run.sh":   "#!/bin/sh\necho hi\n",
		"wf.cwl":   "class: CommandLineTool\n",
		"job.yaml": "x: 1\n",
	})

	tests := []struct {
		name       string
		opts       submitOptions
		statements []string
		kind       job.PayloadKind
		wantErr    error
	}{
		{"executable", submitOptions{executable: "run.sh"}, nil, job.PayloadExecutable, nil},
		{"workflow", submitOptions{workflow: "wf.cwl", workflowInput: "job.yaml"}, nil, job.PayloadWorkflow, nil},
		{"none", submitOptions{}, nil, 0, apperrors.ErrValidation},
		{"two", submitOptions{executable: "run.sh"}, []string{"echo"}, 0, apperrors.ErrValidation},
		{"missing file", submitOptions{executable: "nope.sh"}, nil, 0, apperrors.ErrValidation},
		{"input without workflow", submitOptions{workflowInput: "job.yaml"}, []string{"echo"}, 0, apperrors.ErrValidation},
		{"bad env", submitOptions{env: []string{"=1"}}, []string{"echo"}, 0, apperrors.ErrValidation},
		{"bad timeout", submitOptions{timeout: "soon"}, []string{"echo"}, 0, apperrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := tt.opts.request(tt.statements, files, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("request() error = %v", err)
			}
			if req.Payload.Kind() != tt.kind {
				t.Errorf("kind = %v, want %v", req.Payload.Kind(), tt.kind)
			}
		})
	}
}

func TestSubmitOptions_WorkflowInputFromStdin(t *testing.T) {
	t.Parallel()
	o := submitOptions{workflow: "wf.cwl"}

	req, err := o.request(nil, readFiles(nil), strings.NewReader("reads: 10\n"))
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if got := string(req.Payload.Workflow().Input); got != "reads: 10\n" {
		t.Errorf("input = %q, want the stdin document", got)
	}

	for name, stdin := range map[string]io.Reader{"empty stdin": strings.NewReader("  \n"), "no stdin": nil} {
		if _, err := o.request(nil, readFiles(nil), stdin); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("%s: error = %v, want validation", name, err)
		}
	}
}

func TestSubmitOptions_WaitIsUnimplemented(t *testing.T) {
	t.Parallel()
	o := submitOptions{wait: true}
	req, err := o.request([]string{"echo"}, nil, nil)
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if req.Wait != job.WaitBlock {
		t.Errorf("wait = %v, want WaitBlock", req.Wait)
	}
}

func TestSubmitOutput_DryRunShowsCommand(t *testing.T) {
	t.Parallel()
	spec := &job.Spec{Preamble: []string{"/bin/bash"}, Tail: []string{"echo"}, Environment: []job.EnvVar{{Name: "A", Value: "1"}}}

	dry := submitOutput(&job.SubmitResult{DryRun: true, Spec: spec})
	if !slices.Equal(dry.Command, []string{"/bin/bash", "echo"}) || len(dry.Environment) != 1 {
		t.Errorf("dry run output = %+v", dry)
	}
	live := submitOutput(&job.SubmitResult{JobID: "j-1", Spec: spec})
	if live.Command != nil {
		t.Errorf("live submission should not echo the command, got %v", live.Command)
	}
}

func TestParseStatuses(t *testing.T) {
	t.Parallel()
	got, err := parseStatuses([]string{"running", "FAILED"})
	if err != nil {
		t.Fatalf("parseStatuses() error = %v", err)
	}
	if !slices.Equal(got, []job.Status{job.StatusRunning, job.StatusFailed}) {
		t.Errorf("got %v", got)
	}
	if _, err := parseStatuses([]string{"sleeping"}); err == nil {
		t.Error("expected an error for an unknown status")
	}
}

func TestJobFailed(t *testing.T) {
	t.Parallel()
	err := jobFailed(&job.Description{ID: "j-1", StatusReason: "Essential container exited\n"})
	if err.Error() != "job j-1 failed: Essential container exited" {
		t.Errorf("error = %q", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitFailure {
		t.Errorf("exit code = %d", apperrors.ExitCode(err))
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Errorf("unexpected log output %q", buf.String())
	}

	if _, err := newLogger(io.Discard, "loud", "json"); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("bad level error = %v", err)
	}
	if _, err := newLogger(io.Discard, "info", "xml"); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("bad format error = %v", err)
	}
}

func TestLocalSpec(t *testing.T) {
	t.Parallel()
	a := &app{cfg: config.Defaults()}

	spec, err := a.localSpec(context.Background(), &submitOptions{env: []string{"A=1"}}, []string{"echo hi"})
	if err != nil {
		t.Fatalf("localSpec() error = %v", err)
	}
	if spec.Resources.Image != "ubuntu" {
		t.Errorf("image = %q, want the configured default", spec.Resources.Image)
	}
	if len(spec.Resources.Ulimits) != 1 || spec.Resources.Ulimits[0].Name != "nofile" {
		t.Errorf("ulimits = %+v", spec.Resources.Ulimits)
	}
	if len(spec.Bootstrap) != 0 {
		t.Errorf("command jobs need no bootstrap, got %v", spec.Bootstrap)
	}
	cmd := spec.Command()
	if cmd[len(cmd)-1] != "echo hi" {
		t.Errorf("command = %v", cmd)
	}
}

func TestRootCommand_RegistersCommands(t *testing.T) {
	t.Parallel()
	root, _ := newRootCommand(io.Discard)
	want := []string{
		"queues", "create-queue", "delete-queue",
		"compute-environments", "create-compute-environment", "delete-compute-environment",
		"submit", "terminate", "ls", "describe", "get-logs", "watch",
		"run-local", "check", "serve",
	}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
