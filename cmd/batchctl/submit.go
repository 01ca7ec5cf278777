package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"
	"batchctl/internal/jobspec"
	"batchctl/internal/provision"

	"github.com/spf13/cobra"
)

// submitOptions holds the submit flags. The zero value of a numeric flag
// leaves the configured default in place.
type submitOptions struct {
	name          string
	queue         string
	executable    string
	workflow      string
	workflowInput string
	env           []string
	storage       []string
	efsStorage    string
	image         string
	ecrImage      string
	vcpus         int32
	memoryMB      int32
	privileged    bool
	ulimits       []string
	volumes       []string
	retryAttempts int32
	timeout       string
	dependsOn     []string
	parameters    []string
	jobRole       string
	definition    string
	dryRun        bool
	watch         bool
	wait          bool
}

func newSubmitCommand(a *app) *cobra.Command {
	var o submitOptions
	cmd := &cobra.Command{
		Use:   "submit [flags] [-- STATEMENT...]",
		Short: "Submit a command, an executable or a workflow as a job",
		Long: `Submit a job. Exactly one payload is required: the statements after --,
--executable, or --workflow. Each statement runs in the same bash shell.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req, err := o.request(args, os.ReadFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if o.ecrImage != "" {
				image, err := a.ecrImage(ctx, o.ecrImage)
				if err != nil {
					return err
				}
				req.Resources.Image = image
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			res, err := svc.Submit(ctx, req)
			if res != nil {
				if perr := a.printJSON(submitOutput(res)); perr != nil && err == nil {
					err = perr
				}
			}
			if err != nil {
				return err
			}
			if res.Final != nil && res.Final.Status == job.StatusFailed {
				return jobFailed(res.Final)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.name, "name", "n", "", "job name (default: <definition>_<revision>)")
	f.StringVarP(&o.queue, "queue", "q", "", "job queue (default from config)")
	f.StringVarP(&o.executable, "executable", "x", "", "upload FILE and run it")
	f.StringVarP(&o.workflow, "workflow", "w", "", "run the workflow definition in FILE")
	f.StringVar(&o.workflowInput, "workflow-input", "", "input document for --workflow (default: read from stdin)")
	f.StringArrayVarP(&o.env, "env", "e", nil, "environment variable NAME=VALUE (repeatable)")
	f.StringArrayVarP(&o.storage, "storage", "s", nil, "attach a fresh EBS volume MOUNTPOINT=SIZE_GB (repeatable)")
	f.StringVar(&o.efsStorage, "efs-storage", "", "mount an EFS filesystem MOUNTPOINT[=ID_OR_NAME]")
	f.StringVarP(&o.image, "image", "i", "", "container image")
	f.StringVar(&o.ecrImage, "ecr-image", "", "image REPOSITORY:TAG in this account's ECR registry")
	f.Int32Var(&o.vcpus, "vcpus", 0, "vCPUs per job")
	f.Int32Var(&o.memoryMB, "memory", 0, "memory in MiB")
	f.BoolVar(&o.privileged, "privileged", false, "run the container privileged")
	f.StringArrayVar(&o.ulimits, "ulimit", nil, "ulimit NAME:VALUE (repeatable)")
	f.StringArrayVar(&o.volumes, "volume", nil, "host volume HOST_PATH=GUEST_PATH (repeatable)")
	f.Int32Var(&o.retryAttempts, "retry-attempts", 0, "attempts before the job fails")
	f.StringVar(&o.timeout, "timeout", "", "kill the job after this long, e.g. 90m or 2d")
	f.StringArrayVar(&o.dependsOn, "depends-on", nil, "job ID that must succeed first (repeatable)")
	f.StringArrayVarP(&o.parameters, "parameter", "p", nil, "job parameter NAME=VALUE (repeatable)")
	f.StringVar(&o.jobRole, "job-role", "", "IAM role name or ARN for the job")
	f.StringVar(&o.definition, "job-definition", "", "submit with this job definition instead of registering one")
	f.BoolVar(&o.dryRun, "dry-run", false, "build and print the job without submitting it")
	f.BoolVar(&o.watch, "watch", false, "follow status and logs until the job finishes")
	f.BoolVar(&o.wait, "wait", false, "block until the job finishes without output")
	cmd.MarkFlagsMutuallyExclusive("executable", "workflow")
	cmd.MarkFlagsMutuallyExclusive("watch", "wait")
	cmd.MarkFlagsMutuallyExclusive("image", "ecr-image")
	return cmd
}

// request turns the flags and trailing statements into a job request. A
// workflow without --workflow-input takes its input document from stdin.
func (o *submitOptions) request(statements []string, readFile func(string) ([]byte, error), stdin io.Reader) (*job.Request, error) {
	req := &job.Request{
		Name:          o.name,
		Queue:         o.queue,
		RetryAttempts: o.retryAttempts,
		DependsOn:     o.dependsOn,
		DefinitionARN: o.definition,
		DryRun:        o.dryRun,
		Resources: job.Resources{
			Image:      o.image,
			VCPUs:      o.vcpus,
			MemoryMB:   o.memoryMB,
			Privileged: o.privileged,
			JobRole:    o.jobRole,
		},
	}

	payloads := 0
	if len(statements) > 0 {
		payloads++
		req.Payload = job.CommandPayload(statements...)
	}
	if o.executable != "" {
		payloads++
		content, err := readFile(o.executable)
		if err != nil {
			return nil, apperrors.Validation("executable", err.Error())
		}
		req.Payload = job.ExecutablePayload(content)
	}
	if o.workflow != "" {
		payloads++
		input, err := o.readWorkflowInput(readFile, stdin)
		if err != nil {
			return nil, err
		}
		req.Payload = job.WorkflowPayload(o.workflow, input)
	} else if o.workflowInput != "" {
		return nil, apperrors.Validation("workflowInput", "--workflow-input needs --workflow")
	}
	if payloads != 1 {
		return nil, apperrors.Validation("payload", "exactly one of a command, --executable or --workflow is required")
	}

	switch {
	case o.watch:
		req.Wait = job.WaitWatch
	case o.wait:
		req.Wait = job.WaitBlock
	}

	for _, s := range o.env {
		env, err := jobspec.ParseEnvVar(s)
		if err != nil {
			return nil, err
		}
		req.Environment = append(req.Environment, env)
	}
	for _, s := range o.storage {
		m, err := jobspec.ParseBlockMount(s)
		if err != nil {
			return nil, err
		}
		req.BlockStorage = append(req.BlockStorage, m)
	}
	if o.efsStorage != "" {
		m, err := jobspec.ParseSharedMount(o.efsStorage)
		if err != nil {
			return nil, err
		}
		req.SharedStorage = m
	}
	if len(o.ulimits) > 0 {
		u, err := parseUlimits(o.ulimits)
		if err != nil {
			return nil, err
		}
		req.Resources.Ulimits = u
	}
	for _, s := range o.volumes {
		v, err := jobspec.ParseVolume(s)
		if err != nil {
			return nil, err
		}
		req.Resources.Volumes = append(req.Resources.Volumes, v)
	}

	var err error
	if req.Timeout, err = jobspec.ParseTimeout(o.timeout); err != nil {
		return nil, err
	}
	if req.Parameters, err = jobspec.ParseParameters(o.parameters); err != nil {
		return nil, err
	}
	return req, nil
}

func (o *submitOptions) readWorkflowInput(readFile func(string) ([]byte, error), stdin io.Reader) ([]byte, error) {
	if o.workflowInput != "" {
		input, err := readFile(o.workflowInput)
		if err != nil {
			return nil, apperrors.Validation("workflowInput", err.Error())
		}
		return input, nil
	}
	if stdin == nil {
		return nil, apperrors.Validation("workflowInput", "workflow input is required: pass --workflow-input or pipe it on stdin")
	}
	input, err := io.ReadAll(stdin)
	if err != nil {
		return nil, apperrors.Validation("workflowInput", "reading stdin: "+err.Error())
	}
	if len(bytes.TrimSpace(input)) == 0 {
		return nil, apperrors.Validation("workflowInput", "workflow input is required: pass --workflow-input or pipe it on stdin")
	}
	return input, nil
}

func (a *app) ecrImage(ctx context.Context, tag string) (string, error) {
	c, err := a.cloud(ctx)
	if err != nil {
		return "", err
	}
	account, err := c.Identity.AccountID(ctx)
	if err != nil {
		return "", err
	}
	return provision.ECRImageURI(account, c.Region(), tag), nil
}

type submitResult struct {
	*job.SubmitResult
	Command     []string     `json:"command,omitempty"`
	Environment []job.EnvVar `json:"environment,omitempty"`
}

// submitOutput adds the container invocation to dry runs so it can be
// inspected before anything is created.
func submitOutput(res *job.SubmitResult) submitResult {
	out := submitResult{SubmitResult: res}
	if res.DryRun && res.Spec != nil {
		out.Command = res.Spec.Command()
		out.Environment = res.Spec.Environment
	}
	return out
}

func jobFailed(desc *job.Description) error {
	msg := fmt.Sprintf("job %s failed", desc.ID)
	if desc.StatusReason != "" {
		msg += ": " + strings.TrimSpace(desc.StatusReason)
	}
	return errors.New(msg)
}
