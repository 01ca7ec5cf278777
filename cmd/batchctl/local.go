package main

import (
	"context"
	"fmt"

	"batchctl/internal/apperrors"
	"batchctl/internal/health"
	"batchctl/internal/job"
	"batchctl/internal/jobspec"
	"batchctl/internal/orchestrator/docker"

	"github.com/spf13/cobra"
)

func (a *app) dockerRunner() (*docker.Runner, error) {
	cfg := docker.LoadConfigFromEnv()
	if a.cfg.DockerHost != "" {
		cfg.Host = a.cfg.DockerHost
	}
	cfg.Stdout = a.out
	r, err := docker.NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return r.Close() })
	return r, nil
}

func newRunLocalCommand(a *app) *cobra.Command {
	var o submitOptions
	cmd := &cobra.Command{
		Use:   "run-local [flags] -- STATEMENT...",
		Short: "Run a command job in a local Docker container",
		Long: `Run a command job the way the compute service would, but in a local
Docker container. Storage mounts need a cloud instance and are rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			spec, err := a.localSpec(ctx, &o, args)
			if err != nil {
				return err
			}
			runner, err := a.dockerRunner()
			if err != nil {
				return err
			}
			res, err := runner.Run(ctx, spec)
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("container exited with status %d", res.ExitCode)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&o.env, "env", "e", nil, "environment variable NAME=VALUE (repeatable)")
	f.StringVarP(&o.image, "image", "i", "", "container image (default from config)")
	f.Int32Var(&o.vcpus, "vcpus", 0, "CPU limit")
	f.Int32Var(&o.memoryMB, "memory", 0, "memory limit in MiB")
	f.StringArrayVar(&o.ulimits, "ulimit", nil, "ulimit NAME:VALUE (repeatable)")
	f.StringArrayVar(&o.volumes, "volume", nil, "bind mount HOST_PATH=GUEST_PATH (repeatable)")
	return cmd
}

// localSpec builds the spec of a command job without touching the cloud.
func (a *app) localSpec(ctx context.Context, o *submitOptions, statements []string) (*job.Spec, error) {
	o.dryRun = true
	req, err := o.request(statements, nil)
	if err != nil {
		return nil, err
	}
	if req.Payload.Kind() != job.PayloadCommand {
		return nil, apperrors.Validation("payload", "run-local only runs commands")
	}
	if req.Resources.Image == "" {
		req.Resources.Image = a.cfg.Image
	}
	if req.Resources.Ulimits == nil {
		if req.Resources.Ulimits, err = parseUlimits(a.cfg.Ulimits); err != nil {
			return nil, err
		}
	}
	return jobspec.NewBuilder(jobspec.Config{}).Build(ctx, req)
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check credentials and the services batchctl uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var dockerCheck health.ReadinessChecker
			if runner, err := a.dockerRunner(); err != nil {
				dockerCheck = health.ReadinessFunc(func(context.Context) error { return err })
			} else {
				dockerCheck = runner
			}

			checker, err := a.healthChecker(ctx, dockerCheck)
			if err != nil {
				return err
			}
			response := checker.Readiness(ctx)
			if err := a.printJSON(response); err != nil {
				return err
			}
			if response.Status == health.StatusUnhealthy {
				return fmt.Errorf("batchctl is not ready: %s", response.Status)
			}
			return nil
		},
	}
}
