package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/cloud"
	"batchctl/internal/config"
	"batchctl/internal/health"
	"batchctl/internal/job"
	"batchctl/internal/jobspec"
	"batchctl/internal/monitor"
	"batchctl/internal/notify"
	"batchctl/internal/observability"
	"batchctl/internal/orchestrator/awsbatch"
	"batchctl/internal/outputs"
	"batchctl/internal/provision"
	"batchctl/internal/snapshot"
	"batchctl/internal/staging"
)

const notifierDrainTimeout = 10 * time.Second

type globalFlags struct {
	region   string
	profile  string
	logLevel string
}

// app builds the collaborators a command needs on first use, so commands
// that never reach AWS never resolve credentials.
type app struct {
	out   io.Writer
	cfg   *config.Config
	flags globalFlags

	clients        *cloud.Clients
	metrics        *observability.Metrics
	metricsHandler http.Handler
	ensurer        *provision.Ensurer
	backend        *awsbatch.Backend
	snapshots      job.SnapshotStore
	notifier       notify.Notifier
	closers        []func(context.Context) error
}

func (a *app) applyGlobalFlags() {
	if a.flags.region != "" {
		a.cfg.Region = a.flags.region
	}
	if a.flags.profile != "" {
		a.cfg.Profile = a.flags.profile
	}
	if a.flags.logLevel != "" {
		a.cfg.LogLevel = a.flags.logLevel
	}
}

func (a *app) cloud(ctx context.Context) (*cloud.Clients, error) {
	if a.clients != nil {
		return a.clients, nil
	}
	clients, err := cloud.Load(ctx, cloud.Options{Region: a.cfg.Region, Profile: a.cfg.Profile})
	if err != nil {
		return nil, err
	}
	slog.Debug("AWS clients ready", "region", clients.Region())
	a.clients = clients
	return clients, nil
}

func (a *app) observability(ctx context.Context) (*observability.Metrics, http.Handler, error) {
	if a.metrics != nil {
		return a.metrics, a.metricsHandler, nil
	}
	m, h, err := observability.NewMetrics(ctx)
	if err != nil {
		return nil, nil, err
	}
	a.metrics, a.metricsHandler = m, h
	return m, h, nil
}

func (a *app) provisioner(ctx context.Context) (*provision.Ensurer, error) {
	if a.ensurer != nil {
		return a.ensurer, nil
	}
	c, err := a.cloud(ctx)
	if err != nil {
		return nil, err
	}
	account, err := c.Identity.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	a.ensurer = provision.New(provision.Clients{
		Batch:    c.Batch,
		Logs:     c.Logs,
		S3:       c.S3,
		DynamoDB: c.DynamoDB,
		IAM:      c.IAM,
		EC2:      c.EC2,
	}, provision.Config{
		Region:             c.Region(),
		AccountID:          account,
		ComputeEnvironment: a.cfg.ComputeEnvironment,
		KeyDir:             config.StateDir(),
	})
	return a.ensurer, nil
}

func (a *app) batch(ctx context.Context) (*awsbatch.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	c, err := a.cloud(ctx)
	if err != nil {
		return nil, err
	}
	metrics, _, err := a.observability(ctx)
	if err != nil {
		return nil, err
	}
	a.backend = awsbatch.New(c.Batch, metrics)
	return a.backend, nil
}

func (a *app) snapshotStore(ctx context.Context) (job.SnapshotStore, error) {
	if a.snapshots != nil {
		return a.snapshots, nil
	}
	switch a.cfg.SnapshotBackend {
	case "sqlite":
		store, err := snapshot.OpenSQLite(a.cfg.SnapshotDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.snapshots = store
	case "", "jobdef":
		c, err := a.cloud(ctx)
		if err != nil {
			return nil, err
		}
		a.snapshots = snapshot.NewJobDefinitionStore(c.Batch, "")
	default:
		return nil, apperrors.Validation("snapshotBackend", fmt.Sprintf("unknown snapshot backend %q; use jobdef or sqlite", a.cfg.SnapshotBackend))
	}
	return a.snapshots, nil
}

func (a *app) notifications(ctx context.Context) (notify.Notifier, error) {
	if a.notifier != nil {
		return a.notifier, nil
	}
	metrics, _, err := a.observability(ctx)
	if err != nil {
		return nil, err
	}
	n := notify.New(notify.Config{URL: a.cfg.NotifyURL, SigningKey: a.cfg.NotifySigningKey}, metrics)
	a.closers = append(a.closers, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifierDrainTimeout)
		defer cancel()
		return n.Close(ctx)
	})
	a.notifier = n
	return n, nil
}

func (a *app) monitor(ctx context.Context) (*monitor.Monitor, error) {
	backend, err := a.batch(ctx)
	if err != nil {
		return nil, err
	}
	snapshots, err := a.snapshotStore(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifications(ctx)
	if err != nil {
		return nil, err
	}
	metrics, _, err := a.observability(ctx)
	if err != nil {
		return nil, err
	}
	return monitor.New(monitor.Config{
		Describer: job.NewLookup(backend, snapshots),
		Snapshots: snapshots,
		Logs:      a.clients.Logs,
		LogGroup:  a.cfg.LogGroup,
		Output:    a.out,
		Interval:  a.cfg.PollInterval,
		Notifier:  notifier,
		Events:    a.cfg.NotifyEvents,
		Metrics:   metrics,
	}), nil
}

// service wires the full submission path.
func (a *app) service(ctx context.Context) (*job.Service, error) {
	ensurer, err := a.provisioner(ctx)
	if err != nil {
		return nil, err
	}
	watcher, err := a.monitor(ctx)
	if err != nil {
		return nil, err
	}
	c := a.clients
	account, err := c.Identity.AccountID(ctx)
	if err != nil {
		return nil, err
	}

	builder := jobspec.NewBuilder(jobspec.Config{
		Filesystems:   jobspec.NewFilesystemResolver(c.EFS),
		Stager:        staging.NewStore(c.S3, c.Presign, staging.BucketName(a.cfg.StagingBucketPrefix, account)),
		Prerequisites: ensurer,
		Preprocessor:  jobspec.NewPreprocessor(a.cfg.WorkflowRunner),
		Runner:        a.cfg.WorkflowRunner,
		StatusTable:   a.cfg.StatusTable,
	})

	ulimits, err := parseUlimits(a.cfg.Ulimits)
	if err != nil {
		return nil, err
	}
	return job.NewService(job.ServiceConfig{
		Builder:     builder,
		Provisioner: ensurer,
		Backend:     a.backend,
		Snapshots:   a.snapshots,
		Watcher:     watcher,
		Outputs:     outputs.NewTable(c.DynamoDB, a.cfg.StatusTable, jobspec.StatusTableHashKey),
		Notifier:    a.notifier,
		Events:      a.cfg.NotifyEvents,
		Metrics:     a.metrics,
		Defaults: job.Defaults{
			Queue:         a.cfg.Queue,
			Image:         a.cfg.Image,
			VCPUs:         int32(a.cfg.VCPUs),
			MemoryMB:      int32(a.cfg.MemoryMB),
			Ulimits:       ulimits,
			RetryAttempts: int32(a.cfg.RetryAttempts),
			JobRole:       a.cfg.JobRole,
		},
	}), nil
}

// healthChecker registers the services commands depend on. Docker is
// optional since only run-local needs it.
func (a *app) healthChecker(ctx context.Context, docker health.ReadinessChecker) (*health.Checker, error) {
	backend, err := a.batch(ctx)
	if err != nil {
		return nil, err
	}
	checker := health.NewChecker()
	checker.Require("batch", backend)
	checker.Require("sts", a.clients.Identity)
	if docker != nil {
		checker.Optional("docker", docker)
	}
	return checker, nil
}

// close releases what the commands opened. It runs after every command,
// including failed ones.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUlimits(specs []string) ([]job.Ulimit, error) {
	out := make([]job.Ulimit, 0, len(specs))
	for _, s := range specs {
		u, err := jobspec.ParseUlimit(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
