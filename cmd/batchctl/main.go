// batchctl submits, provisions and monitors AWS Batch jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"batchctl/internal/apperrors"
	"batchctl/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, a := newRootCommand(os.Stdout)
	err := root.ExecuteContext(ctx)
	stop()
	if cerr := a.close(context.Background()); cerr != nil {
		slog.Warn("Cleanup failed", "error", cerr)
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(apperrors.ExitCode(err))
	}
}

func newRootCommand(out io.Writer) (*cobra.Command, *app) {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "batchctl",
		Short:         "Submit, provision and monitor AWS Batch jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return apperrors.Validation("config", err.Error())
			}
			a.cfg = cfg
			a.applyGlobalFlags()

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.flags.region, "region", "", "AWS region (default: BATCHCTL_REGION, AWS_REGION or the shared config)")
	flags.StringVar(&a.flags.profile, "profile", "", "shared config profile")
	flags.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newQueuesCommand(a),
		newCreateQueueCommand(a),
		newDeleteQueueCommand(a),
		newComputeEnvironmentsCommand(a),
		newCreateComputeEnvironmentCommand(a),
		newDeleteComputeEnvironmentCommand(a),
		newSubmitCommand(a),
		newTerminateCommand(a),
		newListCommand(a),
		newDescribeCommand(a),
		newGetLogsCommand(a),
		newWatchCommand(a),
		newRunLocalCommand(a),
		newCheckCommand(a),
		newServeCommand(a),
	)
	return root, a
}

// newLogger writes to w so stdout carries only command output.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, apperrors.Validation("logLevel", fmt.Sprintf("unknown log level %q", level))
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, apperrors.Validation("logFormat", fmt.Sprintf("unknown log format %q", format))
	}
}
