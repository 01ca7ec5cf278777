package main

import (
	"batchctl/internal/provision"

	"github.com/spf13/cobra"
)

func newQueuesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List job queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			queues, err := e.ListQueues(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(queues)
		},
	}
}

func newCreateQueueCommand(a *app) *cobra.Command {
	var priority int32
	var ces []string
	cmd := &cobra.Command{
		Use:   "create-queue NAME",
		Short: "Create a job queue",
		Long: `Create a job queue. Without --compute-environment the queue draws from
the compute environment of the same name, which is created if missing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			if len(ces) == 0 {
				return e.EnsureQueue(cmd.Context(), args[0])
			}
			return e.CreateQueue(cmd.Context(), args[0], priority, ces)
		},
	}
	cmd.Flags().Int32Var(&priority, "priority", 0, "queue priority (default 5)")
	cmd.Flags().StringSliceVarP(&ces, "compute-environment", "c", nil, "compute environments in order of preference")
	return cmd
}

func newDeleteQueueCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-queue NAME",
		Short: "Disable and delete a job queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			return e.DeleteQueue(cmd.Context(), args[0])
		},
	}
}

func newComputeEnvironmentsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compute-environments",
		Short: "List compute environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			ces, err := e.ListComputeEnvironments(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(ces)
		},
	}
}

func newCreateComputeEnvironmentCommand(a *app) *cobra.Command {
	var o provision.ComputeEnvironmentOptions
	cmd := &cobra.Command{
		Use:   "create-compute-environment NAME",
		Short: "Create a managed compute environment in the default VPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			return e.CreateComputeEnvironment(cmd.Context(), args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.ComputeType, "compute-type", "", "EC2 or SPOT (default from config)")
	f.Int32Var(&o.MinVCPUs, "min-vcpus", 0, "minimum vCPUs")
	f.Int32Var(&o.DesiredVCPUs, "desired-vcpus", 0, "desired vCPUs")
	f.Int32Var(&o.MaxVCPUs, "max-vcpus", 0, "maximum vCPUs")
	f.StringSliceVar(&o.InstanceTypes, "instance-types", nil, "instance types (default: optimal)")
	f.StringVar(&o.ImageID, "image-id", "", "AMI for the container instances")
	f.StringVar(&o.SSHKeyName, "ssh-key-name", "", "EC2 key pair, created if missing")
	f.StringVar(&o.InstanceRole, "instance-role", "", "ECS instance role name")
	f.StringVar(&o.ServiceRole, "service-role", "", "Batch service role name")
	return cmd
}

func newDeleteComputeEnvironmentCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-compute-environment NAME",
		Short: "Disable and delete a compute environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			return e.DeleteComputeEnvironment(cmd.Context(), args[0])
		},
	}
}
