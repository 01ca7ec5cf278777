package provision

import (
	"context"
	"log/slog"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// Queue summarises a job queue.
type Queue struct {
	Name                string   `json:"jobQueueName"`
	ARN                 string   `json:"jobQueueArn"`
	State               string   `json:"state"`
	Status              string   `json:"status"`
	StatusReason        string   `json:"statusReason,omitempty"`
	Priority            int32    `json:"priority"`
	ComputeEnvironments []string `json:"computeEnvironments"`
}

// ListQueues describes every job queue.
func (e *Ensurer) ListQueues(ctx context.Context) ([]Queue, error) {
	var out []Queue
	p := batch.NewDescribeJobQueuesPaginator(e.clients.Batch, &batch.DescribeJobQueuesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apperrors.FromAWS("batch.DescribeJobQueues", err)
		}
		for _, q := range page.JobQueues {
			ces := make([]string, 0, len(q.ComputeEnvironmentOrder))
			for _, o := range q.ComputeEnvironmentOrder {
				ces = append(ces, aws.ToString(o.ComputeEnvironment))
			}
			out = append(out, Queue{
				Name:                aws.ToString(q.JobQueueName),
				ARN:                 aws.ToString(q.JobQueueArn),
				State:               string(q.State),
				Status:              string(q.Status),
				StatusReason:        aws.ToString(q.StatusReason),
				Priority:            aws.ToInt32(q.Priority),
				ComputeEnvironments: ces,
			})
		}
	}
	return out, nil
}

// CreateQueue creates a queue drawing from computeEnvironments in order and
// waits for it to become VALID.
func (e *Ensurer) CreateQueue(ctx context.Context, name string, priority int32, computeEnvironments []string) error {
	if len(computeEnvironments) == 0 {
		return apperrors.Validation("computeEnvironments", "at least one compute environment is required")
	}
	if priority <= 0 {
		priority = e.cfg.QueuePriority
	}
	order := make([]types.ComputeEnvironmentOrder, len(computeEnvironments))
	for i, ce := range computeEnvironments {
		order[i] = types.ComputeEnvironmentOrder{ComputeEnvironment: aws.String(ce), Order: aws.Int32(int32(i))}
	}

	slog.Info("Creating job queue", "queue", name, "computeEnvironments", computeEnvironments)
	_, err := e.clients.Batch.CreateJobQueue(ctx, &batch.CreateJobQueueInput{
		JobQueueName:            aws.String(name),
		Priority:                aws.Int32(priority),
		ComputeEnvironmentOrder: order,
	})
	if err != nil {
		return apperrors.FromAWS("batch.CreateJobQueue", err)
	}
	return e.waitQueueValid(ctx, name, "")
}

// DeleteQueue disables a queue, waits for the update to settle and deletes
// it.
func (e *Ensurer) DeleteQueue(ctx context.Context, name string) error {
	_, err := e.clients.Batch.UpdateJobQueue(ctx, &batch.UpdateJobQueueInput{
		JobQueue: aws.String(name),
		State:    types.JQStateDisabled,
	})
	if err != nil {
		return apperrors.FromAWS("batch.UpdateJobQueue", err)
	}
	if err := e.waitQueueValid(ctx, name, types.JQStateDisabled); err != nil {
		return err
	}
	if _, err := e.clients.Batch.DeleteJobQueue(ctx, &batch.DeleteJobQueueInput{JobQueue: aws.String(name)}); err != nil {
		return apperrors.FromAWS("batch.DeleteJobQueue", err)
	}
	slog.Info("Job queue deleted", "queue", name)
	return nil
}

// EnsureQueue creates a queue bound to the compute environment of the same
// name. If that fails, the compute environment is created and the queue
// creation retried once.
func (e *Ensurer) EnsureQueue(ctx context.Context, name string) error {
	err := e.CreateQueue(ctx, name, e.cfg.QueuePriority, []string{name})
	if err == nil || apperrors.IsAlreadyExists(err) {
		return nil
	}
	slog.Warn("Job queue creation failed, creating compute environment", "queue", name, "error", err)
	if err := e.CreateComputeEnvironment(ctx, name, ComputeEnvironmentOptions{}); err != nil && !apperrors.IsAlreadyExists(err) {
		return err
	}
	err = e.CreateQueue(ctx, name, e.cfg.QueuePriority, []string{name})
	if apperrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func (e *Ensurer) waitQueueValid(ctx context.Context, name string, state types.JQState) error {
	return e.waitFor(ctx, "job queue "+name, e.cfg.QueueWaitAttempts, func(ctx context.Context) (bool, error) {
		out, err := e.clients.Batch.DescribeJobQueues(ctx, &batch.DescribeJobQueuesInput{JobQueues: []string{name}})
		if err != nil {
			return false, apperrors.FromAWS("batch.DescribeJobQueues", err)
		}
		for _, q := range out.JobQueues {
			if q.Status == types.JQStatusInvalid {
				return false, apperrors.Validation("queue", "job queue "+name+" is INVALID: "+aws.ToString(q.StatusReason))
			}
			if q.Status == types.JQStatusValid && (state == "" || q.State == state) {
				return true, nil
			}
		}
		return false, nil
	})
}
