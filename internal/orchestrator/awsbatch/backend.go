// Package awsbatch implements job.Backend on AWS Batch.
package awsbatch

import (
	"context"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"
	"batchctl/internal/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// API is the part of the Batch client the backend uses.
type API interface {
	batch.ListJobsAPIClient
	batch.DescribeJobQueuesAPIClient
	SubmitJob(ctx context.Context, in *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
	DescribeJobs(ctx context.Context, in *batch.DescribeJobsInput, optFns ...func(*batch.Options)) (*batch.DescribeJobsOutput, error)
	TerminateJob(ctx context.Context, in *batch.TerminateJobInput, optFns ...func(*batch.Options)) (*batch.TerminateJobOutput, error)
}

// Backend submits and inspects jobs through the Batch API.
type Backend struct {
	api     API
	metrics *observability.Metrics
}

// New creates a Backend. metrics may be nil.
func New(api API, metrics *observability.Metrics) *Backend {
	return &Backend{api: api, metrics: metrics}
}

func (b *Backend) observe(ctx context.Context, op string, start time.Time, err error) {
	if b.metrics != nil {
		b.metrics.RecordAPICall(ctx, op, err == nil, time.Since(start).Seconds())
	}
}

// Submit sends sub to its queue.
func (b *Backend) Submit(ctx context.Context, sub *job.Submission) (string, string, error) {
	in := &batch.SubmitJobInput{
		JobName:       aws.String(sub.Name),
		JobQueue:      aws.String(sub.Queue),
		JobDefinition: aws.String(sub.Definition),
		Parameters:    sub.Parameters,
		ContainerOverrides: &types.ContainerOverrides{
			Command: sub.Command,
		},
	}
	for _, env := range sub.Environment {
		in.ContainerOverrides.Environment = append(in.ContainerOverrides.Environment, types.KeyValuePair{
			Name:  aws.String(env.Name),
			Value: aws.String(env.Value),
		})
	}
	for _, id := range sub.DependsOn {
		in.DependsOn = append(in.DependsOn, types.JobDependency{JobId: aws.String(id)})
	}
	if sub.Timeout > 0 {
		in.Timeout = &types.JobTimeout{AttemptDurationSeconds: aws.Int32(int32(sub.Timeout.Seconds()))}
	}

	start := time.Now()
	out, err := b.api.SubmitJob(ctx, in)
	b.observe(ctx, "batch.SubmitJob", start, err)
	if err != nil {
		return "", "", apperrors.FromAWS("batch.SubmitJob", err)
	}
	return aws.ToString(out.JobId), aws.ToString(out.JobArn), nil
}

// Describe returns the jobs among jobIDs that the service still knows.
func (b *Backend) Describe(ctx context.Context, jobIDs []string) ([]job.Description, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	start := time.Now()
	out, err := b.api.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: jobIDs})
	b.observe(ctx, "batch.DescribeJobs", start, err)
	if err != nil {
		return nil, apperrors.FromAWS("batch.DescribeJobs", err)
	}

	descs := make([]job.Description, 0, len(out.Jobs))
	for _, d := range out.Jobs {
		descs = append(descs, describe(d))
	}
	return descs, nil
}

func describe(d types.JobDetail) job.Description {
	desc := job.Description{
		ID:           aws.ToString(d.JobId),
		Name:         aws.ToString(d.JobName),
		Queue:        aws.ToString(d.JobQueue),
		Definition:   aws.ToString(d.JobDefinition),
		Status:       job.Status(d.Status),
		StatusReason: aws.ToString(d.StatusReason),
		CreatedAt:    millis(d.CreatedAt),
		StartedAt:    millis(d.StartedAt),
		StoppedAt:    millis(d.StoppedAt),
	}
	if c := d.Container; c != nil {
		desc.LogStream = aws.ToString(c.LogStreamName)
		desc.ExitCode = c.ExitCode
		if desc.StatusReason == "" {
			desc.StatusReason = aws.ToString(c.Reason)
		}
	}
	return desc
}

func millis(ms *int64) *time.Time {
	if ms == nil || *ms == 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// Terminate stops a job in any state.
func (b *Backend) Terminate(ctx context.Context, jobID, reason string) error {
	start := time.Now()
	_, err := b.api.TerminateJob(ctx, &batch.TerminateJobInput{JobId: aws.String(jobID), Reason: aws.String(reason)})
	b.observe(ctx, "batch.TerminateJob", start, err)
	return apperrors.FromAWS("batch.TerminateJob", err)
}

// ListJobIDs returns the IDs of the jobs in queue with status.
func (b *Backend) ListJobIDs(ctx context.Context, queue string, status job.Status) ([]string, error) {
	var ids []string
	p := batch.NewListJobsPaginator(b.api, &batch.ListJobsInput{
		JobQueue:  aws.String(queue),
		JobStatus: types.JobStatus(status),
	})
	for p.HasMorePages() {
		start := time.Now()
		page, err := p.NextPage(ctx)
		b.observe(ctx, "batch.ListJobs", start, err)
		if err != nil {
			return nil, apperrors.FromAWS("batch.ListJobs", err)
		}
		for _, s := range page.JobSummaryList {
			ids = append(ids, aws.ToString(s.JobId))
		}
	}
	return ids, nil
}

// ListQueues returns the names of all job queues.
func (b *Backend) ListQueues(ctx context.Context) ([]string, error) {
	var names []string
	p := batch.NewDescribeJobQueuesPaginator(b.api, &batch.DescribeJobQueuesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apperrors.FromAWS("batch.DescribeJobQueues", err)
		}
		for _, q := range page.JobQueues {
			names = append(names, aws.ToString(q.JobQueueName))
		}
	}
	return names, nil
}

// Ready checks that the Batch API answers with the current credentials.
func (b *Backend) Ready(ctx context.Context) error {
	_, err := b.api.DescribeJobQueues(ctx, &batch.DescribeJobQueuesInput{MaxResults: aws.Int32(1)})
	return apperrors.FromAWS("batch.DescribeJobQueues", err)
}

var _ job.Backend = (*Backend)(nil)
