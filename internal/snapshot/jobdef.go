// Package snapshot keeps job descriptions after the compute service has
// forgotten the job.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

const (
	descEnvName   = "job_desc"
	carrierImage  = "busybox"
	carrierMemory = 4
)

// BatchAPI is the part of the Batch client the job-definition store uses.
type BatchAPI interface {
	RegisterJobDefinition(ctx context.Context, in *batch.RegisterJobDefinitionInput, optFns ...func(*batch.Options)) (*batch.RegisterJobDefinitionOutput, error)
	DescribeJobDefinitions(ctx context.Context, in *batch.DescribeJobDefinitionsInput, optFns ...func(*batch.Options)) (*batch.DescribeJobDefinitionsOutput, error)
}

// JobDefinitionStore stores each snapshot as an inert job definition whose
// environment carries the JSON. Job definitions outlive jobs, so nothing
// beyond the Batch API is needed.
type JobDefinitionStore struct {
	api    BatchAPI
	prefix string
}

// NewJobDefinitionStore creates a store naming definitions
// <prefix>_job_desc_<jobId>.
func NewJobDefinitionStore(api BatchAPI, prefix string) *JobDefinitionStore {
	if prefix == "" {
		prefix = "batchctl"
	}
	return &JobDefinitionStore{api: api, prefix: prefix}
}

func (s *JobDefinitionStore) name(jobID string) string {
	return fmt.Sprintf("%s_job_desc_%s", s.prefix, jobID)
}

// Save registers a new revision holding snap.
func (s *JobDefinitionStore) Save(ctx context.Context, snap *job.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.Internal("snapshot.Save", err)
	}
	_, err = s.api.RegisterJobDefinition(ctx, &batch.RegisterJobDefinitionInput{
		JobDefinitionName: aws.String(s.name(snap.JobID)),
		Type:              types.JobDefinitionTypeContainer,
		ContainerProperties: &types.ContainerProperties{
			Image:  aws.String(carrierImage),
			Vcpus:  aws.Int32(1),
			Memory: aws.Int32(carrierMemory),
			Environment: []types.KeyValuePair{
				{Name: aws.String(descEnvName), Value: aws.String(string(data))},
			},
		},
	})
	return apperrors.FromAWS("batch.RegisterJobDefinition", err)
}

// Load returns the newest snapshot of jobID.
func (s *JobDefinitionStore) Load(ctx context.Context, jobID string) (*job.Snapshot, error) {
	out, err := s.api.DescribeJobDefinitions(ctx, &batch.DescribeJobDefinitionsInput{
		JobDefinitionName: aws.String(s.name(jobID)),
	})
	if err != nil {
		return nil, apperrors.FromAWS("batch.DescribeJobDefinitions", err)
	}

	defs := slices.Clone(out.JobDefinitions)
	slices.SortFunc(defs, func(a, b types.JobDefinition) int {
		return int(aws.ToInt32(b.Revision) - aws.ToInt32(a.Revision))
	})
	for _, def := range defs {
		if def.ContainerProperties == nil {
			continue
		}
		for _, kv := range def.ContainerProperties.Environment {
			if aws.ToString(kv.Name) != descEnvName {
				continue
			}
			var snap job.Snapshot
			if err := json.Unmarshal([]byte(aws.ToString(kv.Value)), &snap); err != nil {
				return nil, apperrors.Internal("snapshot.Load", err)
			}
			return &snap, nil
		}
	}
	return nil, apperrors.NotFound("snapshot", jobID)
}

var _ job.SnapshotStore = (*JobDefinitionStore)(nil)
