package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// JobDefinitionPrefix starts the name of every job definition batchctl
// registers for submissions.
const JobDefinitionPrefix = "batchctl_"

var jobRolePolicies = []string{"AmazonEC2FullAccess", "AmazonDynamoDBFullAccess", "AmazonS3FullAccess"}

// definitionShape is everything that goes into a registered definition.
// Equal shapes share a definition name.
type definitionShape struct {
	Resources     job.Resources `json:"resources"`
	JobRoleARN    string        `json:"jobRoleArn"`
	RetryAttempts int32         `json:"retryAttempts"`
}

// name derives the deterministic definition name of a shape.
func (s definitionShape) name() string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return JobDefinitionPrefix + hex.EncodeToString(sum[:])[:12]
}

// EnsureJobDefinition returns an ACTIVE definition matching the resolved
// resources of spec, registering a new one if none exists.
func (e *Ensurer) EnsureJobDefinition(ctx context.Context, req *job.Request, spec *job.Spec) (*job.Definition, error) {
	res := spec.Resources
	roleARN := res.JobRole
	if roleARN != "" && !strings.HasPrefix(roleARN, "arn:") {
		if e.clients.IAM == nil {
			return nil, apperrors.Validation("jobRole", "job role "+roleARN+" must be an ARN when IAM access is unavailable")
		}
		var err error
		roleARN, err = e.ensureRole(ctx, res.JobRole, "ecs-tasks.amazonaws.com", jobRolePolicies)
		if err != nil {
			return nil, err
		}
	}

	shape := definitionShape{Resources: res, JobRoleARN: roleARN, RetryAttempts: req.RetryAttempts}
	name := shape.name()
	logger := slog.With("component", "provision", "jobDefinition", name)

	if def, err := e.activeDefinition(ctx, name); err != nil || def != nil {
		return def, err
	}

	props := &types.ContainerProperties{
		Image:      aws.String(res.Image),
		Privileged: aws.Bool(res.Privileged),
		ResourceRequirements: []types.ResourceRequirement{
			{Type: types.ResourceTypeVcpu, Value: aws.String(strconv.Itoa(int(res.VCPUs)))},
			{Type: types.ResourceTypeMemory, Value: aws.String(strconv.Itoa(int(res.MemoryMB)))},
		},
	}
	if roleARN != "" {
		props.JobRoleArn = aws.String(roleARN)
	}
	for i, v := range res.Volumes {
		vol := fmt.Sprintf("vol%d", i)
		props.Volumes = append(props.Volumes, types.Volume{Name: aws.String(vol), Host: &types.Host{SourcePath: aws.String(v.HostPath)}})
		props.MountPoints = append(props.MountPoints, types.MountPoint{SourceVolume: aws.String(vol), ContainerPath: aws.String(v.ContainerPath)})
	}
	for _, u := range res.Ulimits {
		props.Ulimits = append(props.Ulimits, types.Ulimit{Name: aws.String(u.Name), HardLimit: aws.Int32(u.Value), SoftLimit: aws.Int32(u.Value)})
	}

	out, err := e.clients.Batch.RegisterJobDefinition(ctx, &batch.RegisterJobDefinitionInput{
		JobDefinitionName:   aws.String(name),
		Type:                types.JobDefinitionTypeContainer,
		ContainerProperties: props,
		RetryStrategy:       &types.RetryStrategy{Attempts: aws.Int32(req.RetryAttempts)},
	})
	if err != nil {
		return nil, apperrors.FromAWS("batch.RegisterJobDefinition", err)
	}
	logger.Info("Job definition registered", "revision", aws.ToInt32(out.Revision))
	return &job.Definition{
		Name:     aws.ToString(out.JobDefinitionName),
		Revision: aws.ToInt32(out.Revision),
		ARN:      aws.ToString(out.JobDefinitionArn),
	}, nil
}

// activeDefinition returns the newest ACTIVE revision of name, or nil.
func (e *Ensurer) activeDefinition(ctx context.Context, name string) (*job.Definition, error) {
	out, err := e.clients.Batch.DescribeJobDefinitions(ctx, &batch.DescribeJobDefinitionsInput{
		JobDefinitionName: aws.String(name),
		Status:            aws.String("ACTIVE"),
	})
	if err != nil {
		return nil, apperrors.FromAWS("batch.DescribeJobDefinitions", err)
	}
	var best *job.Definition
	for _, d := range out.JobDefinitions {
		rev := aws.ToInt32(d.Revision)
		if best == nil || rev > best.Revision {
			best = &job.Definition{Name: aws.ToString(d.JobDefinitionName), Revision: rev, ARN: aws.ToString(d.JobDefinitionArn)}
		}
	}
	return best, nil
}

var _ job.Provisioner = (*Ensurer)(nil)
