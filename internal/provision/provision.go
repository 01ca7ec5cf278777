// Package provision creates the AWS resources jobs depend on: queues,
// compute environments and their IAM and network prerequisites, job
// definitions, log groups, the staging bucket and the status table.
//
// Every Ensure method is idempotent. A resource that already exists counts
// as success.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"batchctl/internal/config"
	"batchctl/pkg/backoff"

	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BatchAPI is the part of the Batch client the ensurer uses.
type BatchAPI interface {
	batch.DescribeJobQueuesAPIClient
	batch.DescribeComputeEnvironmentsAPIClient
	CreateJobQueue(ctx context.Context, in *batch.CreateJobQueueInput, optFns ...func(*batch.Options)) (*batch.CreateJobQueueOutput, error)
	UpdateJobQueue(ctx context.Context, in *batch.UpdateJobQueueInput, optFns ...func(*batch.Options)) (*batch.UpdateJobQueueOutput, error)
	DeleteJobQueue(ctx context.Context, in *batch.DeleteJobQueueInput, optFns ...func(*batch.Options)) (*batch.DeleteJobQueueOutput, error)
	CreateComputeEnvironment(ctx context.Context, in *batch.CreateComputeEnvironmentInput, optFns ...func(*batch.Options)) (*batch.CreateComputeEnvironmentOutput, error)
	UpdateComputeEnvironment(ctx context.Context, in *batch.UpdateComputeEnvironmentInput, optFns ...func(*batch.Options)) (*batch.UpdateComputeEnvironmentOutput, error)
	DeleteComputeEnvironment(ctx context.Context, in *batch.DeleteComputeEnvironmentInput, optFns ...func(*batch.Options)) (*batch.DeleteComputeEnvironmentOutput, error)
	DescribeJobDefinitions(ctx context.Context, in *batch.DescribeJobDefinitionsInput, optFns ...func(*batch.Options)) (*batch.DescribeJobDefinitionsOutput, error)
	RegisterJobDefinition(ctx context.Context, in *batch.RegisterJobDefinitionInput, optFns ...func(*batch.Options)) (*batch.RegisterJobDefinitionOutput, error)
}

// LogsAPI is the part of the CloudWatch Logs client the ensurer uses.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
}

// S3API is the part of the S3 client the ensurer uses.
type S3API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// DynamoDBAPI is the part of the DynamoDB client the ensurer uses.
type DynamoDBAPI interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// IAMAPI is the part of the IAM client the ensurer uses.
type IAMAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	GetInstanceProfile(ctx context.Context, in *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error)
	CreateInstanceProfile(ctx context.Context, in *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	AddRoleToInstanceProfile(ctx context.Context, in *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
}

// EC2API is the part of the EC2 client the ensurer uses.
type EC2API interface {
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DescribeKeyPairs(ctx context.Context, in *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
}

// Clients holds the service clients. Only Batch is needed for queue and
// job-definition work; the rest are used when the matching resource is
// ensured.
type Clients struct {
	Batch    BatchAPI
	Logs     LogsAPI
	S3       S3API
	DynamoDB DynamoDBAPI
	IAM      IAMAPI
	EC2      EC2API
}

// Config holds the ensurer's settings.
type Config struct {
	Region             string
	AccountID          string
	ComputeEnvironment config.ComputeEnvironmentConfig
	QueuePriority      int32
	KeyDir             string // where new SSH private keys are written

	Wait              backoff.Config
	QueueWaitAttempts int
	CEWaitAttempts    int
}

func (c Config) withDefaults() Config {
	if c.QueuePriority <= 0 {
		c.QueuePriority = 5
	}
	if c.Wait.Initial <= 0 {
		c.Wait = backoff.Config{Initial: 2 * time.Second, Max: 15 * time.Second, Jitter: 0.2}
	}
	if c.QueueWaitAttempts <= 0 {
		c.QueueWaitAttempts = 60
	}
	if c.CEWaitAttempts <= 0 {
		c.CEWaitAttempts = 300
	}
	ce := &c.ComputeEnvironment
	if ce.ComputeType == "" {
		ce.ComputeType = "EC2"
	}
	if ce.MaxVCPUs <= 0 {
		ce.MaxVCPUs = 64
	}
	if len(ce.InstanceTypes) == 0 {
		ce.InstanceTypes = []string{"optimal"}
	}
	if ce.InstanceRole == "" {
		ce.InstanceRole = "batchctl.ecs_container_instance"
	}
	if ce.ServiceRole == "" {
		ce.ServiceRole = "batchctl.service"
	}
	if ce.SecurityGroup == "" {
		ce.SecurityGroup = "batchctl.launch"
	}
	if ce.SSHKeyName == "" {
		ce.SSHKeyName = "batchctl"
	}
	return c
}

// Ensurer creates and tears down resources.
type Ensurer struct {
	clients Clients
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Ensurer.
func New(clients Clients, cfg Config) *Ensurer {
	return &Ensurer{clients: clients, cfg: cfg.withDefaults(), sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitFor polls check until it reports done, sleeping with jittered
// exponential backoff between attempts.
func (e *Ensurer) waitFor(ctx context.Context, what string, attempts int, check func(context.Context) (bool, error)) error {
	logger := slog.With("component", "provision", "resource", what)
	for attempt := 1; attempt <= attempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		delay := backoff.Jittered(attempt, &e.cfg.Wait)
		logger.Info("Waiting for resource", "attempt", attempt, "delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("timed out waiting for %s after %d attempts", what, attempts)
}

// ECRImageURI expands a repository:tag shorthand into a registry image URI.
func ECRImageURI(accountID, region, tag string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s", accountID, region, tag)
}
