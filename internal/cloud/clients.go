// Package cloud builds the AWS service clients from the default credential
// chain.
package cloud

import (
	"context"
	"fmt"
	"sync"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Options select the region and shared-config profile. Empty values use
// the SDK defaults.
type Options struct {
	Region  string
	Profile string
}

// Clients holds one client per service.
type Clients struct {
	Config   aws.Config
	Batch    *batch.Client
	Logs     *cloudwatchlogs.Client
	S3       *s3.Client
	Presign  *s3.PresignClient
	EFS      *efs.Client
	DynamoDB *dynamodb.Client
	IAM      *iam.Client
	EC2      *ec2.Client
	Identity *Identity
}

// Load resolves credentials and creates the clients.
func Load(ctx context.Context, opts Options) (*Clients, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Region == "" {
		return nil, apperrors.Validation("region", "no AWS region configured; set BATCHCTL_REGION or AWS_REGION")
	}

	s3Client := s3.NewFromConfig(cfg)
	return &Clients{
		Config:   cfg,
		Batch:    batch.NewFromConfig(cfg),
		Logs:     cloudwatchlogs.NewFromConfig(cfg),
		S3:       s3Client,
		Presign:  s3.NewPresignClient(s3Client),
		EFS:      efs.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		IAM:      iam.NewFromConfig(cfg),
		EC2:      ec2.NewFromConfig(cfg),
		Identity: NewIdentity(sts.NewFromConfig(cfg)),
	}, nil
}

// Region returns the resolved region.
func (c *Clients) Region() string { return c.Config.Region }

// STSAPI is the part of the STS client Identity uses.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity resolves and caches the caller's account ID.
type Identity struct {
	api STSAPI

	mu      sync.Mutex
	account string
}

// NewIdentity creates an Identity.
func NewIdentity(api STSAPI) *Identity {
	return &Identity{api: api}
}

// AccountID returns the account of the current credentials.
func (i *Identity) AccountID(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.account != "" {
		return i.account, nil
	}
	out, err := i.api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", apperrors.FromAWS("sts.GetCallerIdentity", err)
	}
	i.account = aws.ToString(out.Account)
	return i.account, nil
}

// Ready checks that the credentials are valid.
func (i *Identity) Ready(ctx context.Context) error {
	_, err := i.AccountID(ctx)
	return err
}
