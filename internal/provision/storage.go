package provision

import (
	"context"
	"log/slog"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	tableReadCapacity  = 5
	tableWriteCapacity = 5
	tableWaitAttempts  = 25
)

// EnsureLogGroup creates a CloudWatch Logs group.
func (e *Ensurer) EnsureLogGroup(ctx context.Context, name string) error {
	_, err := e.clients.Logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(name)})
	if err == nil {
		slog.Info("Log group created", "logGroup", name)
	}
	if err == nil || apperrors.IsAlreadyExists(err) {
		return nil
	}
	return apperrors.FromAWS("logs.CreateLogGroup", err)
}

// EnsureBucket creates an S3 bucket in the configured region.
func (e *Ensurer) EnsureBucket(ctx context.Context, name string) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if e.cfg.Region != "" && e.cfg.Region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(e.cfg.Region),
		}
	}
	_, err := e.clients.S3.CreateBucket(ctx, in)
	if err == nil {
		slog.Info("Bucket created", "bucket", name)
	}
	if err == nil || apperrors.IsAlreadyExists(err) {
		return nil
	}
	return apperrors.FromAWS("s3.CreateBucket", err)
}

// EnsureTable creates a DynamoDB table with a string hash key and waits for
// it to become ACTIVE.
func (e *Ensurer) EnsureTable(ctx context.Context, name, hashKey string) error {
	_, err := e.clients.DynamoDB.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: ddbtypes.KeyTypeHash},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		ProvisionedThroughput: &ddbtypes.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(tableReadCapacity),
			WriteCapacityUnits: aws.Int64(tableWriteCapacity),
		},
	})
	if err != nil && !apperrors.IsAlreadyExists(err) {
		return apperrors.FromAWS("dynamodb.CreateTable", err)
	}

	return e.waitFor(ctx, "table "+name, tableWaitAttempts, func(ctx context.Context) (bool, error) {
		out, err := e.clients.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			if apperrors.IsNotFound(err) {
				return false, nil
			}
			return false, apperrors.FromAWS("dynamodb.DescribeTable", err)
		}
		return out.Table != nil && out.Table.TableStatus == ddbtypes.TableStatusActive, nil
	})
}
