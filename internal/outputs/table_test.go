package outputs

import (
	"context"
	"errors"
	"testing"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamoDB struct {
	items map[string]map[string]types.AttributeValue
	in    *dynamodb.GetItemInput
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.in = in
	key := in.Key["job_id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func TestOutputs(t *testing.T) {
	t.Parallel()
	api := &fakeDynamoDB{items: map[string]map[string]types.AttributeValue{
		"job-1": {
			"job_id": &types.AttributeValueMemberS{Value: "job-1"},
			"output": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				"class":    &types.AttributeValueMemberS{Value: "File"},
				"location": &types.AttributeValueMemberS{Value: "s3://batchctl-jobs-123/job-1/out.txt"},
			}},
			"count": &types.AttributeValueMemberN{Value: "3"},
		},
	}}
	table := NewTable(api, "batchctl-jobs", "job_id")

	got, err := table.Outputs(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Outputs() error = %v", err)
	}
	if _, ok := got["job_id"]; ok {
		t.Error("key attribute should be dropped")
	}
	out, ok := got["output"].(map[string]any)
	if !ok || out["class"] != "File" {
		t.Errorf("output = %#v", got["output"])
	}
	if got["count"] != float64(3) {
		t.Errorf("count = %#v", got["count"])
	}
	if aws.ToString(api.in.TableName) != "batchctl-jobs" || !aws.ToBool(api.in.ConsistentRead) {
		t.Errorf("unexpected request %+v", api.in)
	}

	if _, err := table.Outputs(context.Background(), "job-2"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
