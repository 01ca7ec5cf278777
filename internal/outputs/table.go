// Package outputs reads the results workflow jobs write to the status
// table.
package outputs

import (
	"context"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the part of the DynamoDB client the table uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Table is a status table keyed by job ID.
type Table struct {
	api     API
	name    string
	hashKey string
}

// NewTable creates a Table reader.
func NewTable(api API, name, hashKey string) *Table {
	return &Table{api: api, name: name, hashKey: hashKey}
}

// Outputs returns the item of jobID without its key attribute.
func (t *Table) Outputs(ctx context.Context, jobID string) (map[string]any, error) {
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.name),
		Key:            map[string]types.AttributeValue{t.hashKey: &types.AttributeValueMemberS{Value: jobID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperrors.FromAWS("dynamodb.GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, apperrors.NotFound("workflow outputs", jobID)
	}

	var item map[string]any
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, apperrors.Internal("outputs.Outputs", err)
	}
	delete(item, t.hashKey)
	return item, nil
}

var _ job.OutputStore = (*Table)(nil)
