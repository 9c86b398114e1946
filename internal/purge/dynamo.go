package purge

import (
	"context"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jobflow/go-idempotent-jobflow/internal/aws"
)

// DynamoRepository implements Repository against a resources table keyed by
// (owner_ref, resource_id) and an owners table keyed by owner_ref.
type DynamoRepository struct {
	client         aws.DynamoDBAPI
	resourcesTable string
	ownersTable    string
}

// NewDynamoRepository returns a Repository over the two tables.
func NewDynamoRepository(client aws.DynamoDBAPI, resourcesTable, ownersTable string) *DynamoRepository {
	return &DynamoRepository{
		client:         client,
		resourcesTable: resourcesTable,
		ownersTable:    ownersTable,
	}
}

func (r *DynamoRepository) ListResourceIDs(ctx context.Context, ownerRef string) ([]string, error) {
	var ids []string
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dyn.QueryInput{
			TableName:              &r.resourcesTable,
			KeyConditionExpression: awsString("owner_ref = :o"),
			ProjectionExpression:   awsString("resource_id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":o": &types.AttributeValueMemberS{Value: ownerRef},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query resources: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item["resource_id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return ids, nil
}

func (r *DynamoRepository) DeleteResource(ctx context.Context, ownerRef, resourceID string) error {
	_, err := r.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &r.resourcesTable,
		Key: map[string]types.AttributeValue{
			"owner_ref":   &types.AttributeValueMemberS{Value: ownerRef},
			"resource_id": &types.AttributeValueMemberS{Value: resourceID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", resourceID, err)
	}
	return nil
}

func (r *DynamoRepository) DeleteOwner(ctx context.Context, ownerRef string) error {
	_, err := r.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &r.ownersTable,
		Key: map[string]types.AttributeValue{
			"owner_ref": &types.AttributeValueMemberS{Value: ownerRef},
		},
	})
	if err != nil {
		return fmt.Errorf("delete owner: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
