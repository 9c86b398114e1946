package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo understands exactly the conditional writes the job store issues.
// NOTE: intentionally minimal and not production-grade.
type mockDynamo struct {
	mu      sync.Mutex
	table   map[string]map[string]types.AttributeValue
	failAll bool
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func jobID(item map[string]types.AttributeValue) (string, error) {
	attr, ok := item["job_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing job_id")
	}
	return attr.Value, nil
}

func statusOf(item map[string]types.AttributeValue) string {
	if v, ok := item["status"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numOf(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("dynamodb down")
	}
	id, err := jobID(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(job_id)" {
		if _, exists := m.table[id]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[id] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("dynamodb down")
	}
	id, err := jobID(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[id]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("dynamodb down")
	}
	id, err := jobID(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[id]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}

	vals := params.ExpressionAttributeValues
	if params.ConditionExpression != nil {
		status := statusOf(item)
		switch *params.ConditionExpression {
		case "#s = :pending":
			if status != StatusPending {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#s = :inprog":
			if status != StatusInProgress {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#s = :inprog AND processed_units <= :p":
			if status != StatusInProgress || numOf(item, "processed_units") > numOf(vals, ":p") {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#s = :inprog OR #s = :pending":
			if status != StatusInProgress && status != StatusPending {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, errors.New("unexpected condition: " + *params.ConditionExpression)
		}
	}

	// apply the handful of SET shapes the store uses
	if v, ok := vals[":inprog"]; ok && params.ConditionExpression != nil && *params.ConditionExpression == "#s = :pending" {
		item["status"] = v
	}
	if v, ok := vals[":done"]; ok {
		item["status"] = v
	}
	if v, ok := vals[":failed"]; ok {
		item["status"] = v
	}
	if v, ok := vals[":p"]; ok {
		item["processed_units"] = v
	}
	if v, ok := vals[":t"]; ok {
		item["total_units"] = v
	}
	if v, ok := vals[":ed"]; ok {
		item["error_detail"] = v
	}
	if v, ok := vals[":ca"]; ok {
		item["completed_at"] = v
	}
	if v, ok := vals[":ua"]; ok {
		item["updated_at"] = v
	}
	m.table[id] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return nil, errors.New("delete not supported by this mock")
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("dynamodb down")
	}
	owner, ok := params.ExpressionAttributeValues[":o"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing :o")
	}
	var count int32
	for _, item := range m.table {
		if v, ok := item["owner_ref"].(*types.AttributeValueMemberS); !ok || v.Value != owner.Value {
			continue
		}
		if s := statusOf(item); s == StatusPending || s == StatusInProgress {
			count++
		}
	}
	return &dyn.QueryOutput{Count: count}, nil
}
