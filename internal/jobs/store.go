package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/jobflow/go-idempotent-jobflow/internal/aws"
)

// Store is the job record store. A single claimed worker drives a job's
// mutations; any number of pollers read it concurrently. Every transition is
// one atomic conditional write.
type Store interface {
	// Create allocates a fresh PENDING job for ownerRef.
	Create(ctx context.Context, ownerRef string) (*Job, error)

	// Claim transitions PENDING -> IN_PROGRESS. Of N concurrent claims on
	// the same job exactly one succeeds; the rest get ErrNotClaimable.
	Claim(ctx context.Context, jobID string) (*Job, error)

	// ReportProgress updates the counters. processed must not decrease and
	// the job must be IN_PROGRESS, otherwise ErrInvalidProgress. Repeating
	// an identical value is a no-op, not an error. total, when non-nil,
	// records the work estimate.
	ReportProgress(ctx context.Context, jobID string, processed int64, total *int64) error

	// Complete transitions IN_PROGRESS -> COMPLETED and stamps CompletedAt.
	Complete(ctx context.Context, jobID string) error

	// Fail transitions IN_PROGRESS (or PENDING, for claim-time failures)
	// -> FAILED with detail and stamps CompletedAt.
	Fail(ctx context.Context, jobID string, detail string) error

	// Get returns a read-only snapshot, or (nil, nil) when missing. Never
	// blocks on the worker's writes.
	Get(ctx context.Context, jobID string) (*Job, error)

	// CountActiveForOwner counts PENDING/IN_PROGRESS jobs for ownerRef.
	// Callers that require exclusivity check this before Create.
	CountActiveForOwner(ctx context.Context, ownerRef string) (int, error)
}

// OwnerIndexName is the GSI projecting jobs by owner_ref.
const OwnerIndexName = "owner_ref-index"

// DynamoStore implements Store against a DynamoDB table keyed by job_id with
// an owner_ref GSI.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	idFunc    func() string
}

// NewDynamoStore returns a Store bound to tableName.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		idFunc:    uuid.NewString,
	}
}

func (s *DynamoStore) Create(ctx context.Context, ownerRef string) (*Job, error) {
	now := s.nowFunc()
	job := &Job{
		ID:             s.idFunc(),
		Status:         StatusPending,
		OwnerRef:       ownerRef,
		ProcessedUnits: 0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(job_id)"),
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: put job: %v", ErrStoreUnavailable, err)
	}
	return job, nil
}

func (s *DynamoStore) Claim(ctx context.Context, jobID string) (*Job, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 jobKey(jobID),
		UpdateExpression:    awsString("SET #s = :inprog, updated_at = :ua"),
		ConditionExpression: awsString("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprog":  &types.AttributeValueMemberS{Value: StatusInProgress},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrNotClaimable
		}
		return nil, fmt.Errorf("%w: claim job: %v", ErrStoreUnavailable, err)
	}
	var job Job
	if err := attributevalue.UnmarshalMap(out.Attributes, &job); err != nil {
		return nil, fmt.Errorf("unmarshal claimed job: %w", err)
	}
	return &job, nil
}

func (s *DynamoStore) ReportProgress(ctx context.Context, jobID string, processed int64, total *int64) error {
	if processed < 0 {
		return ErrInvalidProgress
	}
	now := s.nowFunc()
	update := "SET processed_units = :p, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":p":      &types.AttributeValueMemberN{Value: strconv.FormatInt(processed, 10)},
		":inprog": &types.AttributeValueMemberS{Value: StatusInProgress},
		":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if total != nil {
		update += ", total_units = :t"
		values[":t"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*total, 10)}
	}

	// Monotonic counter: reject any decrease, and only while IN_PROGRESS.
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 jobKey(jobID),
		UpdateExpression:    awsString(update),
		ConditionExpression: awsString("#s = :inprog AND processed_units <= :p"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: values,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrInvalidProgress
		}
		return fmt.Errorf("%w: report progress: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *DynamoStore) Complete(ctx context.Context, jobID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 jobKey(jobID),
		UpdateExpression:    awsString("SET #s = :done, completed_at = :ca, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprog"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":   &types.AttributeValueMemberS{Value: StatusCompleted},
			":inprog": &types.AttributeValueMemberS{Value: StatusInProgress},
			":ca":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotInProgress
		}
		return fmt.Errorf("%w: complete job: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *DynamoStore) Fail(ctx context.Context, jobID string, detail string) error {
	now := s.nowFunc()
	// PENDING -> FAILED is allowed: claim-time precondition failures.
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 jobKey(jobID),
		UpdateExpression:    awsString("SET #s = :failed, error_detail = :ed, completed_at = :ca, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprog OR #s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":  &types.AttributeValueMemberS{Value: StatusFailed},
			":inprog":  &types.AttributeValueMemberS{Value: StatusInProgress},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":ed":      &types.AttributeValueMemberS{Value: detail},
			":ca":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotInProgress
		}
		return fmt.Errorf("%w: fail job: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, jobID string) (*Job, error) {
	input := &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            jobKey(jobID),
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %v", ErrStoreUnavailable, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var job Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *DynamoStore) CountActiveForOwner(ctx context.Context, ownerRef string) (int, error) {
	count := 0
	var startKey map[string]types.AttributeValue
	for {
		input := &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              awsString(OwnerIndexName),
			KeyConditionExpression: awsString("owner_ref = :o"),
			FilterExpression:       awsString("#s = :pending OR #s = :inprog"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":o":       &types.AttributeValueMemberS{Value: ownerRef},
				":pending": &types.AttributeValueMemberS{Value: StatusPending},
				":inprog":  &types.AttributeValueMemberS{Value: StatusInProgress},
			},
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		}
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("%w: count active jobs: %v", ErrStoreUnavailable, err)
		}
		count += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return count, nil
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
