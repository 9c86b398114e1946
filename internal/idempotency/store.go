package idempotency

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

// Store is the key-addressed record store the guard runs on. All mutations
// are single atomic operations; there is no external locking.
type Store interface {
	// PutIfAbsent inserts an IN_PROGRESS record for key unless an active
	// (non-expired) record already exists. On winning the insert it returns
	// created=true and the admission token that fences later Complete/Abandon
	// calls. The insert must be race-free: of N concurrent calls for the same
	// key exactly one observes created=true.
	PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (token string, created bool, err error)

	// Get returns the active record for key, or (nil, nil) when absent or
	// expired.
	Get(ctx context.Context, key string) (*Record, error)

	// Complete transitions key from IN_PROGRESS to COMPLETED, attaches the
	// result and re-arms the TTL from the completion instant. Only the
	// admission that created the record may complete it, and only inside its
	// TTL window: a missing, expired, completed or foreign-token record
	// returns ErrAlreadyCompleted.
	Complete(ctx context.Context, key, token string, result Result, ttl time.Duration) error

	// Abandon removes the IN_PROGRESS record for key so a later caller can
	// retry. Same fencing as Complete: ErrAlreadyCompleted unless the record
	// is this token's own live admission.
	Abandon(ctx context.Context, key, token string) error
}

// DynamoStore implements Store against a DynamoDB table keyed by
// idempotency_key, with expires_at doubling as the table's TTL attribute.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a Store bound to tableName.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// PutIfAbsent performs a conditional put. An expired leftover record counts
// as absent and is overwritten in the same atomic operation.
func (s *DynamoStore) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	now := s.nowFunc()
	rec := Record{
		Key:       key,
		State:     StateInProgress,
		Token:     uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: put item: %v", ErrStoreUnavailable, err)
	}
	return rec.Token, true, nil
}

// Get retrieves a record by key with a consistent read. Expired records are
// reported as absent; physical removal is left to the table TTL.
func (s *DynamoStore) Get(ctx context.Context, key string) (*Record, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: get item: %v", ErrStoreUnavailable, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if rec.Expired(s.nowFunc()) {
		return nil, nil
	}
	return &rec, nil
}

// Complete performs the IN_PROGRESS -> COMPLETED transition. The TTL counts
// from completion so duplicates keep the full replay window after the answer
// is known. The condition fences out stale executors: the record must still
// carry this admission's token and must not have expired, so an executor that
// outlived its TTL can never overwrite a successor's admission.
func (s *DynamoStore) Complete(ctx context.Context, key, token string, result Result, ttl time.Duration) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    awsString("SET #s = :done, response_status = :rs, response_body = :rb, updated_at = :ua, expires_at = :exp"),
		ConditionExpression: awsString("#s = :inprog AND admission_token = :tok AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":   &types.AttributeValueMemberS{Value: StateCompleted},
			":inprog": &types.AttributeValueMemberS{Value: StateInProgress},
			":tok":    &types.AttributeValueMemberS{Value: token},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":rs":     &types.AttributeValueMemberN{Value: strconv.Itoa(result.Status)},
			":rb":     &types.AttributeValueMemberS{Value: result.Body},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":exp":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)},
		},
		ReturnValues: types.ReturnValueNone,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrAlreadyCompleted
		}
		return fmt.Errorf("%w: update item (complete): %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Abandon deletes the record only while it is still this token's live
// IN_PROGRESS admission, so a failed executor never wipes a completed result
// or a successor's admission.
func (s *DynamoStore) Abandon(ctx context.Context, key, token string) error {
	now := s.nowFunc()
	input := &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: awsString("#s = :inprog AND admission_token = :tok AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprog": &types.AttributeValueMemberS{Value: StateInProgress},
			":tok":    &types.AttributeValueMemberS{Value: token},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrAlreadyCompleted
		}
		return fmt.Errorf("%w: delete item (abandon): %v", ErrStoreUnavailable, err)
	}
	return nil
}

// isConditionalCheckFailed detects a failed ConditionExpression either as the
// typed exception or via the smithy error code.
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
