package idempotency

import (
	"errors"
	"time"
)

// States for idempotency records.
const (
	StateInProgress = "IN_PROGRESS"
	StateCompleted  = "COMPLETED"
)

// Result is the cached outcome of a completed operation: an outcome
// discriminator plus a small serialized body. Large payloads should be stored
// elsewhere and referenced from the body.
type Result struct {
	Status int    `dynamodbav:"response_status" json:"status"`
	Body   string `dynamodbav:"response_body" json:"body"`
}

// Record is the shape persisted per idempotency key. Result is embedded so
// its fields land as top-level attributes next to the record's own.
type Record struct {
	Key   string `dynamodbav:"idempotency_key"` // PK
	State string `dynamodbav:"state"`
	Token string `dynamodbav:"admission_token"` // fences Complete/Abandon to the admitting executor
	Result
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Expired reports whether the record is past its TTL window at instant now.
// Expired records are treated as absent everywhere.
func (r *Record) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

var (
	// ErrStoreUnavailable means the backing store could not be reached.
	// Admission fails closed on it: the guarded body must not run.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")

	// ErrAlreadyCompleted means Complete or Abandon was attempted on a record
	// that is missing or no longer IN_PROGRESS. Signals a caller bug.
	ErrAlreadyCompleted = errors.New("idempotency record already completed or missing")

	// ErrWaitTimeout means an identical key stayed in flight past the wait
	// bound. The caller should retry later; the body was not executed.
	ErrWaitTimeout = errors.New("operation still in progress")
)
