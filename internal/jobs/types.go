package jobs

import (
	"errors"
	"time"
)

// Job statuses. The machine is PENDING -> IN_PROGRESS -> {COMPLETED, FAILED},
// plus PENDING -> FAILED for claim-time precondition failures. Terminal
// states never transition out.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Job is a tracked unit of long-running asynchronous work.
type Job struct {
	ID             string     `dynamodbav:"job_id" json:"job_id"` // PK
	Status         string     `dynamodbav:"status" json:"status"`
	OwnerRef       string     `dynamodbav:"owner_ref" json:"owner_ref"` // opaque to the tracker
	TotalUnits     *int64     `dynamodbav:"total_units,omitempty" json:"total_units,omitempty"`
	ProcessedUnits int64      `dynamodbav:"processed_units" json:"processed_units"`
	CreatedAt      time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time `dynamodbav:"completed_at,omitempty" json:"completed_at,omitempty"`
	ErrorDetail    string     `dynamodbav:"error_detail,omitempty" json:"error_detail,omitempty"`
}

// Terminal reports whether the job reached COMPLETED or FAILED.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ProgressPercent derives completion percent on read; it is never stored, so
// it cannot drift from the counters. Unknown or zero totals report 0.
func (j *Job) ProgressPercent() int {
	if j.TotalUnits == nil || *j.TotalUnits <= 0 || j.ProcessedUnits < 0 {
		return 0
	}
	pct := int(j.ProcessedUnits * 100 / *j.TotalUnits)
	if pct > 100 {
		return 100
	}
	return pct
}

var (
	// ErrNotClaimable: claim attempted on a missing or non-PENDING job.
	ErrNotClaimable = errors.New("job not claimable")

	// ErrInvalidProgress: progress would decrease, or the job is not
	// IN_PROGRESS.
	ErrInvalidProgress = errors.New("invalid progress update")

	// ErrNotInProgress: terminal transition attempted on a job that is not
	// IN_PROGRESS (or PENDING, for Fail). Terminal jobs are never resurrected.
	ErrNotInProgress = errors.New("job not in progress")

	// ErrStoreUnavailable: the backing store could not be reached.
	ErrStoreUnavailable = errors.New("job store unavailable")
)
