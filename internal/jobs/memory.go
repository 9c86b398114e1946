package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore implements Store on an in-process concurrent map for local runs
// and tests. Per-key Compute gives the same one-winner transitions as the
// conditional writes in DynamoStore; snapshots are value copies, so pollers
// never see a half-applied update.
type MemoryStore struct {
	jobs    *xsync.MapOf[string, Job]
	nowFunc func() time.Time
	idFunc  func() string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    xsync.NewMapOf[string, Job](),
		nowFunc: time.Now,
		idFunc:  uuid.NewString,
	}
}

func (s *MemoryStore) Create(_ context.Context, ownerRef string) (*Job, error) {
	now := s.nowFunc()
	job := Job{
		ID:        s.idFunc(),
		Status:    StatusPending,
		OwnerRef:  ownerRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs.Store(job.ID, job)
	out := job
	return &out, nil
}

func (s *MemoryStore) Claim(_ context.Context, jobID string) (*Job, error) {
	var claimed *Job
	var err error
	s.jobs.Compute(jobID, func(old Job, loaded bool) (Job, bool) {
		if !loaded || old.Status != StatusPending {
			err = ErrNotClaimable
			return old, !loaded
		}
		old.Status = StatusInProgress
		old.UpdatedAt = s.nowFunc()
		snapshot := old
		claimed = &snapshot
		return old, false
	})
	return claimed, err
}

func (s *MemoryStore) ReportProgress(_ context.Context, jobID string, processed int64, total *int64) error {
	if processed < 0 {
		return ErrInvalidProgress
	}
	var err error
	s.jobs.Compute(jobID, func(old Job, loaded bool) (Job, bool) {
		if !loaded || old.Status != StatusInProgress || processed < old.ProcessedUnits {
			err = ErrInvalidProgress
			return old, !loaded
		}
		old.ProcessedUnits = processed
		if total != nil {
			t := *total
			old.TotalUnits = &t
		}
		old.UpdatedAt = s.nowFunc()
		return old, false
	})
	return err
}

func (s *MemoryStore) Complete(_ context.Context, jobID string) error {
	var err error
	s.jobs.Compute(jobID, func(old Job, loaded bool) (Job, bool) {
		if !loaded || old.Status != StatusInProgress {
			err = ErrNotInProgress
			return old, !loaded
		}
		now := s.nowFunc()
		old.Status = StatusCompleted
		old.CompletedAt = &now
		old.UpdatedAt = now
		return old, false
	})
	return err
}

func (s *MemoryStore) Fail(_ context.Context, jobID string, detail string) error {
	var err error
	s.jobs.Compute(jobID, func(old Job, loaded bool) (Job, bool) {
		if !loaded || (old.Status != StatusInProgress && old.Status != StatusPending) {
			err = ErrNotInProgress
			return old, !loaded
		}
		now := s.nowFunc()
		old.Status = StatusFailed
		old.ErrorDetail = detail
		old.CompletedAt = &now
		old.UpdatedAt = now
		return old, false
	})
	return err
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	job, ok := s.jobs.Load(jobID)
	if !ok {
		return nil, nil
	}
	out := job
	return &out, nil
}

func (s *MemoryStore) CountActiveForOwner(_ context.Context, ownerRef string) (int, error) {
	count := 0
	s.jobs.Range(func(_ string, job Job) bool {
		if job.OwnerRef == ownerRef && !job.Terminal() {
			count++
		}
		return true
	})
	return count, nil
}
