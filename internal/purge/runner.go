package purge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jobflow/go-idempotent-jobflow/internal/jobs"
	"github.com/jobflow/go-idempotent-jobflow/internal/metrics"
)

// Runner executes a purge job: claim it, delete every owned resource, delete
// the owner, complete. It is the single writer for the job while it holds the
// claim; pollers read the job store independently.
type Runner struct {
	jobs    jobs.Store
	repo    Repository
	metrics *metrics.Emitter
}

// NewRunner returns a Runner over the job store and domain repository.
func NewRunner(jobStore jobs.Store, repo Repository, emitter *metrics.Emitter) *Runner {
	return &Runner{
		jobs:    jobStore,
		repo:    repo,
		metrics: emitter,
	}
}

// Run drives jobID to a terminal state. A lost claim race or a duplicate
// delivery for an already-finished job returns nil so the message is not
// retried; everything else fails the job and propagates.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	log := logrus.WithField("job_id", jobID)

	job, err := r.jobs.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotClaimable) {
			return r.resolveUnclaimable(ctx, jobID, log)
		}
		return fmt.Errorf("claim job: %w", err)
	}
	log = log.WithField("owner_ref", job.OwnerRef)
	log.Info("claimed purge job")

	if err := r.purge(ctx, job); err != nil {
		log.WithError(err).Error("purge failed")
		if ferr := r.jobs.Fail(ctx, jobID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("failed to mark job FAILED")
		}
		r.metrics.Count(ctx, metrics.JobFailed, 1)
		return err
	}

	if err := r.jobs.Complete(ctx, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	r.metrics.Count(ctx, metrics.JobCompleted, 1)
	log.Info("purge job completed")
	return nil
}

// purge deletes children first, then the owner, reporting progress after
// every step. Total units = resources + 1 for the owner record; the final
// progress write lands before the COMPLETED transition so pollers never see
// a terminal job with stale counters.
func (r *Runner) purge(ctx context.Context, job *jobs.Job) error {
	ids, err := r.repo.ListResourceIDs(ctx, job.OwnerRef)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}

	total := int64(len(ids)) + 1
	if err := r.jobs.ReportProgress(ctx, job.ID, 0, &total); err != nil {
		return fmt.Errorf("report initial progress: %w", err)
	}

	var processed int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.repo.DeleteResource(ctx, job.OwnerRef, id); err != nil {
			return fmt.Errorf("delete resource %s: %w", id, err)
		}
		processed++
		if err := r.jobs.ReportProgress(ctx, job.ID, processed, nil); err != nil {
			return fmt.Errorf("report progress: %w", err)
		}
	}

	if err := r.repo.DeleteOwner(ctx, job.OwnerRef); err != nil {
		return fmt.Errorf("delete owner: %w", err)
	}
	processed++
	if err := r.jobs.ReportProgress(ctx, job.ID, processed, nil); err != nil {
		return fmt.Errorf("report final progress: %w", err)
	}
	return nil
}

// resolveUnclaimable inspects a job we could not claim. Finished or taken by
// another worker means a duplicate delivery: swallow it.
func (r *Runner) resolveUnclaimable(ctx context.Context, jobID string, log *logrus.Entry) error {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("inspect unclaimable job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	switch job.Status {
	case jobs.StatusCompleted:
		log.Info("job already completed")
		return nil
	case jobs.StatusInProgress:
		log.Info("job already claimed by another worker")
		return nil
	case jobs.StatusFailed:
		return fmt.Errorf("job %s already FAILED: %s", jobID, job.ErrorDetail)
	default:
		return fmt.Errorf("unexpected status for job %s: %s", jobID, job.Status)
	}
}
