package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jobflow/go-idempotent-jobflow/internal/aws"
	"github.com/jobflow/go-idempotent-jobflow/internal/idempotency"
	"github.com/jobflow/go-idempotent-jobflow/internal/jobs"
	"github.com/jobflow/go-idempotent-jobflow/internal/metrics"
	"github.com/jobflow/go-idempotent-jobflow/internal/validation"
)

// ErrOwnerBusy rejects a purge while the owner already has an active job.
var ErrOwnerBusy = errors.New("owner already has an active job")

// HandlerConfig groups dependencies for the purge API.
type HandlerConfig struct {
	IdempotencyStore idempotency.Store
	JobStore         jobs.Store
	Publisher        *aws.Publisher
	Metrics          *metrics.Emitter

	ResultTTL    time.Duration
	WaitBound    time.Duration
	PollInterval time.Duration

	// DeriveKeys switches key derivation from the Idempotency-Key header to
	// an expression over the request fields. Derivation wins when both are
	// available.
	DeriveKeys bool
}

// workerMessage is the SQS hand-off payload; cmd/worker decodes the same shape.
type workerMessage struct {
	JobID          string `json:"job_id"`
	OwnerRef       string `json:"owner_ref"`
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// RegisterRoutes registers the purge API.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	guard := idempotency.NewGuard(cfg.IdempotencyStore,
		idempotency.WithWaitBound(cfg.WaitBound),
		idempotency.WithPollInterval(cfg.PollInterval),
	)

	r.POST("/purges", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.PurgeRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		src := idempotency.KeySource{
			Scope:  "purge",
			Header: c.GetHeader("Idempotency-Key"),
		}
		if cfg.DeriveKeys {
			src.Fields = []any{req.OwnerRef, req.Reason}
		}
		key, err := idempotency.DeriveKey(src)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		admitted := false
		result, err := guard.Execute(ctx, key, cfg.ResultTTL, func(ctx context.Context) (idempotency.Result, error) {
			admitted = true
			return startPurge(ctx, cfg, c, req, key)
		})
		if err != nil {
			writePurgeError(c, cfg, key, err)
			return
		}

		if admitted {
			cfg.Metrics.Count(ctx, metrics.AdmissionProceed, 1)
		} else {
			cfg.Metrics.Count(ctx, metrics.AdmissionReplay, 1)
		}
		c.Data(result.Status, "application/json", []byte(result.Body))
	})

	r.GET("/jobs/:id", func(c *gin.Context) {
		ctx := c.Request.Context()

		job, err := cfg.JobStore.Get(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job_lookup_failed"})
			return
		}
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
			return
		}
		// owner scoping: callers that know the owner must not see foreign jobs
		if owner := c.Query("owner_ref"); owner != "" && owner != job.OwnerRef {
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
			return
		}

		resp := gin.H{
			"job_id":           job.ID,
			"owner_ref":        job.OwnerRef,
			"status":           job.Status,
			"processed_units":  job.ProcessedUnits,
			"progress_percent": job.ProgressPercent(),
			"created_at":       job.CreatedAt,
		}
		if job.TotalUnits != nil {
			resp["total_units"] = *job.TotalUnits
		}
		if job.CompletedAt != nil {
			resp["completed_at"] = *job.CompletedAt
		}
		if job.ErrorDetail != "" {
			resp["error_detail"] = job.ErrorDetail
		}
		c.JSON(http.StatusOK, resp)
	})
}

// startPurge is the guarded operation body: enforce owner exclusivity, create
// the job, enqueue it, and produce the response that duplicates will replay.
func startPurge(ctx context.Context, cfg HandlerConfig, c *gin.Context, req validation.PurgeRequest, key string) (idempotency.Result, error) {
	active, err := cfg.JobStore.CountActiveForOwner(ctx, req.OwnerRef)
	if err != nil {
		return idempotency.Result{}, fmt.Errorf("owner exclusivity check: %w", err)
	}
	if active > 0 {
		return idempotency.Result{}, ErrOwnerBusy
	}

	job, err := cfg.JobStore.Create(ctx, req.OwnerRef)
	if err != nil {
		return idempotency.Result{}, fmt.Errorf("create job: %w", err)
	}

	msg := workerMessage{
		JobID:          job.ID,
		OwnerRef:       req.OwnerRef,
		IdempotencyKey: key,
		CorrelationID:  c.GetHeader("X-Request-Id"),
	}
	payload, _ := json.Marshal(msg)
	attrs := map[string]string{
		"job_id":         job.ID,
		"owner_ref":      req.OwnerRef,
		"correlation_id": msg.CorrelationID,
	}
	if err := cfg.Publisher.SendJobMessage(ctx, string(payload), attrs); err != nil {
		// the job can never run; fail it so the owner is not locked out
		if ferr := cfg.JobStore.Fail(ctx, job.ID, fmt.Sprintf("enqueue_failed: %v", err)); ferr != nil {
			logrus.WithField("job_id", job.ID).WithError(ferr).Error("failed to mark unenqueued job FAILED")
		}
		return idempotency.Result{}, fmt.Errorf("enqueue job: %w", err)
	}

	c.Header("Location", fmt.Sprintf("/jobs/%s", job.ID))
	body, _ := json.Marshal(gin.H{"job_id": job.ID, "status": job.Status})
	return idempotency.Result{Status: http.StatusAccepted, Body: string(body)}, nil
}

func writePurgeError(c *gin.Context, cfg HandlerConfig, key string, err error) {
	switch {
	case errors.Is(err, idempotency.ErrWaitTimeout):
		cfg.Metrics.Count(c.Request.Context(), metrics.WaitTimeout, 1)
		c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
	case errors.Is(err, ErrOwnerBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "owner_job_active"})
	case errors.Is(err, idempotency.ErrStoreUnavailable), errors.Is(err, jobs.ErrStoreUnavailable):
		// fail closed: never run the body unguarded
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		logrus.WithField("key", key).WithError(err).Error("purge request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge_failed", "detail": err.Error()})
	}
}
