package main

// WorkerMessage is the payload sent from API -> SQS -> Worker.
type WorkerMessage struct {
	JobID          string `json:"job_id"`
	OwnerRef       string `json:"owner_ref"`
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}
