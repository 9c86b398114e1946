package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/jobflow/go-idempotent-jobflow/internal/purge"
)

// Processor handles SQS messages and drives purge jobs to a terminal state.
type Processor struct {
	runner *purge.Runner
}

// NewProcessor wires a processor over the job store and domain repository.
func NewProcessor(runner *purge.Runner) *Processor {
	return &Processor{runner: runner}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			logrus.WithError(err).Error("worker error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg WorkerMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.JobID == "" {
		return fmt.Errorf("message missing job_id: %s", rec.Body)
	}

	logrus.WithFields(logrus.Fields{
		"job_id":    msg.JobID,
		"owner_ref": msg.OwnerRef,
		"corr":      msg.CorrelationID,
	}).Info("received purge message")

	if err := p.runner.Run(ctx, msg.JobID); err != nil {
		// redeliveries for a FAILED job keep erroring here on purpose: SQS
		// retries until the message lands in the DLQ for operator review
		return fmt.Errorf("run job %s: %w", msg.JobID, err)
	}
	return nil
}
