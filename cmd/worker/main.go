package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/jobflow/go-idempotent-jobflow/internal/aws"
	"github.com/jobflow/go-idempotent-jobflow/internal/config"
	"github.com/jobflow/go-idempotent-jobflow/internal/jobs"
	"github.com/jobflow/go-idempotent-jobflow/internal/metrics"
	"github.com/jobflow/go-idempotent-jobflow/internal/purge"
)

func main() {
	cfg := config.Load()

	if cfg.RunLocal {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("failed to init aws clients")
	}

	jobStore := jobs.NewDynamoStore(clients.DynamoDB, cfg.JobsTable)
	repo := purge.NewDynamoRepository(clients.DynamoDB, cfg.ResourcesTable, cfg.OwnersTable)
	emitter := metrics.NewEmitter(clients.CloudWatch, cfg.MetricsNamespace)
	processor := NewProcessor(purge.NewRunner(jobStore, repo, emitter))

	if cfg.RunLocal {
		// Local testing helper: simulate a single SQS event from env vars.
		testBody := localBody()
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := processor.Handle(context.Background(), event); err != nil {
			logrus.WithError(err).Fatal("local handler error")
		}
		return
	}

	lambda.Start(processor.Handle)
}

func localBody() string {
	if b := os.Getenv("LOCAL_SQS_BODY"); b != "" {
		return b
	}
	return `{"job_id":"local-job-1","owner_ref":"local-owner-1","idempotency_key":"local-key-1"}`
}
