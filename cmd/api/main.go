package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jobflow/go-idempotent-jobflow/internal/aws"
	"github.com/jobflow/go-idempotent-jobflow/internal/config"
	"github.com/jobflow/go-idempotent-jobflow/internal/handlers"
	"github.com/jobflow/go-idempotent-jobflow/internal/idempotency"
	"github.com/jobflow/go-idempotent-jobflow/internal/jobs"
	"github.com/jobflow/go-idempotent-jobflow/internal/metrics"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

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

	hcfg := handlers.HandlerConfig{
		IdempotencyStore: idempotency.NewDynamoStore(clients.DynamoDB, cfg.IdempotencyTable),
		JobStore:         jobs.NewDynamoStore(clients.DynamoDB, cfg.JobsTable),
		Publisher:        aws.NewPublisher(clients.SQS, cfg.QueueURL),
		Metrics:          metrics.NewEmitter(clients.CloudWatch, cfg.MetricsNamespace),
		ResultTTL:        cfg.ResultTTL,
		WaitBound:        cfg.WaitBound,
		PollInterval:     cfg.PollInterval,
	}

	r := setupRouter(hcfg)

	if cfg.RunLocal {
		addr := ":8080"
		logrus.Infof("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			logrus.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
