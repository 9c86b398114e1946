package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"

	"github.com/jobflow/go-idempotent-jobflow/internal/aws"
)

// Metric names published under the service namespace.
const (
	AdmissionProceed = "AdmissionProceed"
	AdmissionReplay  = "AdmissionReplay"
	WaitTimeout      = "WaitTimeout"
	JobCompleted     = "JobCompleted"
	JobFailed        = "JobFailed"
)

// Emitter publishes counters to CloudWatch. Emission is best-effort: errors
// are logged and never surfaced to callers. A nil Emitter is a no-op, so
// tests and local runs can skip wiring it.
type Emitter struct {
	client    aws.CloudWatchAPI
	namespace string
}

// NewEmitter returns an Emitter publishing into namespace.
func NewEmitter(client aws.CloudWatchAPI, namespace string) *Emitter {
	return &Emitter{
		client:    client,
		namespace: namespace,
	}
}

// Count adds value to the named counter.
func (e *Emitter) Count(ctx context.Context, name string, value float64) {
	if e == nil || e.client == nil {
		return
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: &e.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}
	if _, err := e.client.PutMetricData(ctx, input); err != nil {
		logrus.WithError(err).WithField("metric", name).Warn("failed to publish metric")
	}
}
