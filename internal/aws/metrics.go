package aws

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsEmitter pushes operational counters to CloudWatch. Emission is
// best-effort: failures are logged and dropped, never surfaced to callers.
type MetricsEmitter struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
}

// NewMetricsEmitter returns an emitter for the given namespace.
func NewMetricsEmitter(client CloudWatchAPI, namespace string, logger *slog.Logger) *MetricsEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsEmitter{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// Count emits a unit-count datapoint with the given dimensions.
func (e *MetricsEmitter) Count(ctx context.Context, name string, value float64, dimensions map[string]string) {
	if e == nil || e.client == nil {
		return
	}

	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &e.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  awsTime(time.Now().UTC()),
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		e.logger.Warn("cloudwatch metric dropped", "metric", name, "error", err)
	}
}

func awsTime(t time.Time) *time.Time { return &t }
