package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	pkgerrors "chatgraph/pkg/errors"
)

// CloudWatchAPI is the subset of the CloudWatch client used by Metrics
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics handles application metrics in CloudWatch
type Metrics struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger
}

// NewMetrics creates a new metrics instance. A nil client disables recording.
func NewMetrics(namespace string, client CloudWatchAPI, logger *zap.Logger) *Metrics {
	return &Metrics{
		namespace: namespace,
		client:    client,
		logger:    logger,
	}
}

// RecordOperation records the latency and outcome of a service operation
func (m *Metrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil || m.client == nil {
		return
	}

	now := time.Now()
	dims := []types.Dimension{
		{Name: aws.String("Operation"), Value: aws.String(operation)},
		{Name: aws.String("Status"), Value: aws.String(outcome(err))},
	}
	data := []types.MetricDatum{
		{
			MetricName: aws.String("OperationLatency"),
			Dimensions: dims,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  aws.Time(now),
		},
		{
			MetricName: aws.String("OperationCount"),
			Dimensions: dims,
			Value:      aws.Float64(1),
			Unit:       types.StandardUnitCount,
			Timestamp:  aws.Time(now),
		},
	}
	if err != nil {
		data = append(data, types.MetricDatum{
			MetricName: aws.String("Errors"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Operation"), Value: aws.String(operation)},
				{Name: aws.String("ErrorType"), Value: aws.String(errorType(err))},
			},
			Value:     aws.Float64(1),
			Unit:      types.StandardUnitCount,
			Timestamp: aws.Time(now),
		})
	}

	m.put(ctx, data)
}

// RecordBusinessMetric records a custom count such as branches created
func (m *Metrics) RecordBusinessMetric(ctx context.Context, metricName string, value float64, dimensions map[string]string) {
	if m == nil || m.client == nil {
		return
	}
	var dims []types.Dimension
	for name, val := range dimensions {
		dims = append(dims, types.Dimension{Name: aws.String(name), Value: aws.String(val)})
	}
	m.put(ctx, []types.MetricDatum{{
		MetricName: aws.String(metricName),
		Dimensions: dims,
		Value:      aws.Float64(value),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
	}})
}

func (m *Metrics) put(ctx context.Context, data []types.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		// metrics never fail the operation they describe
		m.logger.Warn("Failed to send metrics", zap.Error(err))
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func errorType(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	return "UNKNOWN"
}

// OperationRecorder is satisfied by Metrics and Collector
type OperationRecorder interface {
	RecordOperation(ctx context.Context, operation string, duration time.Duration, err error)
}

// Recorders fans one observation out to several recorders
type Recorders []OperationRecorder

// RecordOperation implements OperationRecorder
func (rs Recorders) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	for _, r := range rs {
		r.RecordOperation(ctx, operation, duration, err)
	}
}
