// Package core holds the shared contracts of the notification pipeline:
// delivery metrics and the result vocabulary used across the dispatcher and
// the workers.
package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"duepoint/internal/types"
)

// MetricResult labels a delivery outcome for the Result metric dimension.
type MetricResult string

const (
	ResultSuccess MetricResult = "success"
	ResultFailure MetricResult = "failure"
)

// PipelineMetrics is the telemetry surface of the delivery pipeline.
// Implementations must never fail the business operation; emission errors are
// logged and swallowed.
type PipelineMetrics interface {
	// RecordDelivery counts one delivery attempt per audience and outcome.
	RecordDelivery(ctx context.Context, kind types.TargetKind, result MetricResult)

	// RecordLatency tracks how long one webhook call took.
	RecordLatency(ctx context.Context, kind types.TargetKind, duration time.Duration)

	// RecordQueueDepth reports how many due pending notifications remain
	// after a drainer run.
	RecordQueueDepth(ctx context.Context, depth int)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements PipelineMetrics.
var _ PipelineMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements PipelineMetrics by emitting to AWS CloudWatch.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the standard
// pipeline namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordDelivery emits a DeliveryAttempt metric with Audience and Result
// dimensions.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, kind types.TargetKind, result MetricResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimKind),
						Value: aws.String(string(kind)),
					},
					{
						Name:  aws.String(types.DimResult),
						Value: aws.String(string(result)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"kind", string(kind),
			"result", string(result),
		)
	}
}

// RecordLatency emits the delivery latency in milliseconds with the Audience
// dimension.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, kind types.TargetKind, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimKind),
						Value: aws.String(string(kind)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"kind", string(kind),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordQueueDepth emits the remaining due pending count.
func (m *CloudWatchMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricQueueDepth),
				Value:      aws.Float64(float64(depth)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue depth metric",
			"error", err.Error(),
			"depth", depth,
		)
	}
}

// NoopMetrics discards all metrics. Used in local development and tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.TargetKind, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.TargetKind, time.Duration) {}
func (NoopMetrics) RecordQueueDepth(context.Context, int)                          {}
