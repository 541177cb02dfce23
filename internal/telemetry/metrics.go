// Package telemetry emits operational metrics to AWS CloudWatch.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pubengine/internal/types"
)

// Metric names as published to CloudWatch.
const (
	MetricJobOutcome        = "JobOutcome"
	MetricJobItemsProcessed = "JobItemsProcessed"
	MetricPropagationFanout = "PropagationFanout"

	dimState = "State"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics publishes publish-run telemetry. Failures are logged and
// swallowed; the publish pipeline never stalls on metric delivery.
type Metrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// MetricsConfig holds dependencies for NewMetrics.
type MetricsConfig struct {
	Client    CloudWatchClient
	Namespace string
	Logger    *slog.Logger
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		client:    cfg.Client,
		namespace: cfg.Namespace,
		logger:    logger,
	}
}

// RecordJobOutcome emits one JobOutcome count with a State dimension, plus
// the number of items the run worked through.
func (m *Metrics) RecordJobOutcome(ctx context.Context, state types.JobState, counts types.JobCounts) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricJobOutcome),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(dimState),
						Value: aws.String(string(state)),
					},
				},
			},
			{
				MetricName: aws.String(MetricJobItemsProcessed),
				Value:      aws.Float64(float64(counts.Delivered + counts.Failed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(dimState),
						Value: aws.String(string(state)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record job outcome metric",
			"error", err.Error(),
			"state", string(state),
		)
	}
}

// RecordPropagation emits the number of ledger records one change event
// produced.
func (m *Metrics) RecordPropagation(ctx context.Context, fanout int) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricPropagationFanout),
				Value:      aws.Float64(float64(fanout)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record propagation metric",
			"error", err.Error(),
			"fanout", fanout,
		)
	}
}
