package telemetry

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubengine/internal/types"
)

type mockCloudWatch struct {
	inputs   []*cloudwatch.PutMetricDataInput
	failNext bool
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if m.failNext {
		m.failNext = false
		return nil, fmt.Errorf("simulated CloudWatch failure")
	}
	m.inputs = append(m.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func findDatum(t *testing.T, input *cloudwatch.PutMetricDataInput, name string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range input.MetricData {
		if aws.ToString(d.MetricName) == name {
			return d
		}
	}
	t.Fatalf("metric %q not found", name)
	return cwtypes.MetricDatum{}
}

func TestMetrics_RecordJobOutcome(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewMetrics(MetricsConfig{Client: cw, Namespace: "PubEngine"})

	m.RecordJobOutcome(context.Background(), types.JobStateCompleted, types.JobCounts{
		Queued: 5, Assembled: 5, Delivered: 4, Failed: 1,
	})

	require.Len(t, cw.inputs, 1)
	input := cw.inputs[0]
	assert.Equal(t, "PubEngine", aws.ToString(input.Namespace))

	outcome := findDatum(t, input, MetricJobOutcome)
	assert.Equal(t, float64(1), aws.ToFloat64(outcome.Value))
	require.Len(t, outcome.Dimensions, 1)
	assert.Equal(t, "State", aws.ToString(outcome.Dimensions[0].Name))
	assert.Equal(t, "COMPLETED", aws.ToString(outcome.Dimensions[0].Value))

	items := findDatum(t, input, MetricJobItemsProcessed)
	assert.Equal(t, float64(5), aws.ToFloat64(items.Value))
}

func TestMetrics_RecordPropagation(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewMetrics(MetricsConfig{Client: cw, Namespace: "PubEngine"})

	m.RecordPropagation(context.Background(), 12)

	require.Len(t, cw.inputs, 1)
	datum := findDatum(t, cw.inputs[0], MetricPropagationFanout)
	assert.Equal(t, float64(12), aws.ToFloat64(datum.Value))
}

func TestMetrics_PutFailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{failNext: true}
	m := NewMetrics(MetricsConfig{Client: cw, Namespace: "PubEngine"})

	// Must not panic or propagate the error.
	m.RecordJobOutcome(context.Background(), types.JobStateFailed, types.JobCounts{})
	assert.Empty(t, cw.inputs)
}
