package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubengine/internal/types"
)

type mockSQSSender struct {
	calls    []*sqs.SendMessageInput
	failNext bool
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.failNext {
		m.failNext = false
		return nil, fmt.Errorf("simulated SQS API failure")
	}
	m.calls = append(m.calls, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("mid-1")}, nil
}

func TestJobEventPublisher_SendsJSONBodyAndStateAttribute(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewJobEventPublisher(JobEventPublisherConfig{
		Client:   sender,
		QueueURL: "https://sqs.us-east-1.amazonaws.com/123456789012/job-events",
	})

	event := types.JobEvent{
		JobID:     42,
		EditionID: 7,
		State:     types.JobStateCompleted,
		Counts:    types.JobCounts{Queued: 3, Assembled: 3, Delivered: 3},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishJobEvent(context.Background(), event))
	require.Len(t, sender.calls, 1)

	call := sender.calls[0]
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123456789012/job-events", aws.ToString(call.QueueUrl))
	assert.Equal(t, "COMPLETED", aws.ToString(call.MessageAttributes["state"].StringValue))

	var decoded types.JobEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(call.MessageBody)), &decoded))
	assert.Equal(t, event, decoded)
}

func TestJobEventPublisher_SendFailure(t *testing.T) {
	sender := &mockSQSSender{failNext: true}
	pub := NewJobEventPublisher(JobEventPublisherConfig{
		Client:   sender,
		QueueURL: "https://example.com/q",
	})

	err := pub.PublishJobEvent(context.Background(), types.JobEvent{JobID: 1, State: types.JobStateFailed})
	require.Error(t, err)
	assert.Empty(t, sender.calls)
}
