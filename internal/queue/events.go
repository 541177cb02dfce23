// Package queue publishes job lifecycle events to SQS so downstream
// consumers (cache invalidators, audit sinks) can react to publish runs
// without polling the status API.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"pubengine/internal/types"
)

// SQSSender is the subset of the SQS SDK client used by the publisher.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// JobEventPublisher sends one message per terminal job transition.
type JobEventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// JobEventPublisherConfig holds dependencies for NewJobEventPublisher.
type JobEventPublisherConfig struct {
	Client   SQSSender
	QueueURL string
	Logger   *slog.Logger
}

func NewJobEventPublisher(cfg JobEventPublisherConfig) *JobEventPublisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobEventPublisher{
		client:   cfg.Client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}
}

// PublishJobEvent serializes the event to JSON and sends it with the job
// state as a message attribute, so consumers can filter without parsing
// the body.
func (p *JobEventPublisher) PublishJobEvent(ctx context.Context, event types.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"state": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.State)),
			},
		},
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to publish job event",
			"job_id", event.JobID,
			"state", event.State,
			"error", err,
		)
		return fmt.Errorf("SQS SendMessage failed: %w", err)
	}

	p.logger.InfoContext(ctx, "published job event",
		"job_id", event.JobID,
		"edition_id", event.EditionID,
		"state", event.State,
	)
	return nil
}
