// Package queue publishes entitlement changes to SQS for downstream
// consumers such as feed and messaging services.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"membergate/internal/config"
	"membergate/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EntitlementPublisher sends an EntitlementChange message whenever a
// webhook flips a user's restricted-action eligibility.
type EntitlementPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEntitlementPublisher creates a publisher for the entitlements queue
// named in awsCfg.
func NewEntitlementPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *EntitlementPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementPublisher{
		client:   client,
		queueURL: awsCfg.EntitlementsQueue,
		logger:   logger,
	}
}

// PublishEntitlementChange serializes change and sends it. The provider
// event id travels as an attribute so consumers can drop replays.
func (p *EntitlementPublisher) PublishEntitlementChange(ctx context.Context, change types.EntitlementChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal EntitlementChange: %w", err)
	}

	messageID := uuid.New().String()
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"message_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(messageID),
			},
			"event_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(change.EventID),
			},
			"user_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(change.UserID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send EntitlementChange to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "entitlement change published",
		"queue_url", p.queueURL,
		"message_id", messageID,
		"user_id", change.UserID,
		"event_id", change.EventID,
		"can_perform_actions", change.CanPerformRestrictedAction,
	)
	return nil
}
