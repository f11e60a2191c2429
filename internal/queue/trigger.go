// Package queue provides the SQS-based producer that dispatches spray alert
// messages from the advisor sweep to the alert worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"cropsense/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertTrigger serializes AlertMessages and sends them to the alert queue for
// the worker to deliver as push notifications.
type AlertTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertTrigger creates a new AlertTrigger.
func NewAlertTrigger(client SQSSender, queueURL string, logger *slog.Logger) *AlertTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertTrigger{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// EnqueueSprayAlert dispatches an alert for an upcoming spray window on a
// field. A fresh TraceID is minted per message so worker logs can be
// correlated with the advisor run that produced them.
func (t *AlertTrigger) EnqueueSprayAlert(ctx context.Context, field *types.Field, window types.SprayWindow, reason string) error {
	msg := types.AlertMessage{
		TraceID:        uuid.New().String(),
		FieldID:        field.ID,
		OrganizationID: field.OrganizationID,
		FieldName:      field.Name,
		Window:         window,
		EnqueuedAt:     time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal AlertMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send AlertMessage to %s: %w", t.queueURL, err)
	}

	t.logger.InfoContext(ctx, "spray alert enqueued",
		"queue_url", t.queueURL,
		"trace_id", msg.TraceID,
		"field_id", msg.FieldID,
		"organization_id", msg.OrganizationID,
		"window_start", window.Start,
		"reason", reason,
	)

	return nil
}
