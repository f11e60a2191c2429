// Package main is the entry point for the alert worker Lambda function.
//
// The alert worker consumes spray alert messages from the alert SQS queue
// and fans each one out to the organization's active push subscriptions via
// the push relay. Endpoints the relay reports as gone are disabled so they
// are never targeted again.
//
// Lambda SQS integration uses partial batch responses: messages that fail
// processing are returned in batchItemFailures so SQS retries only those.
// Unparseable message bodies are acknowledged rather than retried, since a
// malformed body never becomes valid.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"cropsense/internal/config"
	"cropsense/internal/db"
	"cropsense/internal/external"
	"cropsense/internal/metrics"
	"cropsense/internal/types"
)

// SubscriptionStore is the subset of the push subscription repository the
// worker needs.
type SubscriptionStore interface {
	ListActiveByOrganization(ctx context.Context, orgID string) ([]*types.PushSubscription, error)
	Disable(ctx context.Context, id string, orgID string) error
}

// PushSender delivers one payload to the endpoint carried on it.
type PushSender interface {
	Send(ctx context.Context, payload *types.PushPayload) error
}

// DeliveryMetrics records delivery outcomes for CloudWatch dashboards.
type DeliveryMetrics interface {
	RecordAlertDelivery(ctx context.Context, result metrics.DeliveryResult, duration time.Duration)
}

// Handler holds the dependencies for the alert worker Lambda handler.
type Handler struct {
	subs    SubscriptionStore
	relay   PushSender
	metrics DeliveryMetrics
	logger  *slog.Logger
}

// Handle processes an SQS event containing one or more alert messages. Each
// message is processed independently; failures are reported per message.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process alert message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord delivers one alert message to every active subscription of
// the target organization. A nil return acknowledges the message.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.AlertMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.ErrorContext(ctx, "unparseable alert message body, dropping",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With(
		"trace_id", msg.TraceID,
		"field_id", msg.FieldID,
		"organization_id", msg.OrganizationID,
	)

	subs, err := h.subs.ListActiveByOrganization(ctx, msg.OrganizationID)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(subs) == 0 {
		logger.InfoContext(ctx, "no active subscriptions, dropping alert")
		return nil
	}

	payload := buildPayload(msg)

	var failed int
	for _, sub := range subs {
		if err := h.deliver(ctx, sub, payload, logger); err != nil {
			failed++
		}
	}

	logger.InfoContext(ctx, "alert fan-out complete",
		"subscriptions", len(subs),
		"failed", failed,
	)

	// Retry the whole message only when every endpoint failed. Partial
	// failures are not retried: a redelivery would duplicate the pushes
	// that already succeeded.
	if failed == len(subs) {
		return fmt.Errorf("all %d deliveries failed", failed)
	}
	return nil
}

// deliver sends the payload to a single subscription, disabling it when the
// relay reports the endpoint as gone.
func (h *Handler) deliver(ctx context.Context, sub *types.PushSubscription, payload types.PushPayload, logger *slog.Logger) error {
	payload.Endpoint = sub.Endpoint

	start := time.Now()
	err := h.relay.Send(ctx, &payload)
	elapsed := time.Since(start)

	if err == nil {
		h.metrics.RecordAlertDelivery(ctx, metrics.DeliverySuccess, elapsed)
		return nil
	}

	h.metrics.RecordAlertDelivery(ctx, metrics.DeliveryFailure, elapsed)

	if errors.Is(err, external.ErrEndpointGone) {
		logger.InfoContext(ctx, "disabling subscription with gone endpoint",
			"subscription_id", sub.ID,
		)
		if disableErr := h.subs.Disable(ctx, sub.ID, sub.OrganizationID); disableErr != nil {
			logger.ErrorContext(ctx, "failed to disable subscription",
				"subscription_id", sub.ID,
				"error", disableErr,
			)
		}
		// A gone endpoint is a resolved outcome, not a delivery failure
		// worth retrying.
		return nil
	}

	logger.ErrorContext(ctx, "push delivery failed",
		"subscription_id", sub.ID,
		"error", err,
	)
	return err
}

// buildPayload renders the notification text for an alert message. Times are
// formatted in UTC; the client localizes for display.
func buildPayload(msg types.AlertMessage) types.PushPayload {
	return types.PushPayload{
		Title: fmt.Sprintf("Spray window opening for %s", msg.FieldName),
		Body: fmt.Sprintf("Conditions look safe from %s to %s.",
			msg.Window.Start.UTC().Format("Mon 15:04"),
			msg.Window.End.UTC().Format("Mon 15:04"),
		),
		FieldID: msg.FieldID,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("alert worker initializing")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	relay := external.NewPushRelay(
		external.NewBaseClient(
			&http.Client{Timeout: cfg.Push.Timeout},
			"push-relay",
			external.DefaultRetryPolicy(),
			cfg.Weather.UserAgent,
		),
		cfg.Push.AuthToken,
		logger,
	)

	handler := &Handler{
		subs:  db.NewPushSubscriptionRepository(pool),
		relay: relay,
		metrics: metrics.NewCloudWatchCollector(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.AWS.MetricsNamespace,
			logger,
		),
		logger: logger,
	}

	logger.Info("alert worker initialized",
		"metrics_namespace", cfg.AWS.MetricsNamespace,
	)

	lambda.Start(handler.Handle)
}
