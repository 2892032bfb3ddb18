package service

import (
	"context"
	"encoding/json"
	"errors"

	"chatrelay/internal/database"
	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// IngestionStore is the storage surface webhook ingestion needs beyond
// routing.
type IngestionStore interface {
	RouterStore
	GetSourceBySlug(ctx context.Context, slug string) (*models.Source, error)
	RecordWebhookEvent(ctx context.Context, sourceID string, rawPayload []byte, headers map[string]string) (*models.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string) error
	CreateInboundMessage(ctx context.Context, conv *models.Conversation, contact *models.ExternalContact, normalized *models.NormalizedInbound, source *models.Source) (*models.Message, error)
}

// IngestResult is the webhook caller's view of the outcome.
type IngestResult struct {
	Status         string `json:"status"` // ok | duplicate
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// IngestionGateway orchestrates the inbound webhook path: source resolution,
// audit, signature verification, normalization, routing and message creation.
type IngestionGateway struct {
	store  IngestionStore
	router *ConversationRouter
	logger *logrus.Logger
}

func NewIngestionGateway(store IngestionStore, router *ConversationRouter, logger *logrus.Logger) *IngestionGateway {
	return &IngestionGateway{store: store, router: router, logger: logger}
}

// Receive handles one inbound webhook call. The raw body and headers are
// persisted as a WebhookEvent before any verification so rejected calls stay
// auditable.
func (g *IngestionGateway) Receive(ctx context.Context, sourceSlug string, rawBody []byte, headers map[string]string, signatureHeader string) (*IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.receive")
	defer span.End()

	source, err := g.store.GetSourceBySlug(ctx, sourceSlug)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "source lookup failed")
	}
	if source == nil || !source.Active {
		metrics.WebhookRequests.WithLabelValues(sourceSlug, "not_found").Inc()
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "unknown or inactive source").
			WithUserMessage("not found")
	}

	event, err := g.store.RecordWebhookEvent(ctx, source.ID, rawBody, headers)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to record webhook event")
	}

	if !VerifySignature(source.InboundSecret, rawBody, signatureHeader) {
		metrics.WebhookRequests.WithLabelValues(sourceSlug, "invalid_signature").Inc()
		g.logger.WithField("source", sourceSlug).Warn("Webhook signature verification failed")
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "invalid signature").
			WithUserMessage("invalid signature")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		metrics.WebhookRequests.WithLabelValues(sourceSlug, "validation_error").Inc()
		return nil, apperrors.Validation("request body must be a JSON object", map[string]string{
			"body": "invalid JSON",
		})
	}

	normalized, err := NormalizePayload(parsed)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(sourceSlug, "validation_error").Inc()
		return nil, err
	}

	routed, err := g.router.Route(ctx, source, normalized)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "routing failed")
	}

	if routed.Duplicate {
		g.markProcessed(ctx, event.ID)
		metrics.WebhookRequests.WithLabelValues(sourceSlug, "duplicate").Inc()
		return &IngestResult{Status: "duplicate"}, nil
	}

	msg, err := g.store.CreateInboundMessage(ctx, routed.Conversation, routed.Contact, normalized, source)
	if err != nil {
		// A concurrent call for the same external message id may win the
		// insert; that is the duplicate case, not a failure.
		if errors.Is(err, database.ErrDuplicateMessage) {
			g.markProcessed(ctx, event.ID)
			metrics.WebhookRequests.WithLabelValues(sourceSlug, "duplicate").Inc()
			return &IngestResult{Status: "duplicate"}, nil
		}
		tracing.RecordError(ctx, err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to create message")
	}

	g.markProcessed(ctx, event.ID)
	metrics.WebhookRequests.WithLabelValues(sourceSlug, "ok").Inc()

	g.logger.WithFields(logrus.Fields{
		"source":       sourceSlug,
		"conversation": routed.Conversation.ID,
		"message":      msg.ID,
	}).Info("Inbound message ingested")

	return &IngestResult{
		Status:         "ok",
		MessageID:      msg.ID,
		ConversationID: routed.Conversation.ID,
	}, nil
}

func (g *IngestionGateway) markProcessed(ctx context.Context, eventID string) {
	if err := g.store.MarkWebhookEventProcessed(ctx, eventID); err != nil {
		g.logger.WithError(err).WithField("event", eventID).Warn("Failed to mark webhook event processed")
	}
}
