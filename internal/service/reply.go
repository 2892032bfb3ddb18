package service

import (
	"context"
	"strings"

	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ReplyStore is the storage surface the reply path needs.
type ReplyStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateOutboundMessage(ctx context.Context, conv *models.Conversation, text string, actingOperator string) (*models.Message, error)
}

// DeliveryEnqueuer schedules asynchronous delivery of an outbound message.
type DeliveryEnqueuer interface {
	Enqueue(messageID string) error
}

// ReplyResult is the caller's view of a created reply.
type ReplyResult struct {
	ID     string               `json:"id"`
	Status models.MessageStatus `json:"status"`
}

// ReplyGateway creates outbound messages and hands them to the dispatcher.
// The reply call returns once the message is persisted PENDING; delivery
// outcome is observable via message status and delivery receipts.
type ReplyGateway struct {
	store      ReplyStore
	dispatcher DeliveryEnqueuer
	logger     *logrus.Logger
}

func NewReplyGateway(store ReplyStore, dispatcher DeliveryEnqueuer, logger *logrus.Logger) *ReplyGateway {
	return &ReplyGateway{store: store, dispatcher: dispatcher, logger: logger}
}

func (g *ReplyGateway) Reply(ctx context.Context, conversationID, text, actingOperator string) (*ReplyResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reply.create")
	defer span.End()

	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "conversation lookup failed")
	}
	if conv == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found").
			WithUserMessage("not found")
	}

	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "reply text is empty").
			WithUserMessage("text required")
	}

	msg, err := g.store.CreateOutboundMessage(ctx, conv, text, actingOperator)
	if err != nil {
		return nil, err
	}

	// Enqueue failure does not fail the reply: the message stays PENDING and
	// the reconciliation pass picks it up.
	if err := g.dispatcher.Enqueue(msg.ID); err != nil {
		metrics.ReplyEnqueue.WithLabelValues("queue_full").Inc()
		g.logger.WithError(err).WithField("message", msg.ID).
			Warn("Failed to enqueue delivery; message left pending for reconciliation")
	} else {
		metrics.ReplyEnqueue.WithLabelValues("ok").Inc()
	}

	g.logger.WithFields(logrus.Fields{
		"conversation": conversationID,
		"message":      msg.ID,
		"operator":     actingOperator,
	}).Info("Reply created")

	return &ReplyResult{ID: msg.ID, Status: msg.Status}, nil
}
