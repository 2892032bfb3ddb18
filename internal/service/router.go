package service

import (
	"context"
	"fmt"

	"chatrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// RouterStore is the storage surface conversation routing needs.
type RouterStore interface {
	FindMessageByExternalID(ctx context.Context, sourceID, externalMessageID string) (*models.Message, error)
	GetOrCreateContact(ctx context.Context, sourceID, externalID string) (*models.ExternalContact, error)
	FindConversationByThreadKey(ctx context.Context, sourceID, threadKey string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, sourceID string, contactID *string, threadKey *string) (*models.Conversation, error)
}

// RouteResult carries the resolved conversation and contact for an inbound
// message, or Duplicate when the message was already ingested.
type RouteResult struct {
	Conversation *models.Conversation
	Contact      *models.ExternalContact
	Duplicate    bool
}

// ConversationRouter threads inbound messages into conversations: it applies
// the (source, external_message_id) idempotency rule, resolves the external
// contact, and matches or creates the conversation by thread key.
type ConversationRouter struct {
	store  RouterStore
	logger *logrus.Logger
}

func NewConversationRouter(store RouterStore, logger *logrus.Logger) *ConversationRouter {
	return &ConversationRouter{store: store, logger: logger}
}

// Route resolves the conversation and contact for a normalized inbound
// message. The duplicate path performs no writes.
func (r *ConversationRouter) Route(ctx context.Context, source *models.Source, normalized *models.NormalizedInbound) (*RouteResult, error) {
	if normalized.ExternalMessageID != nil && *normalized.ExternalMessageID != "" {
		existing, err := r.store.FindMessageByExternalID(ctx, source.ID, *normalized.ExternalMessageID)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if existing != nil {
			return &RouteResult{Duplicate: true}, nil
		}
	}

	contact, err := r.store.GetOrCreateContact(ctx, source.ID, normalized.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("contact resolution failed: %w", err)
	}

	var conv *models.Conversation
	if normalized.ThreadID != nil && *normalized.ThreadID != "" {
		conv, err = r.store.FindConversationByThreadKey(ctx, source.ID, *normalized.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("thread lookup failed: %w", err)
		}
	}

	if conv == nil {
		conv, err = r.store.CreateConversation(ctx, source.ID, &contact.ID, normalized.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("conversation creation failed: %w", err)
		}
		r.logger.WithFields(logrus.Fields{
			"conversation": conv.ID,
			"source":       source.Slug,
		}).Debug("Created conversation")
	}

	return &RouteResult{Conversation: conv, Contact: contact}, nil
}
