package service

import (
	"context"

	"chatrelay/internal/constants"
	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/models"
)

// ConversationStore is the storage surface the read API needs.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, operator string, limit int) ([]*models.ConversationSummary, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// ConversationDetail is a conversation with its messages in creation order.
type ConversationDetail struct {
	Conversation *models.Conversation `json:"conversation"`
	Messages     []*models.Message    `json:"messages"`
}

// ConversationReader serves the operator-facing read operations.
type ConversationReader struct {
	store ConversationStore
}

func NewConversationReader(store ConversationStore) *ConversationReader {
	return &ConversationReader{store: store}
}

// List returns conversation summaries newest-first. A non-empty operator
// restricts the list to conversations that operator participates in.
func (r *ConversationReader) List(ctx context.Context, operator string) ([]*models.ConversationSummary, error) {
	summaries, err := r.store.ListConversations(ctx, operator, constants.DefaultConversationListLimit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "conversation list failed")
	}
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}
	return summaries, nil
}

// Get returns one conversation with all its messages ordered by creation
// time ascending.
func (r *ConversationReader) Get(ctx context.Context, id string) (*ConversationDetail, error) {
	conv, err := r.store.GetConversation(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "conversation lookup failed")
	}
	if conv == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "conversation not found").
			WithUserMessage("not found")
	}

	messages, err := r.store.ListMessagesByConversation(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "message list failed")
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return &ConversationDetail{Conversation: conv, Messages: messages}, nil
}
