package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatrelay/internal/models"

	"github.com/google/uuid"
)

// CreateConversation creates a new conversation bound to a source and,
// optionally, a contact and thread key.
func (d *Database) CreateConversation(ctx context.Context, sourceID string, contactID *string, threadKey *string) (*models.Conversation, error) {
	now := nowUTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		ContactID: contactID,
		ThreadKey: threadKey,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertConversationQuery,
			conv.ID, conv.SourceID, conv.ContactID, conv.Title, conv.ThreadKey,
			conv.CreatedAt, conv.UpdatedAt)
		return err
	}, "insert conversation")
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindConversationByThreadKey returns the oldest conversation on the source
// with the given thread key, or nil if none matches.
func (d *Database) FindConversationByThreadKey(ctx context.Context, sourceID, threadKey string) (*models.Conversation, error) {
	return d.scanConversation(d.db.QueryRowContext(ctx, selectConversationByThreadKeyQuery, sourceID, threadKey))
}

// GetConversation retrieves a conversation with its participants; returns nil
// if not found.
func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := d.scanConversation(d.db.QueryRowContext(ctx, selectConversationByIDQuery, id))
	if err != nil || conv == nil {
		return conv, err
	}

	rows, err := d.db.QueryContext(ctx, selectParticipantsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var operator string
		if err := rows.Scan(&operator); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		conv.Participants = append(conv.Participants, operator)
	}
	return conv, rows.Err()
}

func (d *Database) scanConversation(row *sql.Row) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(&conv.ID, &conv.SourceID, &conv.ContactID, &conv.Title,
		&conv.ThreadKey, &conv.Closed, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns summaries newest-first. When operator is
// non-empty only conversations that operator participates in are returned.
func (d *Database) ListConversations(ctx context.Context, operator string, limit int) ([]*models.ConversationSummary, error) {
	var rows *sql.Rows
	var err error
	if operator != "" {
		rows, err = d.db.QueryContext(ctx, selectConversationSummariesByParticipantQuery, operator, limit)
	} else {
		rows, err = d.db.QueryContext(ctx, selectConversationSummariesQuery, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		s := &models.ConversationSummary{}
		var lastContent *string
		if err := rows.Scan(&s.ID, &s.SourceSlug, &s.ExternalContact, &s.UpdatedAt, &lastContent); err != nil {
			return nil, fmt.Errorf("failed to scan conversation summary: %w", err)
		}
		if lastContent != nil {
			decrypted, err := d.encryptor.DecryptIfEnabled(*lastContent)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt last message: %w", err)
			}
			s.LastMessage = &decrypted
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// AddParticipant records an operator as a participant of the conversation.
func (d *Database) AddParticipant(ctx context.Context, conversationID, operator string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertParticipantIgnoreQuery, conversationID, operator)
		return err
	}, "insert participant")
}
