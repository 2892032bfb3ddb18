package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/models"

	"github.com/google/uuid"
)

// ErrDuplicateMessage is returned when an insert loses the race on the
// (source, external_message_id) unique index. Callers treat it as a duplicate
// delivery, not a failure.
var ErrDuplicateMessage = apperrors.New(apperrors.ErrCodeConflict, "message already exists for external message id")

// CreateInboundMessage persists a RECEIVED inbound message and advances the
// conversation's updated_at in the same transaction.
func (d *Database) CreateInboundMessage(ctx context.Context, conv *models.Conversation, contact *models.ExternalContact, normalized *models.NormalizedInbound, source *models.Source) (*models.Message, error) {
	attachments := extractAttachments(normalized.Raw)
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}

	content, err := d.encryptor.EncryptIfEnabled(normalized.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt content: %w", err)
	}

	now := nowUTC()
	msg := &models.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		Direction:         models.DirectionIn,
		SenderName:        contact.DisplayName,
		Content:           normalized.Content,
		ExternalMessageID: normalized.ExternalMessageID,
		SourceID:          source.ID,
		Status:            models.MessageStatusReceived,
		Attachments:       attachments,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertMessageQuery,
			msg.ID, msg.ConversationID, msg.Direction, msg.SenderName, nil,
			content, msg.ExternalMessageID, msg.SourceID, msg.Status, nil,
			string(attachmentsJSON), msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateMessage
			}
			return err
		}
		_, err = tx.ExecContext(ctx, touchConversationQuery, now, conv.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	conv.UpdatedAt = now
	return msg, nil
}

// CreateOutboundMessage persists a PENDING outbound message authored by the
// acting operator and marks the operator as a conversation participant.
func (d *Database) CreateOutboundMessage(ctx context.Context, conv *models.Conversation, text string, actingOperator string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation("text required", map[string]string{"text": "this field is required"})
	}

	content, err := d.encryptor.EncryptIfEnabled(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt content: %w", err)
	}

	now := nowUTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      models.DirectionOut,
		SenderOperator: &actingOperator,
		Content:        text,
		SourceID:       conv.SourceID,
		Status:         models.MessageStatusPending,
		Attachments:    []interface{}{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertMessageQuery,
			msg.ID, msg.ConversationID, msg.Direction, nil, msg.SenderOperator,
			content, nil, msg.SourceID, msg.Status, nil,
			"[]", msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, touchConversationQuery, now, conv.ID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, insertParticipantIgnoreQuery, conv.ID, actingOperator)
		return err
	})
	if err != nil {
		return nil, err
	}
	conv.UpdatedAt = now
	return msg, nil
}

// GetMessage retrieves a message by ID; returns nil if not found.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return d.scanMessage(d.db.QueryRowContext(ctx, selectMessageByIDQuery, id))
}

// FindMessageByExternalID is the idempotency lookup for inbound dedup;
// returns nil if no message exists for (source, external message id).
func (d *Database) FindMessageByExternalID(ctx context.Context, sourceID, externalMessageID string) (*models.Message, error) {
	return d.scanMessage(d.db.QueryRowContext(ctx, selectMessageByExternalIDQuery, sourceID, externalMessageID))
}

// ListMessagesByConversation returns the conversation's messages in creation
// order, oldest first.
func (d *Database) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, selectMessagesByConversationQuery, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := d.scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListStalePendingMessages returns IDs of outbound messages still PENDING and
// untouched since the cutoff, for the reconciliation pass.
func (d *Database) ListStalePendingMessages(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, selectStalePendingMessagesQuery, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordDeliverySuccess transitions a PENDING message to SENT and appends a
// SENT delivery receipt.
func (d *Database) RecordDeliverySuccess(ctx context.Context, messageID string, providerStatusCode int) error {
	return d.recordDeliveryOutcome(ctx, messageID, models.MessageStatusSent, nil,
		map[string]interface{}{"status_code": providerStatusCode})
}

// RecordDeliveryFailure transitions a PENDING message to FAILED, sets its
// error text and appends a FAILED delivery receipt. Terminal; only called
// after the retry budget is exhausted.
func (d *Database) RecordDeliveryFailure(ctx context.Context, messageID string, errorText string) error {
	return d.recordDeliveryOutcome(ctx, messageID, models.MessageStatusFailed, &errorText,
		map[string]interface{}{"error": errorText})
}

func (d *Database) recordDeliveryOutcome(ctx context.Context, messageID string, status models.MessageStatus, errorText *string, response map[string]interface{}) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode provider response: %w", err)
	}

	now := nowUTC()
	return retryableDBOperation(ctx, func() error {
		return d.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, updateMessageStatusQuery, status, errorText, now, messageID)
			if err != nil {
				return err
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if rows == 0 {
				return fmt.Errorf("no message found with ID: %s", messageID)
			}
			_, err = tx.ExecContext(ctx, insertDeliveryReceiptQuery,
				uuid.NewString(), messageID, string(status), string(responseJSON), now)
			return err
		})
	}, "record delivery outcome")
}

// RecordDeliveryAttempt appends a receipt for a non-final delivery attempt
// without touching the message status.
func (d *Database) RecordDeliveryAttempt(ctx context.Context, messageID string, status string, response map[string]interface{}) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode provider response: %w", err)
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertDeliveryReceiptQuery,
			uuid.NewString(), messageID, status, string(responseJSON), nowUTC())
		return err
	}, "record delivery attempt")
}

// ListDeliveryReceipts returns a message's receipts in append order.
func (d *Database) ListDeliveryReceipts(ctx context.Context, messageID string) ([]*models.DeliveryReceipt, error) {
	rows, err := d.db.QueryContext(ctx, selectDeliveryReceiptsQuery, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*models.DeliveryReceipt
	for rows.Next() {
		r := &models.DeliveryReceipt{}
		var responseJSON string
		if err := rows.Scan(&r.ID, &r.MessageID, &r.Status, &responseJSON, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan delivery receipt: %w", err)
		}
		if err := json.Unmarshal([]byte(responseJSON), &r.ProviderResponse); err != nil {
			return nil, fmt.Errorf("failed to decode provider response: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// RecordWebhookEvent appends a raw webhook audit row. Called before any
// processing so rejected calls remain auditable.
func (d *Database) RecordWebhookEvent(ctx context.Context, sourceID string, rawPayload []byte, headers map[string]string) (*models.WebhookEvent, error) {
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}

	event := &models.WebhookEvent{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		RawPayload: rawPayload,
		Headers:    headers,
		CreatedAt:  nowUTC(),
	}
	err = retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertWebhookEventQuery,
			event.ID, event.SourceID, event.RawPayload, string(headersJSON), event.CreatedAt)
		return err
	}, "insert webhook event")
	if err != nil {
		return nil, err
	}
	return event, nil
}

// MarkWebhookEventProcessed flips the processed flag after routing completes.
func (d *Database) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	_, err := d.db.ExecContext(ctx, markWebhookEventProcessedQuery, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// CountWebhookEvents returns the number of audit events recorded for a source.
func (d *Database) CountWebhookEvents(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, countWebhookEventsBySourceQuery, sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count webhook events: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row *sql.Row) (*models.Message, error) {
	msg, err := d.scanMessageRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (d *Database) scanMessageRow(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var content, attachmentsJSON string
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Direction, &msg.SenderName,
		&msg.SenderOperator, &content, &msg.ExternalMessageID, &msg.SourceID,
		&msg.Status, &msg.ErrorText, &attachmentsJSON, &msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Content, err = d.encryptor.DecryptIfEnabled(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}
	if err := json.Unmarshal([]byte(attachmentsJSON), &msg.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return msg, nil
}

func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func extractAttachments(raw map[string]interface{}) []interface{} {
	if raw == nil {
		return []interface{}{}
	}
	if list, ok := raw["attachments"].([]interface{}); ok {
		return list
	}
	return []interface{}{}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
