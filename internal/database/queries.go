package database

// Source queries
const (
	upsertSourceQuery = `
		INSERT INTO sources (id, slug, display_name, inbound_secret, outbound_endpoint_template, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			display_name = excluded.display_name,
			inbound_secret = excluded.inbound_secret,
			outbound_endpoint_template = excluded.outbound_endpoint_template,
			active = excluded.active
	`

	selectSourceBySlugQuery = `
		SELECT id, slug, display_name, inbound_secret, outbound_endpoint_template, active
		FROM sources
		WHERE slug = ?
	`

	selectSourceByIDQuery = `
		SELECT id, slug, display_name, inbound_secret, outbound_endpoint_template, active
		FROM sources
		WHERE id = ?
	`
)

// Contact queries
const (
	insertContactIgnoreQuery = `
		INSERT INTO contacts (id, source_id, external_id, display_name, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO NOTHING
	`

	selectContactByExternalIDQuery = `
		SELECT id, source_id, external_id, display_name, metadata
		FROM contacts
		WHERE source_id = ? AND external_id = ?
	`
)

// Conversation queries
const (
	insertConversationQuery = `
		INSERT INTO conversations (id, source_id, contact_id, title, thread_key, closed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`

	selectConversationByThreadKeyQuery = `
		SELECT id, source_id, contact_id, title, thread_key, closed, created_at, updated_at
		FROM conversations
		WHERE source_id = ? AND thread_key = ?
		ORDER BY created_at ASC
		LIMIT 1
	`

	selectConversationByIDQuery = `
		SELECT id, source_id, contact_id, title, thread_key, closed, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	selectConversationSummariesQuery = `
		SELECT c.id, s.slug, ct.external_id, c.updated_at,
		       (SELECT m.content FROM messages m
		        WHERE m.conversation_id = c.id
		        ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		FROM conversations c
		JOIN sources s ON s.id = c.source_id
		LEFT JOIN contacts ct ON ct.id = c.contact_id
		ORDER BY c.updated_at DESC
		LIMIT ?
	`

	selectConversationSummariesByParticipantQuery = `
		SELECT c.id, s.slug, ct.external_id, c.updated_at,
		       (SELECT m.content FROM messages m
		        WHERE m.conversation_id = c.id
		        ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		FROM conversations c
		JOIN sources s ON s.id = c.source_id
		JOIN conversation_participants p ON p.conversation_id = c.id AND p.operator = ?
		LEFT JOIN contacts ct ON ct.id = c.contact_id
		ORDER BY c.updated_at DESC
		LIMIT ?
	`

	touchConversationQuery = `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`

	insertParticipantIgnoreQuery = `
		INSERT INTO conversation_participants (conversation_id, operator)
		VALUES (?, ?)
		ON CONFLICT(conversation_id, operator) DO NOTHING
	`

	selectParticipantsQuery = `
		SELECT operator FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY operator ASC
	`
)

// Message queries
const (
	insertMessageQuery = `
		INSERT INTO messages (
			id, conversation_id, direction, sender_name, sender_operator,
			content, external_message_id, source_id, status, error_text,
			attachments, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectMessageColumns = `
		SELECT id, conversation_id, direction, sender_name, sender_operator,
		       content, external_message_id, source_id, status, error_text,
		       attachments, created_at, updated_at
		FROM messages
	`

	selectMessageByIDQuery = selectMessageColumns + `
		WHERE id = ?
	`

	selectMessageByExternalIDQuery = selectMessageColumns + `
		WHERE source_id = ? AND external_message_id = ?
	`

	selectMessagesByConversationQuery = selectMessageColumns + `
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`

	selectStalePendingMessagesQuery = `
		SELECT id FROM messages
		WHERE direction = 'OUT' AND status = 'PENDING' AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	updateMessageStatusQuery = `
		UPDATE messages SET status = ?, error_text = ?, updated_at = ? WHERE id = ?
	`
)

// Delivery receipt and webhook event queries
const (
	insertDeliveryReceiptQuery = `
		INSERT INTO delivery_receipts (id, message_id, status, provider_response, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	selectDeliveryReceiptsQuery = `
		SELECT id, message_id, status, provider_response, timestamp
		FROM delivery_receipts
		WHERE message_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	insertWebhookEventQuery = `
		INSERT INTO webhook_events (id, source_id, raw_payload, headers, processed, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`

	markWebhookEventProcessedQuery = `
		UPDATE webhook_events SET processed = 1 WHERE id = ?
	`

	countWebhookEventsBySourceQuery = `
		SELECT COUNT(1) FROM webhook_events WHERE source_id = ?
	`

	deleteOldWebhookEventsQuery = `
		DELETE FROM webhook_events
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`

	deleteOldDeliveryReceiptsQuery = `
		DELETE FROM delivery_receipts
		WHERE timestamp < datetime('now', '-' || ? || ' days')
	`
)

const selectContactByIDQuery = `
	SELECT id, source_id, external_id, display_name, metadata
	FROM contacts
	WHERE id = ?
`
