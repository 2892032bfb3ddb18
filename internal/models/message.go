package models

import (
	"time"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

type MessageStatus string

const (
	MessageStatusReceived MessageStatus = "RECEIVED"
	MessageStatusPending  MessageStatus = "PENDING"
	MessageStatusSent     MessageStatus = "SENT"
	MessageStatusFailed   MessageStatus = "FAILED"
)

// Receipt statuses beyond the terminal message statuses. Non-final failed
// delivery attempts are recorded as RETRY.
const (
	ReceiptStatusRetry = "RETRY"
)

type Source struct {
	ID                       string `db:"id"`
	Slug                     string `db:"slug"`
	DisplayName              string `db:"display_name"`
	InboundSecret            string `db:"inbound_secret"`
	OutboundEndpointTemplate string `db:"outbound_endpoint_template"`
	Active                   bool   `db:"active"`
}

type ExternalContact struct {
	ID          string            `json:"id" db:"id"`
	SourceID    string            `json:"source_id" db:"source_id"`
	ExternalID  string            `json:"external_id" db:"external_id"`
	DisplayName *string           `json:"display_name" db:"display_name"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
}

type Conversation struct {
	ID           string    `json:"id" db:"id"`
	SourceID     string    `json:"source_id" db:"source_id"`
	ContactID    *string   `json:"contact_id" db:"contact_id"`
	Title        *string   `json:"title" db:"title"`
	ThreadKey    *string   `json:"thread_key" db:"thread_key"`
	Closed       bool      `json:"closed" db:"closed"`
	Participants []string  `json:"participants,omitempty" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type Message struct {
	ID                string        `json:"id" db:"id"`
	ConversationID    string        `json:"conversation_id" db:"conversation_id"`
	Direction         Direction     `json:"direction" db:"direction"`
	SenderName        *string       `json:"sender_name" db:"sender_name"`
	SenderOperator    *string       `json:"sender_operator" db:"sender_operator"`
	Content           string        `json:"content" db:"content"`
	ExternalMessageID *string       `json:"external_message_id" db:"external_message_id"`
	SourceID          string        `json:"source_id" db:"source_id"`
	Status            MessageStatus `json:"status" db:"status"`
	ErrorText         *string       `json:"error_text" db:"error_text"`
	Attachments       []interface{} `json:"attachments" db:"attachments"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

type DeliveryReceipt struct {
	ID               string                 `json:"id" db:"id"`
	MessageID        string                 `json:"message_id" db:"message_id"`
	Status           string                 `json:"status" db:"status"`
	ProviderResponse map[string]interface{} `json:"provider_response" db:"provider_response"`
	Timestamp        time.Time              `json:"timestamp" db:"timestamp"`
}

type WebhookEvent struct {
	ID         string            `db:"id"`
	SourceID   string            `db:"source_id"`
	RawPayload []byte            `db:"raw_payload"`
	Headers    map[string]string `db:"headers"`
	Processed  bool              `db:"processed"`
	CreatedAt  time.Time         `db:"created_at"`
}

// NormalizedInbound is the canonical shape every provider webhook is mapped to
// before routing. Raw retains the full original payload for attachment
// extraction and auditing.
type NormalizedInbound struct {
	ExternalMessageID *string
	ExternalUserID    string
	Timestamp         *string
	Content           string
	ThreadID          *string
	Raw               map[string]interface{}
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID              string    `json:"id"`
	SourceSlug      string    `json:"source"`
	ExternalContact *string   `json:"external_contact"`
	LastMessage     *string   `json:"last_message"`
	UpdatedAt       time.Time `json:"updated_at"`
}
