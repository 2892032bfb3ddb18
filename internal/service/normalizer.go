package service

import (
	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/models"
)

// NormalizePayload maps a provider webhook body into the canonical inbound
// shape. external_user_id is mandatory; every other field passes through when
// present. The full original payload is retained in Raw.
func NormalizePayload(raw map[string]interface{}) (*models.NormalizedInbound, error) {
	fields := make(map[string]string)

	externalUserID, ok := optionalString(raw, "external_user_id", fields)
	if ok && (externalUserID == nil || *externalUserID == "") {
		fields["external_user_id"] = "this field is required"
	}

	externalMessageID, _ := optionalString(raw, "external_message_id", fields)
	timestamp, _ := optionalString(raw, "timestamp", fields)
	content, _ := optionalString(raw, "content", fields)
	threadID, _ := optionalString(raw, "thread_id", fields)

	if len(fields) > 0 {
		return nil, apperrors.Validation("invalid webhook payload", fields)
	}

	normalized := &models.NormalizedInbound{
		ExternalMessageID: externalMessageID,
		ExternalUserID:    *externalUserID,
		Timestamp:         timestamp,
		ThreadID:          threadID,
		Raw:               raw,
	}
	if content != nil {
		normalized.Content = *content
	}
	return normalized, nil
}

// optionalString extracts a string field, recording a type error in fields
// when the value is present but not a string. The bool result reports whether
// extraction was attempted without a type error.
func optionalString(raw map[string]interface{}, key string, fields map[string]string) (*string, bool) {
	value, present := raw[key]
	if !present || value == nil {
		return nil, true
	}
	s, ok := value.(string)
	if !ok {
		fields[key] = "must be a string"
		return nil, false
	}
	return &s, true
}
