package service

import (
	"context"
	"testing"

	"chatrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRouteCreatesConversationAndContact(t *testing.T) {
	store := newFakeStore()
	source := store.addSource("telegram", "", "", true)
	router := NewConversationRouter(store, testLogger())

	result, err := router.Route(context.Background(), source, &models.NormalizedInbound{
		ExternalUserID: "user-1",
		Content:        "hi",
	})
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	require.NotNil(t, result.Conversation)
	require.NotNil(t, result.Contact)
	assert.Equal(t, source.ID, result.Conversation.SourceID)
	assert.Equal(t, "user-1", result.Contact.ExternalID)
	require.NotNil(t, result.Conversation.ContactID)
	assert.Equal(t, result.Contact.ID, *result.Conversation.ContactID)
}

func TestRouteReusesContact(t *testing.T) {
	store := newFakeStore()
	source := store.addSource("telegram", "", "", true)
	router := NewConversationRouter(store, testLogger())

	first, err := router.Route(context.Background(), source, &models.NormalizedInbound{ExternalUserID: "user-1"})
	require.NoError(t, err)
	second, err := router.Route(context.Background(), source, &models.NormalizedInbound{ExternalUserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, first.Contact.ID, second.Contact.ID)
	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
}

func TestRouteMatchesThreadKey(t *testing.T) {
	store := newFakeStore()
	source := store.addSource("telegram", "", "", true)
	router := NewConversationRouter(store, testLogger())

	first, err := router.Route(context.Background(), source, &models.NormalizedInbound{
		ExternalUserID: "user-1",
		ThreadID:       strPtr("thread-1"),
	})
	require.NoError(t, err)

	second, err := router.Route(context.Background(), source, &models.NormalizedInbound{
		ExternalUserID:    "user-2",
		ExternalMessageID: strPtr("ext-2"),
		ThreadID:          strPtr("thread-1"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestRouteThreadKeyScopedToSource(t *testing.T) {
	store := newFakeStore()
	telegram := store.addSource("telegram", "", "", true)
	slack := store.addSource("slack", "", "", true)
	router := NewConversationRouter(store, testLogger())

	first, err := router.Route(context.Background(), telegram, &models.NormalizedInbound{
		ExternalUserID: "user-1",
		ThreadID:       strPtr("thread-1"),
	})
	require.NoError(t, err)

	second, err := router.Route(context.Background(), slack, &models.NormalizedInbound{
		ExternalUserID: "user-1",
		ThreadID:       strPtr("thread-1"),
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
}

func TestRouteDetectsDuplicate(t *testing.T) {
	store := newFakeStore()
	source := store.addSource("telegram", "", "", true)
	router := NewConversationRouter(store, testLogger())

	normalized := &models.NormalizedInbound{
		ExternalUserID:    "user-1",
		ExternalMessageID: strPtr("ext-1"),
	}

	first, err := router.Route(context.Background(), source, normalized)
	require.NoError(t, err)
	_, err = store.CreateInboundMessage(context.Background(), first.Conversation, first.Contact, normalized, source)
	require.NoError(t, err)

	second, err := router.Route(context.Background(), source, normalized)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Conversation)
}

func TestRouteIdempotencyLookupError(t *testing.T) {
	store := newFakeStore()
	source := store.addSource("telegram", "", "", true)
	store.findMessageErr = assert.AnError
	router := NewConversationRouter(store, testLogger())

	_, err := router.Route(context.Background(), source, &models.NormalizedInbound{
		ExternalUserID:    "user-1",
		ExternalMessageID: strPtr("ext-1"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idempotency lookup failed")
}
