package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDispatchConfig() models.DispatchConfig {
	return models.DispatchConfig{
		Workers:          1,
		QueueSize:        8,
		TimeoutSec:       2,
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
		ProviderQPS:      1000,
		ProviderBurst:    100,
	}
}

// pendingMessage seeds a source, conversation, contact and PENDING outbound
// message pointed at the given endpoint.
func pendingMessage(t *testing.T, store *fakeStore, endpoint string) *models.Message {
	t.Helper()
	source := store.addSource("telegram", "", endpoint, true)
	contact, err := store.GetOrCreateContact(context.Background(), source.ID, "user-1")
	require.NoError(t, err)
	conv, err := store.CreateConversation(context.Background(), source.ID, &contact.ID, nil)
	require.NoError(t, err)
	msg, err := store.CreateOutboundMessage(context.Background(), conv, "on my way", "alice")
	require.NoError(t, err)
	return msg
}

func TestDeliverSuccess(t *testing.T) {
	var received deliveryPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newFakeStore()
	msg := pendingMessage(t, store, server.URL)

	dispatcher := NewDispatcher(store, syncQueue{}, testDispatchConfig(), testLogger())
	require.NoError(t, dispatcher.Enqueue(msg.ID))

	assert.Equal(t, models.MessageStatusSent, store.messages[msg.ID].Status)
	assert.Equal(t, msg.ID, received.MessageID)
	assert.Equal(t, msg.ConversationID, received.ConversationID)
	assert.Equal(t, "on my way", received.Content)
	require.NotNil(t, received.ExternalUserID)
	assert.Equal(t, "user-1", *received.ExternalUserID)

	receipts := store.receiptsFor(msg.ID)
	require.Len(t, receipts, 1)
	assert.Equal(t, string(models.MessageStatusSent), receipts[0].status)
	assert.Equal(t, http.StatusOK, receipts[0].response["status_code"])
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newFakeStore()
	msg := pendingMessage(t, store, server.URL)

	dispatcher := NewDispatcher(store, syncQueue{}, testDispatchConfig(), testLogger())
	require.NoError(t, dispatcher.Enqueue(msg.ID))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, models.MessageStatusSent, store.messages[msg.ID].Status)

	// One RETRY receipt for the failed attempt, one SENT for the success.
	receipts := store.receiptsFor(msg.ID)
	require.Len(t, receipts, 2)
	assert.Equal(t, models.ReceiptStatusRetry, receipts[0].status)
	assert.Equal(t, string(models.MessageStatusSent), receipts[1].status)
}

func TestDeliverExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newFakeStore()
	msg := pendingMessage(t, store, server.URL)

	cfg := testDispatchConfig()
	dispatcher := NewDispatcher(store, syncQueue{}, cfg, testLogger())
	require.NoError(t, dispatcher.Enqueue(msg.ID))

	assert.Equal(t, int32(cfg.MaxAttempts), atomic.LoadInt32(&calls))
	assert.Equal(t, models.MessageStatusFailed, store.messages[msg.ID].Status)
	require.NotNil(t, store.messages[msg.ID].ErrorText)
	assert.Contains(t, *store.messages[msg.ID].ErrorText, "500")
	assert.Contains(t, *store.messages[msg.ID].ErrorText, string(apperrors.ErrCodeDeliveryExhausted))

	// One receipt per attempt: RETRY for each non-final failure, FAILED last.
	receipts := store.receiptsFor(msg.ID)
	require.Len(t, receipts, cfg.MaxAttempts)
	for i := 0; i < cfg.MaxAttempts-1; i++ {
		assert.Equal(t, models.ReceiptStatusRetry, receipts[i].status)
		assert.Contains(t, receipts[i].response["error"], string(apperrors.ErrCodeDeliveryFailed))
	}
	assert.Equal(t, string(models.MessageStatusFailed), receipts[cfg.MaxAttempts-1].status)
}

func TestDeliverMissingEndpointFailsTerminally(t *testing.T) {
	store := newFakeStore()
	msg := pendingMessage(t, store, "")

	dispatcher := NewDispatcher(store, syncQueue{}, testDispatchConfig(), testLogger())
	require.NoError(t, dispatcher.Enqueue(msg.ID))

	assert.Equal(t, models.MessageStatusFailed, store.messages[msg.ID].Status)
	require.NotNil(t, store.messages[msg.ID].ErrorText)
	assert.Contains(t, *store.messages[msg.ID].ErrorText, "no outbound endpoint")
	assert.Len(t, store.receiptsFor(msg.ID), 1)
}

func TestDeliverSkipsNonPendingMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no delivery expected")
	}))
	defer server.Close()

	store := newFakeStore()
	msg := pendingMessage(t, store, server.URL)
	store.messages[msg.ID].Status = models.MessageStatusSent

	dispatcher := NewDispatcher(store, syncQueue{}, testDispatchConfig(), testLogger())
	require.NoError(t, dispatcher.Enqueue(msg.ID))

	assert.Empty(t, store.receiptsFor(msg.ID))
}

func TestDeliverUnknownMessageIsNoOp(t *testing.T) {
	store := newFakeStore()
	dispatcher := NewDispatcher(store, syncQueue{}, testDispatchConfig(), testLogger())

	require.NoError(t, dispatcher.Enqueue("missing"))
	assert.Empty(t, store.receipts)
}
