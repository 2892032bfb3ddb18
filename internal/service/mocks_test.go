package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/queue"

	"github.com/sirupsen/logrus"
)

// fakeStore is an in-memory stand-in for the database satisfying every store
// interface in this package.
type fakeStore struct {
	mu sync.Mutex

	sources       map[string]*models.Source // keyed by slug
	contacts      map[string]*models.ExternalContact
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	events        []*models.WebhookEvent
	processed     map[string]bool
	receipts      []recordedReceipt
	stalePending  []string

	findMessageErr    error
	createMessageErr  error
	createOutboundErr error
	cleanupErr        error
	cleanupCalls      int

	nextID int
}

type recordedReceipt struct {
	messageID string
	status    string
	response  map[string]interface{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:       make(map[string]*models.Source),
		contacts:      make(map[string]*models.ExternalContact),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		processed:     make(map[string]bool),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) addSource(slug, secret, endpoint string, active bool) *models.Source {
	src := &models.Source{
		ID:                       "src-" + slug,
		Slug:                     slug,
		DisplayName:              slug,
		InboundSecret:            secret,
		OutboundEndpointTemplate: endpoint,
		Active:                   active,
	}
	f.sources[slug] = src
	return src
}

func (f *fakeStore) GetSourceBySlug(ctx context.Context, slug string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[slug], nil
}

func (f *fakeStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, src := range f.sources {
		if src.ID == id {
			return src, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindMessageByExternalID(ctx context.Context, sourceID, externalMessageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findMessageErr != nil {
		return nil, f.findMessageErr
	}
	for _, msg := range f.messages {
		if msg.SourceID == sourceID && msg.ExternalMessageID != nil && *msg.ExternalMessageID == externalMessageID {
			return msg, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrCreateContact(ctx context.Context, sourceID, externalID string) (*models.ExternalContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sourceID + "/" + externalID
	if contact, ok := f.contacts[key]; ok {
		return contact, nil
	}
	contact := &models.ExternalContact{
		ID:         f.id("contact"),
		SourceID:   sourceID,
		ExternalID: externalID,
	}
	f.contacts[key] = contact
	return contact, nil
}

func (f *fakeStore) GetContactByID(ctx context.Context, id string) (*models.ExternalContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, contact := range f.contacts {
		if contact.ID == id {
			return contact, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindConversationByThreadKey(ctx context.Context, sourceID, threadKey string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.conversations {
		if conv.SourceID == sourceID && conv.ThreadKey != nil && *conv.ThreadKey == threadKey {
			return conv, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, sourceID string, contactID *string, threadKey *string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := &models.Conversation{
		ID:        f.id("conv"),
		SourceID:  sourceID,
		ContactID: contactID,
		ThreadKey: threadKey,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations[id], nil
}

func (f *fakeStore) ListConversations(ctx context.Context, operator string, limit int) ([]*models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ConversationSummary
	for _, conv := range f.conversations {
		out = append(out, &models.ConversationSummary{ID: conv.ID, UpdatedAt: conv.UpdatedAt})
	}
	return out, nil
}

func (f *fakeStore) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordWebhookEvent(ctx context.Context, sourceID string, rawPayload []byte, headers map[string]string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := &models.WebhookEvent{
		ID:         f.id("event"),
		SourceID:   sourceID,
		RawPayload: rawPayload,
		Headers:    headers,
		CreatedAt:  time.Now().UTC(),
	}
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeStore) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

func (f *fakeStore) CreateInboundMessage(ctx context.Context, conv *models.Conversation, contact *models.ExternalContact, normalized *models.NormalizedInbound, source *models.Source) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createMessageErr != nil {
		return nil, f.createMessageErr
	}
	msg := &models.Message{
		ID:                f.id("msg"),
		ConversationID:    conv.ID,
		Direction:         models.DirectionIn,
		Content:           normalized.Content,
		ExternalMessageID: normalized.ExternalMessageID,
		SourceID:          source.ID,
		Status:            models.MessageStatusReceived,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) CreateOutboundMessage(ctx context.Context, conv *models.Conversation, text string, actingOperator string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createOutboundErr != nil {
		return nil, f.createOutboundErr
	}
	msg := &models.Message{
		ID:             f.id("msg"),
		ConversationID: conv.ID,
		Direction:      models.DirectionOut,
		SenderOperator: &actingOperator,
		Content:        text,
		SourceID:       conv.SourceID,
		Status:         models.MessageStatusPending,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id], nil
}

func (f *fakeStore) RecordDeliverySuccess(ctx context.Context, messageID string, providerStatusCode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[messageID]; ok {
		msg.Status = models.MessageStatusSent
	}
	f.receipts = append(f.receipts, recordedReceipt{
		messageID: messageID,
		status:    string(models.MessageStatusSent),
		response:  map[string]interface{}{"status_code": providerStatusCode},
	})
	return nil
}

func (f *fakeStore) RecordDeliveryFailure(ctx context.Context, messageID string, errorText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[messageID]; ok {
		msg.Status = models.MessageStatusFailed
		msg.ErrorText = &errorText
	}
	f.receipts = append(f.receipts, recordedReceipt{
		messageID: messageID,
		status:    string(models.MessageStatusFailed),
		response:  map[string]interface{}{"error": errorText},
	})
	return nil
}

func (f *fakeStore) RecordDeliveryAttempt(ctx context.Context, messageID string, status string, response map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, recordedReceipt{messageID: messageID, status: status, response: response})
	return nil
}

func (f *fakeStore) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
	return f.cleanupErr
}

func (f *fakeStore) ListStalePendingMessages(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stalePending, nil
}

func (f *fakeStore) receiptsFor(messageID string) []recordedReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedReceipt
	for _, r := range f.receipts {
		if r.messageID == messageID {
			out = append(out, r)
		}
	}
	return out
}

// fakeEnqueuer records enqueued message ids and can simulate a full queue.
type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeEnqueuer) Enqueue(messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, messageID)
	return nil
}

// syncQueue runs tasks inline, which keeps dispatcher tests deterministic.
// A RetryLater result reruns the task after its delay, like the real queue.
type syncQueue struct{}

func (syncQueue) Enqueue(task queue.Task) error {
	for {
		err := task.Run(context.Background())
		var retryLater *queue.RetryLater
		if errors.As(err, &retryLater) {
			time.Sleep(retryLater.Delay)
			continue
		}
		return err
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}
