package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/queue"
	"chatrelay/internal/retry"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DispatcherStore is the storage surface outbound delivery needs.
type DispatcherStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetSource(ctx context.Context, id string) (*models.Source, error)
	GetContactByID(ctx context.Context, id string) (*models.ExternalContact, error)
	RecordDeliverySuccess(ctx context.Context, messageID string, providerStatusCode int) error
	RecordDeliveryFailure(ctx context.Context, messageID string, errorText string) error
	RecordDeliveryAttempt(ctx context.Context, messageID string, status string, response map[string]interface{}) error
}

// deliveryPayload is the JSON body posted to the source's outbound endpoint.
type deliveryPayload struct {
	ConversationID string  `json:"conversation_id"`
	ExternalUserID *string `json:"external_user_id"`
	Content        string  `json:"content"`
	MessageID      string  `json:"message_id"`
}

// Dispatcher delivers PENDING outbound messages to provider endpoints with
// bounded, monotonic retry. Each attempt runs as its own queue task; a failed
// attempt yields the worker and requeues after the backoff delay while the
// message's dedupe key stays reserved, so attempts never race and a failing
// message never pins a worker through its retry waits.
type Dispatcher struct {
	store       DispatcherStore
	queue       queue.Queue
	httpClient  *http.Client
	backoff     *retry.Backoff
	limiter     *rate.Limiter
	maxAttempts int
	logger      *logrus.Logger
}

func NewDispatcher(store DispatcherStore, q queue.Queue, cfg models.DispatchConfig, logger *logrus.Logger) *Dispatcher {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.MaxAttempts,
		Jitter:       false, // delivery retry must be monotonic non-decreasing
	})
	return &Dispatcher{
		store:       store,
		queue:       q,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		backoff:     backoff,
		limiter:     rate.NewLimiter(rate.Limit(cfg.ProviderQPS), cfg.ProviderBurst),
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
}

// Enqueue schedules asynchronous delivery of the message. Fire-and-forget:
// the returned error only reports enqueue failure, never delivery outcome.
// The attempt counter lives in the task closure; the queue resubmits the
// same task on RetryLater, and the single-writer key guarantee means the
// counter is never touched concurrently.
func (d *Dispatcher) Enqueue(messageID string) error {
	attempt := 0
	return d.queue.Enqueue(queue.Task{
		Kind: "deliver",
		Key:  messageID,
		Run: func(ctx context.Context) error {
			attempt++
			return d.deliver(ctx, messageID, attempt)
		},
	})
}

// deliver runs one delivery attempt for the message.
func (d *Dispatcher) deliver(ctx context.Context, messageID string, attempt int) error {
	msg, err := d.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		// Deleted while queued; nothing to do.
		return nil
	}
	if msg.Status != models.MessageStatusPending {
		return nil
	}

	payload, endpoint, err := d.buildPayload(ctx, msg)
	if err != nil {
		// Misconfiguration is not transient; record terminal failure.
		if recordErr := d.store.RecordDeliveryFailure(ctx, msg.ID, err.Error()); recordErr != nil {
			return fmt.Errorf("failed to record delivery failure: %w", recordErr)
		}
		metrics.DispatchAttempts.WithLabelValues("exhausted").Inc()
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	metrics.DispatchInFlight.Inc()
	start := time.Now()
	statusCode, attemptErr := d.post(ctx, endpoint, body)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	metrics.DispatchInFlight.Dec()

	if attemptErr == nil {
		if recordErr := d.store.RecordDeliverySuccess(ctx, msg.ID, statusCode); recordErr != nil {
			d.logger.WithError(recordErr).WithField("message", msg.ID).
				Error("Delivered but failed to record success")
		}
		metrics.DispatchAttempts.WithLabelValues("sent").Inc()
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown mid-attempt: leave the message PENDING for reconciliation.
		return ctx.Err()
	}

	metrics.DispatchAttempts.WithLabelValues("temp_fail").Inc()
	d.logger.WithFields(logrus.Fields{
		"message": msg.ID,
		"attempt": attempt,
	}).WithError(attemptErr).Warn("Delivery attempt failed")

	if attempt < d.maxAttempts && apperrors.IsRetryable(attemptErr) {
		if recordErr := d.store.RecordDeliveryAttempt(ctx, msg.ID, models.ReceiptStatusRetry, map[string]interface{}{
			"error":   attemptErr.Error(),
			"attempt": attempt,
		}); recordErr != nil {
			d.logger.WithError(recordErr).WithField("message", msg.ID).
				Warn("Failed to record delivery attempt")
		}
		return &queue.RetryLater{Delay: d.backoff.GetNextDelay(attempt)}
	}

	final := apperrors.Wrap(attemptErr, apperrors.ErrCodeDeliveryExhausted, "delivery retries exhausted")
	if recordErr := d.store.RecordDeliveryFailure(ctx, msg.ID, final.Error()); recordErr != nil {
		return fmt.Errorf("failed to record delivery failure: %w", recordErr)
	}
	metrics.DispatchAttempts.WithLabelValues("exhausted").Inc()
	d.logger.WithFields(logrus.Fields{
		"message":  msg.ID,
		"attempts": attempt,
	}).WithError(final).Error("Delivery exhausted")
	return nil
}

func (d *Dispatcher) buildPayload(ctx context.Context, msg *models.Message) (*deliveryPayload, string, error) {
	conv, err := d.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, "", fmt.Errorf("conversation %s not found", msg.ConversationID)
	}

	source, err := d.store.GetSource(ctx, msg.SourceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load source: %w", err)
	}
	if source == nil {
		return nil, "", fmt.Errorf("source %s not found", msg.SourceID)
	}
	if source.OutboundEndpointTemplate == "" {
		return nil, "", fmt.Errorf("source %s has no outbound endpoint", source.Slug)
	}

	var externalUserID *string
	if conv.ContactID != nil {
		contact, err := d.store.GetContactByID(ctx, *conv.ContactID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load contact: %w", err)
		}
		if contact != nil {
			externalUserID = &contact.ExternalID
		}
	}

	return &deliveryPayload{
		ConversationID: conv.ID,
		ExternalUserID: externalUserID,
		Content:        msg.Content,
		MessageID:      msg.ID,
	}, source.OutboundEndpointTemplate, nil
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.WrapRetryable(err, apperrors.ErrCodeDeliveryFailed, "provider request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, apperrors.WrapRetryable(
			fmt.Errorf("provider returned status %d", resp.StatusCode),
			apperrors.ErrCodeDeliveryFailed, "provider rejected delivery")
	}
	return resp.StatusCode, nil
}
