package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gantry/pkg/async"
	"github.com/platinummonkey/gantry/pkg/observability"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventNodeCreated           EventType = "node.created"
	EventConfigUpdated         EventType = "config.updated"
	EventTokenIssued           EventType = "token.issued"
	EventTokenRevoked          EventType = "token.revoked"
	EventProvisioningCompleted EventType = "provisioning.completed"
	EventProvisioningFailed    EventType = "provisioning.failed"
)

// Format selects how the event payload is rendered for an endpoint
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
	FormatTeams Format = "teams"
)

// ErrNotFound is returned when a webhook does not exist
var ErrNotFound = errors.New("webhook not found")

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Webhook represents a registered webhook endpoint
type Webhook struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"secret,omitempty"`
	Format      Format      `json:"format,omitempty"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Manager fans control-plane events out to registered webhook endpoints.
// It implements the EventSink interface consumed by the nodeconfig, auth
// and provisioning services.
type Manager struct {
	mu            sync.RWMutex
	webhooks      map[string]*Webhook
	client        *http.Client
	deliveryStore *DeliveryLogStore
	retryWorker   *RetryWorker
	rateLimiter   *RateLimiter
	pool          *async.WorkerPool
	logger        *observability.Logger
}

// NewManager creates a new webhook manager
func NewManager(logger *observability.Logger) *Manager {
	deliveryStore := NewDeliveryLogStore(1000)

	m := &Manager{
		webhooks: make(map[string]*Webhook),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveryStore: deliveryStore,
		rateLimiter:   NewRateLimiter(100, time.Minute),
		pool:          async.NewWorkerPool(context.Background(), 4, "webhook delivery", 30*time.Second, logger),
		logger:        logger,
	}

	m.retryWorker = NewRetryWorker(m, deliveryStore, NewRetryPolicy(DefaultRetryConfig()), logger)

	return m
}

// Shutdown stops the delivery worker pool, waiting for in-flight deliveries
func (m *Manager) Shutdown(timeout time.Duration) error {
	return m.pool.Shutdown(timeout)
}

// StartRetryWorker starts the background delivery retry worker
func (m *Manager) StartRetryWorker(ctx context.Context) {
	m.retryWorker.Start(ctx, 30*time.Second)
}

// StopRetryWorker stops the retry worker
func (m *Manager) StopRetryWorker() {
	m.retryWorker.Stop()
}

// Emit satisfies the event sink interface of the service layers. Delivery
// is asynchronous; emitting never blocks or fails the calling operation.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]interface{}) {
	m.Dispatch(ctx, &Event{Type: EventType(event), Data: data})
}

// Register registers a new webhook endpoint
func (m *Manager) Register(webhook *Webhook) error {
	if webhook.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if len(webhook.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	if webhook.Format == "" {
		webhook.Format = FormatJSON
	}

	webhook.ID = uuid.NewString()
	webhook.Active = true
	webhook.CreatedAt = time.Now().UTC()
	webhook.UpdatedAt = webhook.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[webhook.ID] = webhook
	return nil
}

// Unregister removes a webhook
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.webhooks[id]; !exists {
		return ErrNotFound
	}
	delete(m.webhooks, id)
	return nil
}

// Update updates a webhook's URL, event subscriptions or secret
func (m *Manager) Update(id string, updates *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	webhook, exists := m.webhooks[id]
	if !exists {
		return ErrNotFound
	}

	if updates.URL != "" {
		webhook.URL = updates.URL
	}
	if len(updates.Events) > 0 {
		webhook.Events = updates.Events
	}
	if updates.Secret != "" {
		webhook.Secret = updates.Secret
	}
	if updates.Format != "" {
		webhook.Format = updates.Format
	}
	webhook.UpdatedAt = time.Now().UTC()

	return nil
}

// Dispatch sends an event to every active webhook subscribed to its type
func (m *Manager) Dispatch(ctx context.Context, event *Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	m.mu.RLock()
	targets := make([]*Webhook, 0, len(m.webhooks))
	for _, webhook := range m.webhooks {
		if webhook.Active && webhook.subscribed(event.Type) {
			targets = append(targets, webhook)
		}
	}
	m.mu.RUnlock()

	for _, webhook := range targets {
		deliveryLog := &DeliveryLog{
			ID:        uuid.NewString(),
			WebhookID: webhook.ID,
			EventID:   event.ID,
			EventType: event.Type,
			URL:       webhook.URL,
			Status:    DeliveryStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		m.deliveryStore.Add(deliveryLog)

		webhook := webhook
		if err := m.pool.Submit(func(taskCtx context.Context) error {
			m.deliver(taskCtx, webhook, event, deliveryLog)
			return nil
		}); err != nil && m.logger != nil {
			m.logger.WithError(err).WithField("webhook_id", webhook.ID).Warnf("dropping webhook delivery")
		}
	}
}

func (wh *Webhook) subscribed(eventType EventType) bool {
	for _, t := range wh.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// deliver makes the first delivery attempt and records the outcome
func (m *Manager) deliver(ctx context.Context, webhook *Webhook, event *Event, deliveryLog *DeliveryLog) {
	deliveryLog.Attempts++
	start := time.Now()

	err := m.send(ctx, webhook, event, deliveryLog)
	deliveryLog.Duration = time.Since(start)

	if err != nil {
		retryPolicy := m.retryWorker.retryPolicy
		if retryPolicy.ShouldRetry(deliveryLog.Attempts, err) {
			deliveryLog.Status = DeliveryStatusRetrying
			nextRetry := retryPolicy.NextRetryTime(deliveryLog.Attempts)
			deliveryLog.NextRetryAt = &nextRetry
			deliveryLog.ErrorMessage = err.Error()
		} else {
			deliveryLog.Status = DeliveryStatusFailed
			deliveryLog.ErrorMessage = err.Error()
			now := time.Now().UTC()
			deliveryLog.CompletedAt = &now
		}
		if m.logger != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"webhook_id": webhook.ID,
				"event":      string(event.Type),
			}).Warnf("webhook delivery failed")
		}
	} else {
		deliveryLog.Status = DeliveryStatusSuccess
		now := time.Now().UTC()
		deliveryLog.CompletedAt = &now
	}

	m.deliveryStore.Update(deliveryLog)
}

// send performs a single delivery attempt
func (m *Manager) send(ctx context.Context, webhook *Webhook, event *Event, deliveryLog *DeliveryLog) error {
	if !m.rateLimiter.Allow(webhook.ID) {
		return fmt.Errorf("rate limit exceeded for webhook %s", webhook.ID)
	}

	payload, err := renderPayload(webhook.Format, event)
	if err != nil {
		return fmt.Errorf("failed to render event payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gantry-Event", string(event.Type))
	req.Header.Set("X-Gantry-Event-ID", event.ID)
	req.Header.Set("X-Gantry-Delivery", time.Now().UTC().Format(time.RFC3339))

	if webhook.Secret != "" {
		req.Header.Set("X-Gantry-Signature", generateSignature(payload, webhook.Secret))
	}

	if deliveryLog != nil {
		deliveryLog.RequestHeaders = make(map[string]string)
		for key, values := range req.Header {
			if len(values) > 0 {
				deliveryLog.RequestHeaders[key] = values[0]
			}
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if deliveryLog != nil {
		deliveryLog.StatusCode = resp.StatusCode
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}

	return nil
}

// renderPayload serializes the event in the endpoint's configured format
func renderPayload(format Format, event *Event) ([]byte, error) {
	switch format {
	case FormatSlack:
		return json.Marshal(FormatSlackMessage(event))
	case FormatTeams:
		return json.Marshal(FormatTeamsMessage(event))
	default:
		return json.Marshal(event)
	}
}

// VerifySignature verifies a webhook signature against the shared secret
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates an HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// List returns all registered webhooks
func (m *Manager) List() []*Webhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	webhooks := make([]*Webhook, 0, len(m.webhooks))
	for _, webhook := range m.webhooks {
		webhooks = append(webhooks, webhook)
	}
	return webhooks
}

// Get retrieves a webhook by ID
func (m *Manager) Get(id string) (*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	webhook, exists := m.webhooks[id]
	if !exists {
		return nil, ErrNotFound
	}
	return webhook, nil
}

// Deactivate stops deliveries to a webhook without removing it
func (m *Manager) Deactivate(id string) error {
	return m.setActive(id, false)
}

// Activate resumes deliveries to a webhook
func (m *Manager) Activate(id string) error {
	return m.setActive(id, true)
}

func (m *Manager) setActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	webhook, exists := m.webhooks[id]
	if !exists {
		return ErrNotFound
	}
	webhook.Active = active
	webhook.UpdatedAt = time.Now().UTC()
	return nil
}

// DeliveryLogs retrieves recent delivery logs for a webhook
func (m *Manager) DeliveryLogs(webhookID string, limit int) []*DeliveryLog {
	return m.deliveryStore.GetByWebhook(webhookID, limit)
}

// DeliveryStatsFor retrieves delivery statistics for a webhook
func (m *Manager) DeliveryStatsFor(webhookID string) DeliveryStats {
	return m.deliveryStore.GetStats(webhookID)
}
