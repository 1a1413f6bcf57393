package webhooks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/platinummonkey/gantry/pkg/async"
	"github.com/platinummonkey/gantry/pkg/observability"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}

	return &RetryPolicy{config: config}
}

// ShouldRetry determines if a delivery should be retried
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay calculates the delay before the next retry
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}

	return time.Duration(delay)
}

// NextRetryTime calculates when the next retry should occur
func (p *RetryPolicy) NextRetryTime(attempts int) time.Time {
	return time.Now().Add(p.NextRetryDelay(attempts))
}

// RetryWorker re-attempts failed webhook deliveries on a schedule
type RetryWorker struct {
	manager       *Manager
	deliveryStore *DeliveryLogStore
	retryPolicy   *RetryPolicy
	logger        *observability.Logger
	stopCh        chan struct{}
	ticker        *time.Ticker
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(manager *Manager, deliveryStore *DeliveryLogStore, retryPolicy *RetryPolicy, logger *observability.Logger) *RetryWorker {
	return &RetryWorker{
		manager:       manager,
		deliveryStore: deliveryStore,
		retryPolicy:   retryPolicy,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the retry worker
func (w *RetryWorker) Start(ctx context.Context, checkInterval time.Duration) {
	w.ticker = time.NewTicker(checkInterval)

	async.SafeGo("webhook retry worker", w.logger, func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-w.ticker.C:
				w.processRetries(ctx)
			}
		}
	})
}

// Stop stops the retry worker
func (w *RetryWorker) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stopCh)
}

// processRetries processes all pending retries
func (w *RetryWorker) processRetries(ctx context.Context) {
	for _, log := range w.deliveryStore.GetPendingRetries() {
		webhook, err := w.manager.Get(log.WebhookID)
		if err != nil {
			w.markDead(log, fmt.Sprintf("webhook not found: %v", err))
			continue
		}

		if !webhook.Active {
			w.markDead(log, "webhook is inactive")
			continue
		}

		w.retryDelivery(ctx, webhook, log)
	}
}

func (w *RetryWorker) markDead(log *DeliveryLog, reason string) {
	log.Status = DeliveryStatusFailed
	log.ErrorMessage = reason
	now := time.Now().UTC()
	log.CompletedAt = &now
	w.deliveryStore.Update(log)
}

// retryDelivery attempts to deliver a webhook again
func (w *RetryWorker) retryDelivery(ctx context.Context, webhook *Webhook, log *DeliveryLog) {
	log.Attempts++

	// The original payload is not retained; replay the event envelope
	event := &Event{
		ID:        log.EventID,
		Type:      log.EventType,
		Timestamp: log.CreatedAt,
		Data:      make(map[string]interface{}),
	}

	start := time.Now()
	err := w.manager.send(ctx, webhook, event, log)
	log.Duration = time.Since(start)

	if err != nil {
		if w.retryPolicy.ShouldRetry(log.Attempts, err) {
			log.Status = DeliveryStatusRetrying
			nextRetry := w.retryPolicy.NextRetryTime(log.Attempts)
			log.NextRetryAt = &nextRetry
			log.ErrorMessage = err.Error()
		} else {
			w.markDead(log, fmt.Sprintf("max retries exceeded: %v", err))
			return
		}
	} else {
		log.Status = DeliveryStatusSuccess
		log.ErrorMessage = ""
		now := time.Now().UTC()
		log.CompletedAt = &now
	}

	w.deliveryStore.Update(log)
}
