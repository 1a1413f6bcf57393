// Package webhooks provides event-driven webhook delivery for control plane events.
//
// # Overview
//
// This package manages webhook registration, delivery, retries, and monitoring with
// automatic retry logic, rate limiting, and HMAC signature verification. The Manager
// doubles as the event sink the service layers emit into: provisioning runs, config
// writes and token lifecycle changes all fan out through it.
//
// # Webhook Events
//
// node.created
// config.updated
// token.issued, token.revoked
// provisioning.completed, provisioning.failed
//
// # Usage Example
//
// Register webhook:
//
//	webhook := &webhooks.Webhook{
//		URL:    "https://api.example.com/webhooks",
//		Events: []webhooks.EventType{webhooks.EventNodeCreated, webhooks.EventConfigUpdated},
//		Secret: "webhook-secret",
//	}
//	manager.Register(webhook)
//
// Trigger event:
//
//	manager.Emit(ctx, "config.updated", map[string]interface{}{
//		"node_id": nodeID,
//		"version": version,
//	})
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get("X-Gantry-Signature")
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Exponential backoff: 1s, 2s, 4s, 8s, 16s
// Max retries: 5
// Timeout per attempt: 10s
//
// # Related Packages
//
//   - pkg/async: Asynchronous delivery
//   - pkg/provisioning, pkg/nodeconfig, pkg/auth: event producers
package webhooks
