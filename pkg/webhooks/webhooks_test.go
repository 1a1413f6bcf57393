package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedDelivery struct {
	body    []byte
	headers http.Header
}

func captureServer(t *testing.T, status int) (*httptest.Server, chan capturedDelivery) {
	t.Helper()
	deliveries := make(chan capturedDelivery, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		deliveries <- capturedDelivery{body: body, headers: r.Header.Clone()}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, deliveries
}

func awaitDelivery(t *testing.T, deliveries chan capturedDelivery) capturedDelivery {
	t.Helper()
	select {
	case d := <-deliveries:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return capturedDelivery{}
	}
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager(nil)

	err := m.Register(&Webhook{Events: []EventType{EventNodeCreated}})
	assert.Error(t, err)

	err = m.Register(&Webhook{URL: "https://example.com/hook"})
	assert.Error(t, err)

	err = m.Register(&Webhook{URL: "https://example.com/hook", Events: []EventType{EventNodeCreated}})
	require.NoError(t, err)

	hooks := m.List()
	require.Len(t, hooks, 1)
	assert.True(t, hooks[0].Active)
	assert.Equal(t, FormatJSON, hooks[0].Format)
	assert.NotEmpty(t, hooks[0].ID)
}

func TestDispatchDelivers(t *testing.T) {
	server, deliveries := captureServer(t, http.StatusOK)

	m := NewManager(nil)
	require.NoError(t, m.Register(&Webhook{
		URL:    server.URL,
		Events: []EventType{EventConfigUpdated},
		Secret: "hook-secret",
	}))

	m.Emit(context.Background(), "config.updated", map[string]interface{}{
		"node_id": "node-1",
		"version": "4",
	})

	d := awaitDelivery(t, deliveries)

	var event Event
	require.NoError(t, json.Unmarshal(d.body, &event))
	assert.Equal(t, EventConfigUpdated, event.Type)
	assert.Equal(t, "node-1", event.Data["node_id"])
	assert.NotEmpty(t, event.ID)

	assert.Equal(t, "config.updated", d.headers.Get("X-Gantry-Event"))
	assert.NotEmpty(t, d.headers.Get("X-Gantry-Event-ID"))

	sig := d.headers.Get("X-Gantry-Signature")
	require.NotEmpty(t, sig)
	assert.True(t, VerifySignature(d.body, sig, "hook-secret"))
	assert.False(t, VerifySignature(d.body, sig, "wrong-secret"))
}

func TestDispatchFiltersBySubscription(t *testing.T) {
	server, deliveries := captureServer(t, http.StatusOK)

	m := NewManager(nil)
	require.NoError(t, m.Register(&Webhook{
		URL:    server.URL,
		Events: []EventType{EventTokenIssued},
	}))

	m.Emit(context.Background(), "config.updated", nil)

	select {
	case <-deliveries:
		t.Fatal("delivery should have been filtered out")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDispatchSkipsInactive(t *testing.T) {
	server, deliveries := captureServer(t, http.StatusOK)

	m := NewManager(nil)
	hook := &Webhook{URL: server.URL, Events: []EventType{EventNodeCreated}}
	require.NoError(t, m.Register(hook))
	require.NoError(t, m.Deactivate(hook.ID))

	m.Emit(context.Background(), "node.created", nil)

	select {
	case <-deliveries:
		t.Fatal("inactive webhook should not receive deliveries")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, m.Activate(hook.ID))
	m.Emit(context.Background(), "node.created", nil)
	awaitDelivery(t, deliveries)
}

func TestDispatchRecordsFailedDelivery(t *testing.T) {
	server, deliveries := captureServer(t, http.StatusInternalServerError)

	m := NewManager(nil)
	hook := &Webhook{URL: server.URL, Events: []EventType{EventProvisioningFailed}}
	require.NoError(t, m.Register(hook))

	m.Emit(context.Background(), "provisioning.failed", map[string]interface{}{"reason": "boom"})
	awaitDelivery(t, deliveries)

	require.Eventually(t, func() bool {
		logs := m.DeliveryLogs(hook.ID, 10)
		return len(logs) == 1 && logs[0].Status == DeliveryStatusRetrying
	}, 2*time.Second, 20*time.Millisecond)

	logs := m.DeliveryLogs(hook.ID, 10)
	assert.Equal(t, http.StatusInternalServerError, logs[0].StatusCode)
	assert.NotNil(t, logs[0].NextRetryAt)
}

func TestSlackFormatPayload(t *testing.T) {
	server, deliveries := captureServer(t, http.StatusOK)

	m := NewManager(nil)
	require.NoError(t, m.Register(&Webhook{
		URL:    server.URL,
		Events: []EventType{EventProvisioningCompleted},
		Format: FormatSlack,
	}))

	m.Emit(context.Background(), "provisioning.completed", map[string]interface{}{
		"org_id": "org-1",
	})

	d := awaitDelivery(t, deliveries)

	var msg SlackMessage
	require.NoError(t, json.Unmarshal(d.body, &msg))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "Provisioning Completed", msg.Attachments[0].Title)
	assert.Equal(t, "good", msg.Attachments[0].Color)
}

func TestUnregister(t *testing.T) {
	m := NewManager(nil)
	hook := &Webhook{URL: "https://example.com/hook", Events: []EventType{EventNodeCreated}}
	require.NoError(t, m.Register(hook))

	require.NoError(t, m.Unregister(hook.ID))
	assert.ErrorIs(t, m.Unregister(hook.ID), ErrNotFound)

	_, err := m.Get(hook.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateWebhook(t *testing.T) {
	m := NewManager(nil)
	hook := &Webhook{URL: "https://example.com/hook", Events: []EventType{EventNodeCreated}}
	require.NoError(t, m.Register(hook))

	require.NoError(t, m.Update(hook.ID, &Webhook{
		URL:    "https://example.com/v2/hook",
		Events: []EventType{EventTokenRevoked},
	}))

	updated, err := m.Get(hook.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v2/hook", updated.URL)
	assert.Equal(t, []EventType{EventTokenRevoked}, updated.Events)

	assert.ErrorIs(t, m.Update("missing", &Webhook{}), ErrNotFound)
}
