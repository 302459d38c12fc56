package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Transport delivers one notification to the external messaging
// collaborator. The transport itself (SMS gateway, push service) is out of
// scope; this is the engine's boundary to it.
type Transport interface {
	Send(ctx context.Context, n *Notification) error
}

// WebhookTransport posts notifications as JSON to the messaging gateway.
type WebhookTransport struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewWebhookTransport creates a transport for the given gateway endpoint.
func NewWebhookTransport(endpoint string, logger *zap.Logger) *WebhookTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Send implements Transport.
func (t *WebhookTransport) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("messaging gateway returned %d", resp.StatusCode)
	}

	t.logger.Debug("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("channel", n.Channel))
	return nil
}
