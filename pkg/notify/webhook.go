package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
)

// WebhookNotifier pushes sync progress events to a webhook endpoint as JSON
// POSTs. Delivery is best effort: failures are logged, never propagated
// into the sync pipeline.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewWebhookNotifier builds a notifier for the given endpoint.
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("notify: webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     trimmed,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}, nil
}

// Notify posts the event. The sync pipeline must not stall on a slow
// realtime layer, so the request runs under its own deadline and errors are
// swallowed after logging.
func (n *WebhookNotifier) Notify(ctx context.Context, event archibald.Progress) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("sync_type", event.SyncType).Msg("notify: marshal progress event failed")
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("notify: build webhook request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("sync_type", event.SyncType).Msg("notify: webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("sync_type", event.SyncType).
			Msg("notify: webhook rejected progress event")
	}
}
