package sla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/tullo/moderation/config"
	"github.com/tullo/moderation/internal/models"
)

const webhookAttempts = 3

// WebhookChannel posts alerts as JSON to an HTTP callback. Calls are retried
// with backoff inside a per-channel circuit breaker.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	body   func(models.BreachAlert) any
}

func NewWebhookChannel(name, url string, timeout time.Duration, body func(models.BreachAlert) any) *WebhookChannel {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     cb,
		body:   body,
	}
}

func (w *WebhookChannel) Name() string { return w.name }

// Send delivers the alert. ctx bounds all attempts.
func (w *WebhookChannel) Send(ctx context.Context, alert models.BreachAlert) error {
	payload, err := json.Marshal(w.body(alert))
	if err != nil {
		return fmt.Errorf("failed to encode %s alert: %w", w.name, err)
	}

	_, err = w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(webhookAttempts),
			retry.DelayType(func(n uint, err error, dc retry.DelayContext) time.Duration {
				return retry.BackOffDelay(n, err, dc)
			}),
		)
		return nil, r.Do(func() error {
			return w.post(ctx, payload)
		})
	})
	return err
}

func (w *WebhookChannel) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s callback returned %d", w.name, resp.StatusCode)
	}
	return nil
}

func summary(alert models.BreachAlert) string {
	return fmt.Sprintf("[%s] SLA breach: %s", strings.ToUpper(string(alert.Severity)), alert.Type)
}

// NewChatChannel posts a short message for chat webhooks.
func NewChatChannel(url string, timeout time.Duration) *WebhookChannel {
	return NewWebhookChannel("chat", url, timeout, func(a models.BreachAlert) any {
		return map[string]any{
			"text":  summary(a),
			"alert": a,
		}
	})
}

// NewEmailChannel posts to an email relay.
func NewEmailChannel(url, to string, timeout time.Duration) *WebhookChannel {
	return NewWebhookChannel("email", url, timeout, func(a models.BreachAlert) any {
		details, _ := json.MarshalIndent(a.Details, "", "  ")
		return map[string]any{
			"to":      to,
			"subject": summary(a),
			"body":    fmt.Sprintf("%s at %s\n\n%s", summary(a), a.Timestamp.Format(time.RFC3339), details),
		}
	})
}

// NewPagerChannel triggers an incident on a paging service.
func NewPagerChannel(url, routingKey string, timeout time.Duration) *WebhookChannel {
	return NewWebhookChannel("pager", url, timeout, func(a models.BreachAlert) any {
		return map[string]any{
			"routing_key":  routingKey,
			"event_action": "trigger",
			"dedup_key":    a.ID.String(),
			"payload": map[string]any{
				"summary":        summary(a),
				"severity":       string(a.Severity),
				"source":         "moderation",
				"timestamp":      a.Timestamp.Format(time.RFC3339),
				"custom_details": a.Details,
			},
		}
	})
}

// ChannelsFromConfig builds the configured channels. A channel without a URL
// is left out.
func ChannelsFromConfig(cfg config.AlertConfig) []Channel {
	channels := []Channel{}
	if cfg.ChatWebhookURL != "" {
		channels = append(channels, NewChatChannel(cfg.ChatWebhookURL, cfg.ChannelTimeout))
	}
	if cfg.EmailRelayURL != "" {
		channels = append(channels, NewEmailChannel(cfg.EmailRelayURL, cfg.EmailTo, cfg.ChannelTimeout))
	}
	if cfg.PagerURL != "" {
		channels = append(channels, NewPagerChannel(cfg.PagerURL, cfg.PagerRoutingKey, cfg.ChannelTimeout))
	}
	return channels
}
