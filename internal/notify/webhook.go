package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultRetryCount     = 2
	defaultRetryWait      = 500 * time.Millisecond
	defaultRetryMaxWait   = 5 * time.Second

	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Payout-Signature"
)

var _ Notifier = (*WebhookNotifier)(nil)

// WebhookNotifier posts result events as JSON. Transient failures are retried by the client.
type WebhookNotifier struct {
	client   *resty.Client
	endpoint string
	secret   []byte
}

func NewWebhookNotifier(endpoint string, secret string) (*WebhookNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(defaultRetryCount)
	client.SetRetryWaitTime(defaultRetryWait)
	client.SetRetryMaxWaitTime(defaultRetryMaxWait)

	return NewWebhookNotifierWithClient(endpoint, secret, client)
}

func NewWebhookNotifierWithClient(endpoint string, secret string, client *resty.Client) (*WebhookNotifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.AddRetryCondition(func(response *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled)
		}
		return response != nil && isTransientHTTPStatus(response.StatusCode())
	})

	return &WebhookNotifier{
		client:   client,
		endpoint: trimmedEndpoint,
		secret:   []byte(secret),
	}, nil
}

func (n *WebhookNotifier) NotifyResult(ctx context.Context, event ResultEvent) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("notifier is not initialized")
	}
	if strings.TrimSpace(event.BatchID) == "" {
		return fmt.Errorf("result event batch id is required")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal result event: %w", err)
	}

	request := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", event.BatchID).
		SetBody(body)
	if event.CorrelationID != "" {
		request.SetHeader("X-Correlation-ID", event.CorrelationID)
	}
	if len(n.secret) > 0 {
		request.SetHeader(SignatureHeader, Sign(n.secret, body))
	}

	response, err := request.Post(n.endpoint)
	if err != nil {
		return &DeliveryError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &DeliveryError{
		StatusCode: statusCode,
		Message:    deliveryErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func deliveryErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
