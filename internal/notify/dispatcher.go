// Package notify is the fire-and-forget notification boundary. Dispatch
// failures are logged and counted, never propagated into the caller's flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/observability"
)

// Message is one outbound notification.
type Message struct {
	To       string
	Channel  string
	Template string
	Data     map[string]string
}

// Channel names.
const (
	ChannelSMS = "sms"
)

// Templates.
const (
	TemplateTemporaryPassword = "temporary_password"
	TemplatePaymentReceived   = "payment_received"
	TemplateWithdrawalSent    = "withdrawal_sent"
)

// Dispatcher delivers notifications best-effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// SMSDispatcher posts messages to an HTTP SMS gateway in a detached goroutine
// with its own deadline, so a slow gateway never blocks a webhook response.
type SMSDispatcher struct {
	gatewayURL string
	apiKey     string
	senderID   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSMSDispatcher builds a dispatcher; an empty gatewayURL disables delivery
// (messages are only logged).
func NewSMSDispatcher(gatewayURL, apiKey, senderID string, logger *zap.Logger) *SMSDispatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &SMSDispatcher{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		senderID:   senderID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type smsPayload struct {
	To       string            `json:"to"`
	From     string            `json:"from"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// Dispatch never returns an error and never blocks on the gateway.
func (d *SMSDispatcher) Dispatch(ctx context.Context, msg Message) {
	if msg.To == "" {
		return
	}
	if d.gatewayURL == "" {
		d.logger.Info("notification skipped, no gateway configured",
			zap.String("template", msg.Template), zap.String("to", msg.To))
		return
	}

	// Detach from the request context: the webhook response must not wait on
	// notification delivery.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.send(sendCtx, msg); err != nil {
			observability.IncrementNotification(msg.Channel, "failed")
			d.logger.Error("notification dispatch failed",
				zap.String("template", msg.Template),
				zap.String("to", msg.To),
				zap.Error(err),
			)
			return
		}
		observability.IncrementNotification(msg.Channel, "sent")
	}()
}

func (d *SMSDispatcher) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(smsPayload{
		To:       msg.To,
		From:     d.senderID,
		Template: msg.Template,
		Data:     msg.Data,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

// NopDispatcher drops everything; used in tests.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Message) {}
