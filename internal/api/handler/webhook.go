package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/observability"
	"github.com/hazinapay/backend/internal/service"
)

// callbackProcessor reconciles one provider callback against the ledger.
type callbackProcessor interface {
	Process(ctx context.Context, input service.ReconcileInput) error
}

// WebhookHandler receives STK push result callbacks from the payment provider.
type WebhookHandler struct {
	reconciler callbackProcessor
	logger     *zap.Logger
	// processTimeout bounds the detached reconciliation goroutine.
	processTimeout time.Duration
	// sync forces inline processing, used by tests.
	sync bool
}

func NewWebhookHandler(reconciler callbackProcessor, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &WebhookHandler{reconciler: reconciler, logger: logger, processTimeout: 30 * time.Second}
}

// stkCallbackEnvelope mirrors the provider's callback payload.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// HandleMpesaCallback handles POST /v1/payments/mpesa/callback.
//
// The response is always 200 with a success acknowledgement: a non-success
// status only makes the provider retry a delivery we either already handled
// or can never match, and retries of the former are absorbed by the
// conditional status transition anyway.
func (h *WebhookHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	defer h.ack(w)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		observability.IncrementWebhookEvent("invalid")
		h.logger.Error("read callback body failed", zap.Error(err))
		return
	}

	var env stkCallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		observability.IncrementWebhookEvent("invalid")
		h.logger.Warn("unparseable callback payload", zap.Error(err), zap.Int("bytes", len(body)))
		return
	}

	input := callbackToInput(env)
	h.logger.Info("payment callback received",
		zap.String("checkout_request_id", input.CheckoutRequestID),
		zap.Int("result_code", input.ResultCode),
	)

	if h.sync {
		h.process(r.Context(), input)
		return
	}

	// Process off the request goroutine so provider timeouts never race the
	// credit and provisioning side effects.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
		defer cancel()
		h.process(ctx, input)
	}()
}

func (h *WebhookHandler) process(ctx context.Context, input service.ReconcileInput) {
	if err := h.reconciler.Process(ctx, input); err != nil {
		h.logger.Warn("callback reconciliation did not complete",
			zap.String("checkout_request_id", input.CheckoutRequestID),
			zap.Error(err),
		)
	}
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

func callbackToInput(env stkCallbackEnvelope) service.ReconcileInput {
	cb := env.Body.StkCallback
	input := service.ReconcileInput{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			input.ReceiptNumber = itemValue(item.Value)
		case "PhoneNumber":
			input.Phone = itemValue(item.Value)
		case "Balance":
			input.Balance = itemValue(item.Value)
		case "TransactionDate":
			input.TransactionDate = itemValue(item.Value)
		}
	}
	return input
}

// itemValue renders a callback metadata value as a string. The provider mixes
// strings and bare numbers in the Item list.
func itemValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return string(raw)
}
