package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/service"
)

type recordingProcessor struct {
	inputs []service.ReconcileInput
	err    error
}

func (p *recordingProcessor) Process(_ context.Context, input service.ReconcileInput) error {
	p.inputs = append(p.inputs, input)
	return p.err
}

func newSyncWebhookHandler(proc *recordingProcessor) *WebhookHandler {
	h := NewWebhookHandler(proc, zap.NewNop())
	h.sync = true
	return h
}

func postCallback(t *testing.T, h *WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/mpesa/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleMpesaCallback(rec, req)
	return rec
}

func TestCallbackMapsMetadataItems(t *testing.T) {
	proc := &recordingProcessor{}
	h := newSyncWebhookHandler(proc)

	rec := postCallback(t, h, `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220231020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 500.00},
						{"Name": "MpesaReceiptNumber", "Value": "SGQ7XKML2P"},
						{"Name": "Balance", "Value": 1250.75},
						{"Name": "TransactionDate", "Value": 20231219102115},
						{"Name": "PhoneNumber", "Value": 254722000001}
					]
				}
			}
		}
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	require.Len(t, proc.inputs, 1)
	input := proc.inputs[0]
	assert.Equal(t, "ws_CO_191220231020363925", input.CheckoutRequestID)
	assert.Equal(t, 0, input.ResultCode)
	assert.Equal(t, "SGQ7XKML2P", input.ReceiptNumber)
	assert.Equal(t, "254722000001", input.Phone, "bare numbers render without exponent notation")
	assert.Equal(t, "1250.75", input.Balance)
	assert.Equal(t, "20231219102115", input.TransactionDate)
}

func TestCallbackAcksMalformedBody(t *testing.T) {
	proc := &recordingProcessor{}
	h := newSyncWebhookHandler(proc)

	for _, body := range []string{"", "not json", `{"Body": 12}`} {
		rec := postCallback(t, h, body)
		assert.Equal(t, http.StatusOK, rec.Code, "body %q", body)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
	}
	assert.Empty(t, proc.inputs, "malformed payloads never reach reconciliation")
}

func TestCallbackAcksWhenReconciliationFails(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("no matching transaction")}
	h := newSyncWebhookHandler(proc)

	rec := postCallback(t, h, `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":0,"ResultDesc":"ok"}}}`)

	assert.Equal(t, http.StatusOK, rec.Code, "provider retries add nothing once we have the delivery")
	require.Len(t, proc.inputs, 1)
}

func TestCallbackFailureResultCarriesNoReceipt(t *testing.T) {
	proc := &recordingProcessor{}
	h := newSyncWebhookHandler(proc)

	rec := postCallback(t, h, `{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "ws_CO_cancelled",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.inputs, 1)
	assert.Equal(t, 1032, proc.inputs[0].ResultCode)
	assert.Empty(t, proc.inputs[0].ReceiptNumber)
}
