// Package mpesa implements the outbound Daraja STK-push client: auth token
// caching, payment initiation and bounded retry on transient provider errors.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/observability"
)

// ErrGatewayUnavailable wraps exhausted-retry failures so callers can map them
// to the provider-error taxonomy.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway is the outbound payment initiation contract consumed by services.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
}

// STKPushRequest carries one payment prompt.
type STKPushRequest struct {
	Phone       string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// STKPushResponse is what the reconciler needs back from initiation. Synthetic
// reports that the checkout id was generated locally because the provider
// omitted one; such transactions can never be matched by a genuine callback.
type STKPushResponse struct {
	CheckoutRequestID string
	MerchantRequestID string
	Synthetic         bool
}

// Config holds provider credentials and endpoints.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Client talks to the Daraja API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenCache
	logger     *zap.Logger

	// retry policy: baseBackoff doubles each attempt, maxAttempts caps it.
	baseBackoff time.Duration
	maxAttempts int
}

// NewClient builds a client around an injected token cache.
func NewClient(cfg Config, tokens *TokenCache, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: timeout},
		tokens:      tokens,
		logger:      logger,
		baseBackoff: time.Second,
		maxAttempts: 3,
	}
}

// WithRetryPolicy overrides the backoff base and attempt cap.
func (c *Client) WithRetryPolicy(base time.Duration, attempts int) *Client {
	if base > 0 {
		c.baseBackoff = base
	}
	if attempts > 0 {
		c.maxAttempts = attempts
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
}

// InitiateSTKPush sends the payment prompt, retrying transient failures with
// exponential backoff. A missing checkout id in an otherwise successful
// response is replaced with a synthesized CRID so the pending record still has
// a deterministic key.
func (c *Client) InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff << (attempt - 1)
			observability.IncrementGatewayRetry("stk_push")
			c.logger.Warn("retrying stk push",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, retryable, err := c.push(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}

func (c *Client) push(ctx context.Context, req STKPushRequest) (*STKPushResponse, bool, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, true, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))

	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            domain.WholeShillings(req.Amount),
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode stk push: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("stk push transport: %w", err)
	}
	defer httpResp.Body.Close()

	switch httpResp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, true, fmt.Errorf("stk push: provider returned %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode == http.StatusUnauthorized {
		// Stale token despite the expiry margin; drop it and retry.
		c.tokens.Put("", 0)
		return nil, true, errors.New("stk push: token rejected")
	}
	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return nil, false, fmt.Errorf("stk push: provider returned %d: %s", httpResp.StatusCode, raw)
	}

	var result stkPushResult
	if err := json.NewDecoder(httpResp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("decode stk push response: %w", err)
	}
	if result.ResponseCode != "" && result.ResponseCode != "0" {
		return nil, false, fmt.Errorf("stk push rejected: %s %s", result.ResponseCode, result.ResponseDescription)
	}

	resp := &STKPushResponse{
		CheckoutRequestID: result.CheckoutRequestID,
		MerchantRequestID: result.MerchantRequestID,
	}
	if resp.CheckoutRequestID == "" {
		resp.CheckoutRequestID = domain.SyntheticCheckoutPrefix + uuid.NewString()
		resp.Synthetic = true
		c.logger.Warn("provider omitted checkout id, synthesized fallback",
			zap.String("checkout_request_id", resp.CheckoutRequestID),
			zap.String("reference", req.Reference),
		)
	}
	return resp, false, nil
}

// authToken returns a cached token or fetches a fresh one.
func (c *Client) authToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.Get(); ok {
		return token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("auth transport: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: provider returned %d", httpResp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("auth: empty access token")
	}

	lifetime := 3600 * time.Second
	if secs, err := strconv.Atoi(tok.ExpiresIn); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	c.tokens.Put(tok.AccessToken, lifetime)
	return tok.AccessToken, nil
}
