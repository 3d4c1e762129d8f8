package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/booking-payments/internal/paymentsync"
)

// Client talks to the external payment authorization provider. Money amounts
// cross the wire in minor units (cents); every mutating request carries an
// Idempotency-Key header so a retried call replays the original result.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

type Config struct {
	APIBaseURL     string
	APIKey         string
	RequestTimeout time.Duration
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    config.APIBaseURL,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

var _ paymentsync.AuthorizationProvider = (*Client)(nil)

// wire representations

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type customerListPayload struct {
	Data []customerPayload `json:"data"`
}

type authorizationPayload struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	AmountCapturable int64  `json:"amount_capturable"`
	AmountReceived   int64  `json:"amount_received"`
}

type refundPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorPayload struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorPayload
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error.Message != "" {
			return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// EnsureCustomer finds the provider customer for the payer email or creates
// one. Customer creation is not idempotent at the provider, so lookup comes
// first to avoid duplicates on retries.
func (c *Client) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	var list customerListPayload
	path := "/customers?email=" + url.QueryEscape(email) + "&limit=1"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, "", &list); err != nil {
		return "", fmt.Errorf("customer lookup failed: %w", err)
	}

	if len(list.Data) > 0 {
		return list.Data[0].ID, nil
	}

	var created customerPayload
	payload := map[string]interface{}{"email": email, "name": name}
	if err := c.doRequest(ctx, http.MethodPost, "/customers", payload, "", &created); err != nil {
		return "", fmt.Errorf("customer creation failed: %w", err)
	}

	c.logger.Info("provider customer created", "customer_id", created.ID)
	return created.ID, nil
}

// AttachPaymentMethod binds a tokenized payment method to the customer for
// later off-session use. Attaching an already-attached method succeeds.
func (c *Client) AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) error {
	payload := map[string]interface{}{"customer": customerRef}
	path := "/payment_methods/" + url.PathEscape(paymentMethodRef) + "/attach"
	if err := c.doRequest(ctx, http.MethodPost, path, payload, "", nil); err != nil {
		return fmt.Errorf("payment method attach failed: %w", err)
	}
	return nil
}

func (c *Client) CreateAuthorization(ctx context.Context, req paymentsync.AuthorizationRequest) (*paymentsync.Authorization, error) {
	captureMethod := "automatic"
	if req.ManualCapture {
		captureMethod = "manual"
	}

	payload := map[string]interface{}{
		"amount":         toMinorUnits(req.Amount),
		"currency":       req.Currency,
		"customer":       req.CustomerRef,
		"payment_method": req.PaymentMethodRef,
		"capture_method": captureMethod,
		"confirm":        req.Confirm,
		"off_session":    req.OffSession,
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var resp authorizationPayload
	if err := c.doRequest(ctx, http.MethodPost, "/payment_intents", payload, req.IdempotencyKey, &resp); err != nil {
		return nil, fmt.Errorf("authorization creation failed: %w", err)
	}

	c.logger.Info("provider authorization created",
		"authorization_id", resp.ID,
		"status", resp.Status,
		"amount", req.Amount)

	return &paymentsync.Authorization{
		ID:               resp.ID,
		Status:           resp.Status,
		Amount:           fromMinorUnits(resp.Amount),
		AmountCapturable: fromMinorUnits(resp.AmountCapturable),
	}, nil
}

func (c *Client) CancelAuthorization(ctx context.Context, authorizationID string) error {
	path := "/payment_intents/" + url.PathEscape(authorizationID) + "/cancel"
	if err := c.doRequest(ctx, http.MethodPost, path, map[string]interface{}{}, "", nil); err != nil {
		return fmt.Errorf("authorization cancel failed: %w", err)
	}
	return nil
}

func (c *Client) CaptureAuthorization(ctx context.Context, authorizationID string, amount decimal.Decimal) (*paymentsync.CaptureResult, error) {
	payload := map[string]interface{}{
		"amount_to_capture": toMinorUnits(amount),
	}

	var resp authorizationPayload
	path := "/payment_intents/" + url.PathEscape(authorizationID) + "/capture"
	if err := c.doRequest(ctx, http.MethodPost, path, payload, "", &resp); err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	return &paymentsync.CaptureResult{
		Status:         resp.Status,
		AmountReceived: fromMinorUnits(resp.AmountReceived),
	}, nil
}

func (c *Client) CreateRefund(ctx context.Context, authorizationID string, amount decimal.Decimal, idempotencyKey string) (*paymentsync.Refund, error) {
	payload := map[string]interface{}{
		"payment_intent": authorizationID,
		"amount":         toMinorUnits(amount),
	}

	var resp refundPayload
	if err := c.doRequest(ctx, http.MethodPost, "/refunds", payload, idempotencyKey, &resp); err != nil {
		return nil, fmt.Errorf("refund creation failed: %w", err)
	}

	c.logger.Info("provider refund created",
		"refund_id", resp.ID,
		"authorization_id", authorizationID,
		"amount", amount)

	return &paymentsync.Refund{ID: resp.ID}, nil
}

func (c *Client) RetrieveAuthorization(ctx context.Context, authorizationID string) (*paymentsync.Authorization, error) {
	var resp authorizationPayload
	path := "/payment_intents/" + url.PathEscape(authorizationID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, fmt.Errorf("authorization retrieve failed: %w", err)
	}

	return &paymentsync.Authorization{
		ID:               resp.ID,
		Status:           resp.Status,
		Amount:           fromMinorUnits(resp.Amount),
		AmountCapturable: fromMinorUnits(resp.AmountCapturable),
	}, nil
}
