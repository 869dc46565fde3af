package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to a hosted checkout API with Stripe-compatible endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.PaymentGateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	client := &Client{cfg: cfg}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.httpClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.stripe.com"
	}
	return client
}

func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

// CreateSession opens a one-line payment session. The order id travels as
// client_reference_id and metadata so that webhooks can be matched without the session id.
func (c *Client) CreateSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if req.IdempotencyKey == "" {
		return domain.CheckoutSession{}, fmt.Errorf("idempotency key is required")
	}
	if req.Amount.Amount <= 0 {
		return domain.CheckoutSession{}, fmt.Errorf("amount must be positive")
	}
	currency := strings.ToLower(req.Amount.Currency)
	if currency == "" {
		currency = "usd"
	}
	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.OrderID)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", description)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	if req.SuccessURL != "" {
		form.Set("success_url", req.SuccessURL)
	}
	if req.CancelURL != "" {
		form.Set("cancel_url", req.CancelURL)
	}
	if !req.ExpiresAt.IsZero() {
		form.Set("expires_at", strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	}

	data, err := c.do(ctx, "create_session", http.MethodPost, "/v1/checkout/sessions", form, req.IdempotencyKey)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeSession(data)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if sessionID == "" {
		return domain.CheckoutSession{}, fmt.Errorf("session id is required")
	}
	data, err := c.do(ctx, "get_session", http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, "")
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeSession(data)
}

// ExpireSession closes an open session so it can no longer be paid.
func (c *Client) ExpireSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := c.do(ctx, "expire_session", http.MethodPost, "/v1/checkout/sessions/"+url.PathEscape(sessionID)+"/expire", url.Values{}, "expire-"+sessionID)
	return err
}

func (c *Client) do(ctx context.Context, operation, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	if c.httpClient == nil {
		return nil, fmt.Errorf("http client is not configured")
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	httpReq.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("status %d", resp.StatusCode)
	}
	metrics.ObserveNetworkRequest("payments", operation, "checkout", start, err)
	if resp == nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payments %s failed (%d): %s", operation, resp.StatusCode, errorMessage(data))
	}
	return data, nil
}

func errorMessage(data []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func decodeSession(data []byte) (domain.CheckoutSession, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("decode session: %w", err)
	}
	return sessionFromMap(raw)
}

func sessionFromMap(raw map[string]any) (domain.CheckoutSession, error) {
	sess := domain.CheckoutSession{
		ID:            firstString(raw, "id"),
		URL:           firstString(raw, "url"),
		Status:        firstString(raw, "status"),
		PaymentStatus: firstString(raw, "payment_status"),
		OrderID:       firstString(raw, "client_reference_id"),
		Amount: domain.Money{
			Currency: strings.ToLower(firstString(raw, "currency")),
		},
	}
	if sess.ID == "" {
		return domain.CheckoutSession{}, fmt.Errorf("session without id")
	}
	if sess.OrderID == "" {
		if meta := firstMap(raw, "metadata"); meta != nil {
			sess.OrderID = firstString(meta, "order_id")
		}
	}
	if total := firstString(raw, "amount_total"); total != "" {
		amount, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return domain.CheckoutSession{}, fmt.Errorf("parse amount_total: %w", err)
		}
		sess.Amount.Amount = amount
	}
	if exp := firstString(raw, "expires_at"); exp != "" {
		if unix, err := strconv.ParseInt(exp, 10, 64); err == nil {
			ts := time.Unix(unix, 0).UTC()
			sess.ExpiresAt = &ts
		}
	}
	return sess, nil
}
