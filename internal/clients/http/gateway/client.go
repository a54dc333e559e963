package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Client speaks the payment gateway's JSON API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	apiKey  string
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// NewClient instantiates the gateway client. A nil httpClient gets a traced
// default transport.
func NewClient(baseURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	c := &Client{baseURL: parsed, http: httpClient}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CreatePayment opens a payment attempt. Raw holds the untouched response body.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest, idempotencyKey string) (*PaymentResponse, error) {
	var resp PaymentResponse
	headers := map[string]string{}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		headers["Idempotency-Key"] = key
	}
	raw, err := c.do(ctx, http.MethodPost, "/v1/payments", nil, req, headers, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return &resp, nil
}

// GetOrderStatus reads the gateway's view of an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error) {
	var resp OrderStatusResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID)+"/status", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTransactions reads one page of the transaction listing filtered by order.
func (c *Client) ListTransactions(ctx context.Context, orderID string, page, pageSize int) (*TransactionPage, error) {
	query := url.Values{}
	query.Set("order_id", orderID)
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	var resp TransactionPage
	if _, err := c.do(ctx, http.MethodGet, "/v1/transactions", query, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder asks the gateway to abandon pending attempts for the order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(orderID)+"/cancel", nil, struct{}{}, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, out any) ([]byte, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("gateway client not configured")
	}
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp, raw)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return raw, nil
}

func decodeError(resp *http.Response, raw []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			apiErr.Message = msg
		}
		apiErr.Code = strings.TrimSpace(body.Code)
	}
	return apiErr
}
