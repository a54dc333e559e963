//go:build pact
// +build pact

package consumer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	pacttest "github.com/Apurer/go-order-reconciler/test/pact"

	pactconsumer "github.com/pact-foundation/pact-go/v2/consumer"
	pactlog "github.com/pact-foundation/pact-go/v2/log"
	"github.com/pact-foundation/pact-go/v2/matchers"
	"github.com/stretchr/testify/require"
)

type orderPayload struct {
	ID                string `json:"id"`
	Currency          string `json:"currency"`
	TotalAmount       string `json:"totalAmount"`
	FulfillmentStatus string `json:"fulfillmentStatus"`
	PaymentStatus     string `json:"paymentStatus"`
}

type paymentPayload struct {
	Order       orderPayload `json:"order"`
	CheckoutURL string       `json:"checkoutUrl"`
}

type statusPayload struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
	Terminal      bool   `json:"terminal"`
	Hint          struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"hint"`
}

type problemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

type apiError struct {
	status int
	title  string
	detail string
}

func (e apiError) Error() string {
	msg := e.title
	if msg == "" {
		msg = "api error"
	}
	if e.detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.detail)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.status)
}

func (e apiError) Status() int {
	return e.status
}

func TestOrderPortalContract(t *testing.T) {
	pactlog.SetLogLevel("INFO")

	pact, err := pactconsumer.NewV2Pact(pactconsumer.MockHTTPProviderConfig{
		Consumer: pacttest.ConsumerName,
		Provider: pacttest.ProviderName,
		PactDir:  pacttest.PactDir(t),
		LogDir:   pacttest.LogDir(t),
	})
	require.NoError(t, err)

	jsonContentType := matchers.Regex("application/json; charset=utf-8", "application\\/json(?:;\\s?charset=utf-8)?")
	paymentStatus := matchers.Term("unpaid", "unpaid|awaiting_confirmation|paid|failed|cancelled")
	orderMatcher := func(id string) matchers.Map {
		return matchers.Map{
			"id":                matchers.Like(id),
			"currency":          matchers.Like("USD"),
			"totalAmount":       matchers.Like("24.5"),
			"fulfillmentStatus": matchers.Term("pending", "pending|confirmed|processing|shipped|delivered|cancelled"),
			"paymentStatus":     paymentStatus,
		}
	}

	pact.AddInteraction().
		Given(pacttest.StateOrdersBaseline).
		UponReceiving("a request to create an order paid by card").
		WithRequest("POST", "/v1/orders", func(b *pactconsumer.V2RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.JSONBody(pacttest.ExampleCreateOrderPayload())
		}).
		WillRespondWith(http.StatusCreated, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(matchers.Map{
				"order":       orderMatcher(pacttest.ExistingOrderID),
				"checkoutUrl": matchers.Like(pacttest.ExampleCheckoutURL),
			})
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderExists).
		UponReceiving("a request to fetch an existing order").
		WithRequest("GET", "/v1/orders/"+pacttest.ExistingOrderID).
		WillRespondWith(http.StatusOK, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(orderMatcher(pacttest.ExistingOrderID))
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderExists).
		UponReceiving("a request for the reconciled status of an order").
		WithRequest("GET", "/v1/orders/"+pacttest.ExistingOrderID+"/status").
		WillRespondWith(http.StatusOK, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", jsonContentType)
			b.JSONBody(matchers.Map{
				"orderId":       matchers.Like(pacttest.ExistingOrderID),
				"paymentStatus": paymentStatus,
				"terminal":      matchers.Like(false),
				"hint": matchers.Map{
					"kind":    matchers.Like("not_started"),
					"message": matchers.Like("Payment has not been started."),
				},
			})
		})

	pact.AddInteraction().
		Given(pacttest.StateOrderMissing).
		UponReceiving("a request for a missing order").
		WithRequest("GET", "/v1/orders/"+pacttest.MissingOrderID).
		WillRespondWith(http.StatusNotFound, func(b *pactconsumer.V2ResponseBuilder) {
			b.Header("Content-Type", matchers.S("application/problem+json"))
			b.JSONBody(matchers.Map{
				"type":   matchers.S("/problems/not-found"),
				"title":  matchers.S("Resource Not Found"),
				"status": matchers.Like(http.StatusNotFound),
			})
		})

	err = pact.ExecuteTest(t, func(config pactconsumer.MockServerConfig) error {
		client := newOrderClient(config)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		created, err := client.CreateOrder(ctx, pacttest.ExampleCreateOrderPayload())
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if created.Order.ID == "" || created.CheckoutURL == "" {
			return fmt.Errorf("expected order id and checkout url, got %+v", created)
		}

		var fetched orderPayload
		if err := client.get(ctx, "/v1/orders/"+pacttest.ExistingOrderID, &fetched); err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if fetched.ID != pacttest.ExistingOrderID {
			return fmt.Errorf("expected order %s, got %+v", pacttest.ExistingOrderID, fetched)
		}

		var status statusPayload
		if err := client.get(ctx, "/v1/orders/"+pacttest.ExistingOrderID+"/status", &status); err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		if status.Hint.Kind == "" {
			return fmt.Errorf("expected a hint, got %+v", status)
		}

		err = client.get(ctx, "/v1/orders/"+pacttest.MissingOrderID, &orderPayload{})
		if err == nil {
			return fmt.Errorf("expected 404 for order %s", pacttest.MissingOrderID)
		}
		if apiErr, ok := err.(apiError); ok && apiErr.Status() != http.StatusNotFound {
			return fmt.Errorf("expected 404, got %d", apiErr.Status())
		}
		return nil
	})
	require.NoError(t, err)
}

type orderClient struct {
	baseURL    string
	httpClient *http.Client
}

func newOrderClient(config pactconsumer.MockServerConfig) *orderClient {
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	transport := &http.Transport{TLSClientConfig: config.TLSConfig}
	return &orderClient{
		baseURL:    fmt.Sprintf("http://%s:%d", host, config.Port),
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

func (c *orderClient) CreateOrder(ctx context.Context, body map[string]any) (*paymentPayload, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var payload paymentPayload
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *orderClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *orderClient) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(res)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func decodeAPIError(res *http.Response) error {
	var problem problemDetail
	_ = json.NewDecoder(res.Body).Decode(&problem)
	status := problem.Status
	if status == 0 {
		status = res.StatusCode
	}
	return apiError{
		status: status,
		title:  problem.Title,
		detail: problem.Detail,
	}
}
