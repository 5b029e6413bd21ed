// Package payments is the HTTP client for the payment platform: checkout
// preference creation and canonical payment lookup. Both calls are
// synchronous round-trips with a bounded timeout.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brkn-labs/splitpay/internal/domain"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Client talks to the payment platform's REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used in tests against httptest
// servers.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithTimeout bounds every round-trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient returns a payment platform client with a 30s default timeout and
// an OTel-instrumented transport.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PreferenceItem is one logical line of a checkout preference. The
// orchestrator always sends exactly one, quantity 1, priced at the group
// total.
type PreferenceItem struct {
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	CurrencyID string `json:"currency_id"`
	UnitPrice  int64  `json:"unit_price"`
}

// PaymentMethods carries the installment ceiling constraint.
type PaymentMethods struct {
	Installments int `json:"installments"`
}

// PreferenceRequest is the checkout preference sent to the platform.
// ExternalReference is the correlation token parsed back out of webhook
// payment data.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url"`
	PaymentMethods    PaymentMethods   `json:"payment_methods"`
}

// Preference is the platform's answer to a created preference.
type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// Payment is the canonical payment detail fetched during reconciliation.
// Fields beyond these are ignored; only the literal status "approved" is
// interpreted.
type Payment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

// CreatePreference creates one checkout preference.
func (c *Client) CreatePreference(ctx context.Context, accessToken string, pref PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(pref)
	if err != nil {
		return nil, fmt.Errorf("payments: encode preference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payments: build preference request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var out Preference
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPayment fetches the canonical payment detail by id.
func (c *Client) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("payments: build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out Payment
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: %s %s: %v: %w", req.Method, req.URL.Path, err, domain.ErrUpstream)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("payments: %s %s: status %d: %s: %w", req.Method, req.URL.Path, res.StatusCode, body, domain.ErrUpstream)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: decode %s response: %v: %w", req.URL.Path, err, domain.ErrUpstream)
	}
	return nil
}
