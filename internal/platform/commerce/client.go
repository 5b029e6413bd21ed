// Package commerce is the HTTP client for the commerce platform: OAuth code
// exchange, order creation, and the catalog reads used when configuring
// installment rules.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brkn-labs/splitpay/internal/domain"
)

const (
	defaultAPIBase   = "https://api.tiendanube.com/v1"
	defaultTokenURL  = "https://www.tiendanube.com/apps/authorize/token"
	defaultUserAgent = "SplitPay (dev@example.com)"
)

// Client talks to the commerce platform's REST API.
type Client struct {
	httpClient *http.Client
	apiBase    string
	tokenURL   string
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides both the API base and the token exchange URL. Used
// in tests against httptest servers.
func WithBaseURLs(apiBase, tokenURL string) Option {
	return func(c *Client) {
		c.apiBase = apiBase
		c.tokenURL = tokenURL
	}
}

// WithUserAgent sets the identifying User-Agent the platform requires.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithTimeout bounds every round-trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient returns a commerce platform client with a 30s default timeout
// and an OTel-instrumented transport.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		apiBase:   defaultAPIBase,
		tokenURL:  defaultTokenURL,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenResponse is the OAuth code-exchange answer. The platform has shipped
// the store identifier under different field names over time.
type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	UserID      json.Number `json:"user_id"`
	StoreID     json.Number `json:"store_id"`
	UID         json.Number `json:"uid"`
}

// PlatformStoreID returns the store identifier from whichever field the
// platform populated.
func (t *TokenResponse) PlatformStoreID() string {
	for _, v := range []json.Number{t.UserID, t.StoreID, t.UID} {
		if v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// OrderProduct is one line of an order payload.
type OrderProduct struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// OrderRequest is the order-creation payload.
type OrderRequest struct {
	Note         string         `json:"note,omitempty"`
	Products     []OrderProduct `json:"products"`
	ShippingCost int64          `json:"shipping_cost"`
}

// Product and Category are catalog reads used by rule configuration tooling.
type Product struct {
	ID   json.Number       `json:"id"`
	Name map[string]string `json:"name"`
}

type Category struct {
	ID   json.Number       `json:"id"`
	Name map[string]string `json:"name"`
}

// ExchangeCode trades an OAuth authorization code for a store access token.
func (c *Client) ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("commerce: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out TokenResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder creates an order in the given store.
func (c *Client) CreateOrder(ctx context.Context, platformStoreID, accessToken string, order OrderRequest) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("commerce: encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/orders", c.apiBase, platformStoreID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("commerce: build order request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, &json.RawMessage{})
}

// GetProducts lists one page of the store's products.
func (c *Client) GetProducts(ctx context.Context, platformStoreID, accessToken string, page, perPage int) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/products?page=%d&per_page=%d", c.apiBase, platformStoreID, page, perPage), nil)
	if err != nil {
		return nil, fmt.Errorf("commerce: build products request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	var out []Product
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCategories lists the store's categories.
func (c *Client) GetCategories(ctx context.Context, platformStoreID, accessToken string) ([]Category, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/categories", c.apiBase, platformStoreID), nil)
	if err != nil {
		return nil, fmt.Errorf("commerce: build categories request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	var out []Category
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// setAuthHeaders applies the platform's bearer-style auth header and the
// required identifying User-Agent.
func (c *Client) setAuthHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authentication", "bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: %s %s: %v: %w", req.Method, req.URL.Path, err, domain.ErrUpstream)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("commerce: %s %s: status %d: %s: %w", req.Method, req.URL.Path, res.StatusCode, body, domain.ErrUpstream)
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("commerce: decode %s response: %v: %w", req.URL.Path, err, domain.ErrUpstream)
		}
	}
	return nil
}
