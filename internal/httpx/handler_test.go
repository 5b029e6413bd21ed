package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/platform/commerce"
	"github.com/brkn-labs/splitpay/internal/storage/sqlite"
)

type fakeSplits struct {
	createErr   error
	generateErr error
	lastItems   []domain.CartItem
}

func (f *fakeSplits) Create(_ context.Context, storeID string, items []domain.CartItem, _ string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.lastItems = items
	return "split-123", nil
}

func (f *fakeSplits) Get(_ context.Context, splitID string) (*domain.Split, []domain.PaymentRecord, error) {
	if splitID != "split-123" {
		return nil, nil, fmt.Errorf("split %q: %w", splitID, domain.ErrNotFound)
	}
	items := []domain.CartItem{{ProductID: "A", Price: 1000, Quantity: 2}}
	return &domain.Split{
		ID:     splitID,
		Status: domain.SplitCreated,
		Cart:   items,
		Groups: domain.BuildGroups(items, nil),
	}, []domain.PaymentRecord{{GroupKey: domain.GroupMid, Status: domain.PaymentStatusCreated}}, nil
}

func (f *fakeSplits) SetShipping(_ context.Context, splitID, _ string, _ domain.GroupKey) error {
	if splitID != "split-123" {
		return fmt.Errorf("split %q: %w", splitID, domain.ErrNotFound)
	}
	return nil
}

func (f *fakeSplits) GeneratePayments(_ context.Context, _ string) ([]domain.PaymentRecord, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return []domain.PaymentRecord{{GroupKey: domain.GroupMid, PreferenceID: "pref-1", Status: domain.PaymentStatusCreated}}, nil
}

type fakeWebhooks struct {
	err   error
	calls int
}

func (f *fakeWebhooks) Handle(_ context.Context, _ url.Values, _ []byte) error {
	f.calls++
	return f.err
}

type fakeOAuth struct {
	resp *commerce.TokenResponse
	err  error
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, _, _, _ string) (*commerce.TokenResponse, error) {
	return f.resp, f.err
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSplits, *fakeWebhooks, *fakeOAuth, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "splitpay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	splits := &fakeSplits{}
	webhooks := &fakeWebhooks{}
	oauth := &fakeOAuth{}

	handler := NewHandler(splits, webhooks, oauth, repo, Config{
		AdminKey:     "secret",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BaseURL:      "https://app.example",
		AuthorizeURL: "https://commerce.example/apps/authorize",
	})
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, splits, webhooks, oauth, repo
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestCreateSplit(t *testing.T) {
	srv, splits, _, _, _ := newTestServer(t)

	t.Run("created", func(t *testing.T) {
		res := postJSON(t, srv.URL+"/splits", CreateSplitRequest{
			StoreID: "store-1",
			Items:   []CartItemDTO{{ProductID: "A", Price: 1000, Quantity: 2}},
		}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode)
		body := decode[CreateSplitResponse](t, res)
		assert.Equal(t, "split-123", body.SplitID)
		require.Len(t, splits.lastItems, 1)
		assert.Equal(t, int64(1000), splits.lastItems[0].Price)
	})

	t.Run("missing items", func(t *testing.T) {
		res := postJSON(t, srv.URL+"/splits", CreateSplitRequest{StoreID: "store-1"}, nil)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		res.Body.Close()
	})

	t.Run("invalid item", func(t *testing.T) {
		res := postJSON(t, srv.URL+"/splits", CreateSplitRequest{
			StoreID: "store-1",
			Items:   []CartItemDTO{{ProductID: "A", Price: 1000}},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		res.Body.Close()
	})

	t.Run("unknown store", func(t *testing.T) {
		splits.createErr = fmt.Errorf("store: %w", domain.ErrNotFound)
		defer func() { splits.createErr = nil }()
		res := postJSON(t, srv.URL+"/splits", CreateSplitRequest{
			StoreID: "missing",
			Items:   []CartItemDTO{{ProductID: "A", Price: 1000, Quantity: 1}},
		}, nil)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		res.Body.Close()
	})
}

func TestGetSplit(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/splits/split-123")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decode[SplitResponse](t, res)
	assert.Equal(t, "created", body.Status)
	assert.Len(t, body.Groups, 3)
	assert.Equal(t, int64(2000), body.Groups["group_6"].Subtotal)
	require.Len(t, body.Payments, 1)

	res, err = http.Get(srv.URL + "/splits/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestGeneratePayments_StatusMapping(t *testing.T) {
	srv, splits, _, _, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/splits/split-123/payments", struct{}{}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decode[[]PaymentResponse](t, res)
	require.Len(t, body, 1)
	assert.Equal(t, "pref-1", body[0].PreferenceID)

	splits.generateErr = fmt.Errorf("provider: %w", domain.ErrUpstream)
	res = postJSON(t, srv.URL+"/splits/split-123/payments", struct{}{}, nil)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	res.Body.Close()

	splits.generateErr = fmt.Errorf("token: %w", domain.ErrConfiguration)
	res = postJSON(t, srv.URL+"/splits/split-123/payments", struct{}{}, nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	res.Body.Close()
}

func TestPaymentNotification_AlwaysAcknowledges(t *testing.T) {
	srv, _, webhooks, _, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/webhooks/payments?data.id=1", struct{}{}, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	// Even an internal failure is acknowledged so the provider stops
	// retrying.
	webhooks.err = fmt.Errorf("db gone: %w", domain.ErrInternal)
	res = postJSON(t, srv.URL+"/webhooks/payments", struct{}{}, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	assert.Equal(t, 2, webhooks.calls)
}

func TestOAuthCallback_InstallsStore(t *testing.T) {
	srv, _, _, oauth, repo := newTestServer(t)
	oauth.resp = &commerce.TokenResponse{AccessToken: "tok", UserID: "42"}

	res, err := http.Get(srv.URL + "/oauth/callback?code=abc")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decode[OAuthCallbackResponse](t, res)
	assert.Equal(t, "42", body.StoreID)

	store, err := repo.GetStoreByPlatformID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "tok", store.CommerceToken)
}

func TestAdmin_RequiresKey(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/admin/stores")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()
}

func TestAdmin_StoreAndRuleLifecycle(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	auth := map[string]string{"X-Admin-Key": "secret"}

	res := postJSON(t, srv.URL+"/admin/stores", UpsertStoreRequest{
		PlatformStoreID: "store-1",
		CommerceToken:   "tok",
	}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res = postJSON(t, srv.URL+"/admin/stores/store-1/rules", AddRuleRequest{
		Scope:           "product",
		ReferenceID:     "p1",
		MaxInstallments: 12,
	}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	rule := decode[RuleResponse](t, res)
	assert.True(t, rule.Active)

	res = postJSON(t, srv.URL+fmt.Sprintf("/admin/stores/store-1/rules/%d/toggle", rule.ID), struct{}{}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode)
	toggled := decode[ToggleRuleResponse](t, res)
	assert.False(t, toggled.Active)

	res = postJSON(t, srv.URL+"/admin/stores/store-1/rules", AddRuleRequest{
		Scope:           "martian",
		MaxInstallments: 12,
	}, auth)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}
