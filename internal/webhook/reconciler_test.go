package webhook

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/platform/payments"
	"github.com/brkn-labs/splitpay/internal/storage/sqlite"
)

type fakeFetcher struct {
	payments map[string]*payments.Payment
	err      error
	tokens   []string
}

func (f *fakeFetcher) GetPayment(_ context.Context, token, paymentID string) (*payments.Payment, error) {
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("fake: payment %q: %w", paymentID, domain.ErrUpstream)
	}
	return p, nil
}

type orderCall struct {
	splitID   string
	groupKey  domain.GroupKey
	paymentID string
}

type fakeOrders struct {
	calls []orderCall
	err   error
}

func (f *fakeOrders) SyncApprovedGroup(_ context.Context, _ *domain.Store, split *domain.Split, key domain.GroupKey, paymentID string) error {
	f.calls = append(f.calls, orderCall{splitID: split.ID, groupKey: key, paymentID: paymentID})
	return f.err
}

type fixture struct {
	rec     *Reconciler
	repo    *sqlite.Repository
	fetcher *fakeFetcher
	orders  *fakeOrders
	splitID string
}

// newFixture seeds a store and a split with two populated groups (high and
// mid) and one created payment record per group.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "splitpay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	storeID, err := repo.UpsertStore(ctx, &domain.Store{
		PlatformStoreID: "store-1",
		CommerceToken:   "commerce-token",
	})
	require.NoError(t, err)

	items := []domain.CartItem{
		{ProductID: "hi", Price: 5000, Quantity: 1},
		{ProductID: "A", Price: 1000, Quantity: 2},
	}
	rules := []domain.Rule{{Scope: domain.ScopeProduct, ReferenceID: "hi", MaxInstallments: 12}}

	split := &domain.Split{
		ID:      "split-1",
		StoreID: storeID,
		Status:  domain.SplitCreated,
		Cart:    items,
		Groups:  domain.BuildGroups(items, rules),
	}
	require.NoError(t, repo.CreateSplit(ctx, split))

	for _, key := range []domain.GroupKey{domain.GroupHigh, domain.GroupMid} {
		require.NoError(t, repo.InsertPayment(ctx, &domain.PaymentRecord{
			SplitID: split.ID, GroupKey: key, Status: domain.PaymentStatusCreated,
		}))
	}

	fetcher := &fakeFetcher{payments: map[string]*payments.Payment{}}
	orders := &fakeOrders{}
	return &fixture{
		rec:     NewReconciler(repo, fetcher, orders, "default-token"),
		repo:    repo,
		fetcher: fetcher,
		orders:  orders,
		splitID: split.ID,
	}
}

func (f *fixture) addPayment(id, status string, groupKey domain.GroupKey) {
	f.fetcher.payments[id] = &payments.Payment{
		ID:                "0",
		Status:            status,
		ExternalReference: f.splitID + ":" + string(groupKey),
	}
}

func notify(t *testing.T, f *fixture, paymentID string) {
	t.Helper()
	q := url.Values{"data.id": {paymentID}}
	require.NoError(t, f.rec.Handle(context.Background(), q, nil))
}

func TestExtractPaymentID(t *testing.T) {
	cases := []struct {
		name  string
		query url.Values
		body  string
		want  string
	}{
		{"query data.id", url.Values{"data.id": {"111"}}, "", "111"},
		{"query id", url.Values{"id": {"222"}}, "", "222"},
		{"query data.id wins over id", url.Values{"data.id": {"111"}, "id": {"222"}}, "", "111"},
		{"body nested numeric", nil, `{"data":{"id":333}}`, "333"},
		{"body flat string", nil, `{"id":"444"}`, "444"},
		{"body nested wins over flat", nil, `{"data":{"id":333},"id":444}`, "333"},
		{"nothing", nil, `{"type":"ping"}`, ""},
		{"garbage body", nil, `not json`, ""},
		{"empty", nil, "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ExtractPaymentID(c.query, []byte(c.body)))
		})
	}
}

func TestHandle_MalformedPingIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	err := f.rec.Handle(context.Background(), url.Values{}, []byte(`{"type":"ping"}`))

	require.NoError(t, err)
	assert.Empty(t, f.fetcher.tokens, "no payment lookup without an id")
	assert.Empty(t, f.orders.calls)
}

func TestHandle_UsesDefaultTokenOnly(t *testing.T) {
	f := newFixture(t)
	f.addPayment("p1", domain.PaymentStatusApproved, domain.GroupHigh)

	notify(t, f, "p1")

	require.Len(t, f.fetcher.tokens, 1)
	assert.Equal(t, "default-token", f.fetcher.tokens[0])
}

func TestHandle_PaymentWithoutCorrelationIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.fetcher.payments["p1"] = &payments.Payment{Status: "approved", ExternalReference: "no-colon-here"}

	notify(t, f, "p1")

	assert.Empty(t, f.orders.calls)
	recs, err := f.repo.ListPayments(context.Background(), f.splitID)
	require.NoError(t, err)
	for _, rec := range recs {
		assert.Equal(t, domain.PaymentStatusCreated, rec.Status)
	}
}

func TestHandle_UpstreamFetchFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = fmt.Errorf("fake: timeout: %w", domain.ErrUpstream)

	err := f.rec.Handle(context.Background(), url.Values{"id": {"p1"}}, nil)

	require.NoError(t, err, "webhook must acknowledge upstream failures")
	assert.Empty(t, f.orders.calls)
}

func TestHandle_OutOfOrderApprovalsConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPayment("p-mid", domain.PaymentStatusApproved, domain.GroupMid)
	f.addPayment("p-high", domain.PaymentStatusApproved, domain.GroupHigh)

	// Mid approves first: split must not complete yet.
	notify(t, f, "p-mid")
	split, err := f.repo.GetSplit(ctx, f.splitID)
	require.NoError(t, err)
	assert.Equal(t, domain.SplitCreated, split.Status)
	require.Len(t, f.orders.calls, 1)
	assert.Equal(t, domain.GroupMid, f.orders.calls[0].groupKey)

	// High approves second: now every record is approved.
	notify(t, f, "p-high")
	split, err = f.repo.GetSplit(ctx, f.splitID)
	require.NoError(t, err)
	assert.Equal(t, domain.SplitCompleted, split.Status)
	assert.Len(t, f.orders.calls, 2)

	recs, err := f.repo.ListPayments(ctx, f.splitID)
	require.NoError(t, err)
	for _, rec := range recs {
		assert.Equal(t, domain.PaymentStatusApproved, rec.Status)
		assert.NotEmpty(t, rec.PaymentID)
	}
}

func TestHandle_RejectedGroupKeepsSplitOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPayment("p-high", domain.PaymentStatusApproved, domain.GroupHigh)
	f.addPayment("p-mid", "rejected", domain.GroupMid)

	notify(t, f, "p-high")
	notify(t, f, "p-mid")

	split, err := f.repo.GetSplit(ctx, f.splitID)
	require.NoError(t, err)
	assert.Equal(t, domain.SplitCreated, split.Status, "a rejected group leaves the split open indefinitely")

	// Only the approved group triggered order creation.
	require.Len(t, f.orders.calls, 1)
	assert.Equal(t, domain.GroupHigh, f.orders.calls[0].groupKey)
}

func TestHandle_DuplicateApprovedIsIdempotentOnState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPayment("p-high", domain.PaymentStatusApproved, domain.GroupHigh)
	f.addPayment("p-mid", domain.PaymentStatusApproved, domain.GroupMid)

	notify(t, f, "p-high")
	notify(t, f, "p-mid")
	notify(t, f, "p-mid") // provider retry

	split, err := f.repo.GetSplit(ctx, f.splitID)
	require.NoError(t, err)
	assert.Equal(t, domain.SplitCompleted, split.Status, "completion is monotone")

	recs, err := f.repo.ListPayments(ctx, f.splitID)
	require.NoError(t, err)
	for _, rec := range recs {
		assert.Equal(t, domain.PaymentStatusApproved, rec.Status)
	}

	// Order sync fires once per approval event, duplicates included; the
	// downstream order API is expected to tolerate the replay.
	assert.Len(t, f.orders.calls, 3)
}

func TestHandle_OrderSyncFailureDoesNotBlockBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.err = fmt.Errorf("fake: commerce api down: %w", domain.ErrUpstream)
	f.addPayment("p-high", domain.PaymentStatusApproved, domain.GroupHigh)

	notify(t, f, "p-high")

	recs, err := f.repo.ListPayments(ctx, f.splitID)
	require.NoError(t, err)
	var high *domain.PaymentRecord
	for i := range recs {
		if recs[i].GroupKey == domain.GroupHigh {
			high = &recs[i]
		}
	}
	require.NotNil(t, high)
	assert.Equal(t, domain.PaymentStatusApproved, high.Status)
}

func TestHandle_ApprovalForEmptyGroupSkipsOrderSync(t *testing.T) {
	f := newFixture(t)
	// The low bucket exists in the snapshot but holds no items.
	f.addPayment("p-low", domain.PaymentStatusApproved, domain.GroupLow)

	notify(t, f, "p-low")

	assert.Empty(t, f.orders.calls)
}
