package split

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/platform/commerce"
)

type fakeOrderCreator struct {
	storeID string
	token   string
	order   commerce.OrderRequest
}

func (f *fakeOrderCreator) CreateOrder(_ context.Context, platformStoreID, accessToken string, order commerce.OrderRequest) error {
	f.storeID = platformStoreID
	f.token = accessToken
	f.order = order
	return nil
}

func testSplit() *domain.Split {
	items := []domain.CartItem{
		{ProductID: "hi", VariantID: "v9", Price: 5000, Quantity: 1},
		{ProductID: "A", Price: 1000, Quantity: 2},
	}
	rules := []domain.Rule{{Scope: domain.ScopeProduct, ReferenceID: "hi", MaxInstallments: 12}}
	return &domain.Split{
		ID:                  "split-1",
		Status:              domain.SplitCreated,
		ShippingMethod:      domain.ShippingExpress,
		ShippingCost:        4500,
		ShippingPaidInGroup: domain.GroupMid,
		Cart:                items,
		Groups:              domain.BuildGroups(items, rules),
	}
}

func TestSyncApprovedGroup_AbsorbingGroupCarriesShipping(t *testing.T) {
	creator := &fakeOrderCreator{}
	sync := NewOrderSync(creator)
	store := &domain.Store{PlatformStoreID: "store-1", CommerceToken: "commerce-tok"}

	err := sync.SyncApprovedGroup(context.Background(), store, testSplit(), domain.GroupMid, "pay-1")

	require.NoError(t, err)
	assert.Equal(t, "store-1", creator.storeID)
	assert.Equal(t, "commerce-tok", creator.token)
	assert.Equal(t, int64(4500), creator.order.ShippingCost)
	require.Len(t, creator.order.Products, 1)
	assert.Equal(t, "A", creator.order.Products[0].ProductID)
	assert.Equal(t, 2, creator.order.Products[0].Quantity)
	assert.Contains(t, creator.order.Note, "split-1")
	assert.Contains(t, creator.order.Note, "pay-1")
}

func TestSyncApprovedGroup_OtherGroupShipsAtZero(t *testing.T) {
	creator := &fakeOrderCreator{}
	sync := NewOrderSync(creator)
	store := &domain.Store{PlatformStoreID: "store-1", CommerceToken: "commerce-tok"}

	err := sync.SyncApprovedGroup(context.Background(), store, testSplit(), domain.GroupHigh, "pay-2")

	require.NoError(t, err)
	assert.Equal(t, int64(0), creator.order.ShippingCost)
	require.Len(t, creator.order.Products, 1)
	assert.Equal(t, "v9", creator.order.Products[0].VariantID)
	// The note records where shipping was actually collected.
	assert.Contains(t, creator.order.Note, string(domain.GroupMid))
}

func TestSyncApprovedGroup_UnknownGroup(t *testing.T) {
	sync := NewOrderSync(&fakeOrderCreator{})
	store := &domain.Store{PlatformStoreID: "store-1"}

	err := sync.SyncApprovedGroup(context.Background(), store, testSplit(), "group_99", "pay-3")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
