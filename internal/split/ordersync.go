package split

import (
	"context"
	"fmt"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/platform/commerce"
)

// OrderCreator is the slice of the commerce platform client order sync needs.
type OrderCreator interface {
	CreateOrder(ctx context.Context, platformStoreID, accessToken string, order commerce.OrderRequest) error
}

// OrderSync pushes an approved group into the commerce platform as a store
// order. The reconciler invokes it best-effort: a failed order sync must not
// block payment bookkeeping, so callers log and discard the error. Duplicate
// approved notifications re-invoke it with an identical payload — the
// platform's order API is expected to tolerate that.
type OrderSync struct {
	commerce OrderCreator
}

func NewOrderSync(c OrderCreator) *OrderSync {
	return &OrderSync{commerce: c}
}

// SyncApprovedGroup creates one order covering the group's items. The
// shipping cost is charged only on the split's absorbing group; other groups
// ship at zero and the order note records where shipping was collected.
func (o *OrderSync) SyncApprovedGroup(ctx context.Context, store *domain.Store, split *domain.Split, key domain.GroupKey, paymentID string) error {
	group, ok := split.Groups[key]
	if !ok {
		return fmt.Errorf("split: group %q not in split %q: %w", key, split.ID, domain.ErrNotFound)
	}

	shipping := int64(0)
	if split.ShippingPaidInGroup == key {
		shipping = split.ShippingCost
	}

	products := make([]commerce.OrderProduct, 0, len(group.Items))
	for _, it := range group.Items {
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		products = append(products, commerce.OrderProduct{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  qty,
			Price:     it.Price,
		})
	}

	note := fmt.Sprintf("Split %s - %s - payment %s.", split.ID, key, paymentID)
	if shipping == 0 && split.ShippingCost > 0 {
		note += fmt.Sprintf(" Shipping charged in %s.", split.ShippingPaidInGroup)
	}

	return o.commerce.CreateOrder(ctx, store.PlatformStoreID, store.CommerceToken, commerce.OrderRequest{
		Note:         note,
		Products:     products,
		ShippingCost: shipping,
	})
}
