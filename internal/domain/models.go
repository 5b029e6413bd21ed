// Package domain holds the core types of the checkout-splitting flow:
// installment rules, cart items, the three installment buckets, splits and
// their payment records. Everything here is pure data plus pure functions —
// persistence and transport live elsewhere.
package domain

import "time"

// RuleScope determines what a rule's reference id is matched against.
type RuleScope string

const (
	ScopeProduct  RuleScope = "product"
	ScopeCategory RuleScope = "category"
	ScopeGlobal   RuleScope = "global"
)

// Rule caps the installment count for a product, a category, or the whole
// store. ReferenceID is empty for global rules.
type Rule struct {
	ID              int64     `json:"id"`
	StoreID         int64     `json:"store_id"`
	Scope           RuleScope `json:"scope"`
	ReferenceID     string    `json:"reference_id,omitempty"`
	MaxInstallments int       `json:"max_installments"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// CartItem is one line of the buyer's cart. Price is in the smallest
// currency unit.
type CartItem struct {
	ProductID  string `json:"product_id"`
	CategoryID string `json:"category_id,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`
	Price      int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

// GroupKey identifies one of the three fixed installment buckets.
type GroupKey string

const (
	GroupHigh GroupKey = "group_12" // resolved installments >= 12
	GroupMid  GroupKey = "group_6"  // 6 <= resolved installments < 12
	GroupLow  GroupKey = "group_0"  // resolved installments < 6
)

// GroupOrder is the canonical iteration order over buckets. Payment
// generation and snapshots must always walk groups in this order.
var GroupOrder = []GroupKey{GroupHigh, GroupMid, GroupLow}

// Group is one installment bucket: the fixed installment ceiling, the items
// assigned to it and their integer subtotal.
type Group struct {
	MaxInstallments int        `json:"max_installments"`
	Items           []CartItem `json:"items"`
	Subtotal        int64      `json:"subtotal"`
}

// Groups maps every bucket key to its group. All three keys are always
// present, possibly with empty item lists.
type Groups map[GroupKey]*Group

// SplitStatus is the lifecycle state of a split. The only transition is
// created -> completed; it never reverses.
type SplitStatus string

const (
	SplitCreated   SplitStatus = "created"
	SplitCompleted SplitStatus = "completed"
)

// Split is one checkout session being partitioned into installment groups.
// Cart and Groups are snapshots taken at creation and never recomputed;
// shipping changes only shift the allocated shipping cost at payment
// generation time.
type Split struct {
	ID                  string      `json:"id"`
	StoreID             int64       `json:"store_id"`
	BuyerEmail          string      `json:"buyer_email,omitempty"`
	Status              SplitStatus `json:"status"`
	ShippingMethod      string      `json:"shipping_method,omitempty"`
	ShippingCost        int64       `json:"shipping_cost"`
	ShippingPaidInGroup GroupKey    `json:"shipping_paid_in_group,omitempty"`
	Cart                []CartItem  `json:"cart"`
	Groups              Groups      `json:"groups"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Payment record statuses. After creation the status is whatever the
// provider reports; only "approved" carries meaning for the reconciler.
const (
	PaymentStatusCreated  = "created"
	PaymentStatusApproved = "approved"
)

// PaymentRecord is one external checkout covering exactly one group of one
// split. PaymentID is empty until the provider reports a payment.
type PaymentRecord struct {
	ID           int64     `json:"id"`
	SplitID      string    `json:"split_id"`
	GroupKey     GroupKey  `json:"group_key"`
	PreferenceID string    `json:"preference_id,omitempty"`
	CheckoutURL  string    `json:"checkout_url,omitempty"`
	PaymentID    string    `json:"payment_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is an installed commerce-platform store. PaymentsToken is optional;
// when empty the process-wide default credential is used at payment
// generation time.
type Store struct {
	ID              int64     `json:"id"`
	PlatformStoreID string    `json:"platform_store_id"`
	CommerceToken   string    `json:"-"`
	PaymentsToken   string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Shipping methods and their fixed costs. Unknown methods cost zero.
const (
	ShippingPickup   = "pickup"
	ShippingStandard = "standard"
	ShippingExpress  = "express"
)

// ShippingCost maps a shipping method to its fixed cost in the smallest
// currency unit.
func ShippingCost(method string) int64 {
	switch method {
	case ShippingPickup:
		return 0
	case ShippingStandard:
		return 2500
	case ShippingExpress:
		return 4500
	default:
		return 0
	}
}
