package httpx

import (
	"github.com/brkn-labs/splitpay/internal/domain"
)

type CreateSplitRequest struct {
	StoreID    string        `json:"store_id"`
	Items      []CartItemDTO `json:"items"`
	BuyerEmail string        `json:"buyer_email,omitempty"`
}

type CartItemDTO struct {
	ProductID  string `json:"product_id"`
	CategoryID string `json:"category_id,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`
	Price      int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

type CreateSplitResponse struct {
	SplitID string `json:"split_id"`
}

type SetShippingRequest struct {
	Method      string `json:"method"`
	PaidInGroup string `json:"paid_in_group,omitempty"`
}

type GroupResponse struct {
	MaxInstallments int           `json:"max_installments"`
	Items           []CartItemDTO `json:"items"`
	Subtotal        int64         `json:"subtotal"`
}

type SplitResponse struct {
	ID                  string                   `json:"id"`
	Status              string                   `json:"status"`
	BuyerEmail          string                   `json:"buyer_email,omitempty"`
	ShippingMethod      string                   `json:"shipping_method,omitempty"`
	ShippingCost        int64                    `json:"shipping_cost"`
	ShippingPaidInGroup string                   `json:"shipping_paid_in_group,omitempty"`
	Groups              map[string]GroupResponse `json:"groups"`
	Payments            []PaymentResponse        `json:"payments"`
	CreatedAt           string                   `json:"created_at"`
}

type PaymentResponse struct {
	GroupKey     string `json:"group_key"`
	PreferenceID string `json:"preference_id,omitempty"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
	PaymentID    string `json:"payment_id,omitempty"`
	Status       string `json:"status"`
}

type UpsertStoreRequest struct {
	PlatformStoreID string `json:"platform_store_id"`
	CommerceToken   string `json:"commerce_token"`
	PaymentsToken   string `json:"payments_token,omitempty"`
}

type StoreResponse struct {
	ID              int64  `json:"id"`
	PlatformStoreID string `json:"platform_store_id"`
	CreatedAt       string `json:"created_at"`
}

type AddRuleRequest struct {
	Scope           string `json:"scope"`
	ReferenceID     string `json:"reference_id,omitempty"`
	MaxInstallments int    `json:"max_installments"`
}

type RuleResponse struct {
	ID              int64  `json:"id"`
	Scope           string `json:"scope"`
	ReferenceID     string `json:"reference_id,omitempty"`
	MaxInstallments int    `json:"max_installments"`
	Active          bool   `json:"active"`
}

type ToggleRuleResponse struct {
	Active bool `json:"active"`
}

type OAuthCallbackResponse struct {
	StoreID string `json:"store_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapItems(items []domain.CartItem) []CartItemDTO {
	out := make([]CartItemDTO, len(items))
	for i, it := range items {
		out[i] = CartItemDTO{
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			VariantID:  it.VariantID,
			Price:      it.Price,
			Quantity:   it.Quantity,
		}
	}
	return out
}

func mapSplitToResponse(split *domain.Split, recs []domain.PaymentRecord) SplitResponse {
	groups := make(map[string]GroupResponse, len(split.Groups))
	for key, g := range split.Groups {
		groups[string(key)] = GroupResponse{
			MaxInstallments: g.MaxInstallments,
			Items:           mapItems(g.Items),
			Subtotal:        g.Subtotal,
		}
	}
	return SplitResponse{
		ID:                  split.ID,
		Status:              string(split.Status),
		BuyerEmail:          split.BuyerEmail,
		ShippingMethod:      split.ShippingMethod,
		ShippingCost:        split.ShippingCost,
		ShippingPaidInGroup: string(split.ShippingPaidInGroup),
		Groups:              groups,
		Payments:            mapPayments(recs),
		CreatedAt:           split.CreatedAt.Format(timeFormat),
	}
}

func mapPayments(recs []domain.PaymentRecord) []PaymentResponse {
	out := make([]PaymentResponse, len(recs))
	for i, rec := range recs {
		out[i] = PaymentResponse{
			GroupKey:     string(rec.GroupKey),
			PreferenceID: rec.PreferenceID,
			CheckoutURL:  rec.CheckoutURL,
			PaymentID:    rec.PaymentID,
			Status:       rec.Status,
		}
	}
	return out
}
