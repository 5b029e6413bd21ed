package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/platform/commerce"
	"github.com/brkn-labs/splitpay/internal/storage"
)

const timeFormat = time.RFC3339

// SplitService is the port the handler drives for the splitting workflow.
type SplitService interface {
	Create(ctx context.Context, platformStoreID string, items []domain.CartItem, buyerEmail string) (string, error)
	Get(ctx context.Context, splitID string) (*domain.Split, []domain.PaymentRecord, error)
	SetShipping(ctx context.Context, splitID, method string, paidInGroup domain.GroupKey) error
	GeneratePayments(ctx context.Context, splitID string) ([]domain.PaymentRecord, error)
}

// NotificationHandler consumes one webhook delivery.
type NotificationHandler interface {
	Handle(ctx context.Context, query url.Values, body []byte) error
}

// CodeExchanger is the OAuth slice of the commerce client.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (*commerce.TokenResponse, error)
}

// Config carries the handler's static settings.
type Config struct {
	AdminKey     string
	ClientID     string
	ClientSecret string
	// BaseURL is this service's public base URL, used to build the OAuth
	// redirect URI.
	BaseURL string
	// AuthorizeURL is the commerce platform's OAuth authorize endpoint.
	AuthorizeURL string
}

// Handler handles incoming HTTP requests: the buyer-facing split flow, the
// payment webhook, the OAuth install flow and the admin API.
type Handler struct {
	splits   SplitService
	webhooks NotificationHandler
	oauth    CodeExchanger
	repo     storage.Repository
	cfg      Config
}

func NewHandler(splits SplitService, webhooks NotificationHandler, oauth CodeExchanger, repo storage.Repository, cfg Config) *Handler {
	return &Handler{
		splits:   splits,
		webhooks: webhooks,
		oauth:    oauth,
		repo:     repo,
		cfg:      cfg,
	}
}

// CreateSplit validates the cart payload and creates a new split.
func (h *Handler) CreateSplit(w http.ResponseWriter, r *http.Request) {
	var req CreateSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.StoreID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "store_id and items are required")
		return
	}

	items := make([]domain.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 || it.Price < 0 {
			writeError(w, http.StatusBadRequest, "invalid_item", "product_id, quantity, and price must be valid")
			return
		}
		items = append(items, domain.CartItem{
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			VariantID:  it.VariantID,
			Price:      it.Price,
			Quantity:   it.Quantity,
		})
	}

	splitID, err := h.splits.Create(r.Context(), req.StoreID, items, req.BuyerEmail)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateSplitResponse{SplitID: splitID})
}

// GetSplit returns a split with its groups snapshot and payment records.
func (h *Handler) GetSplit(w http.ResponseWriter, r *http.Request) {
	splitID := chi.URLParam(r, "id")

	split, recs, err := h.splits.Get(r.Context(), splitID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSplitToResponse(split, recs))
}

// SetShipping records the shipping method and the group absorbing its cost.
func (h *Handler) SetShipping(w http.ResponseWriter, r *http.Request) {
	splitID := chi.URLParam(r, "id")

	var req SetShippingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "method is required")
		return
	}

	if err := h.splits.SetShipping(r.Context(), splitID, req.Method, domain.GroupKey(req.PaidInGroup)); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GeneratePayments regenerates the split's checkout preferences. Destructive
// and idempotent by regeneration: prior records are deleted first.
func (h *Handler) GeneratePayments(w http.ResponseWriter, r *http.Request) {
	splitID := chi.URLParam(r, "id")

	recs, err := h.splits.GeneratePayments(r.Context(), splitID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapPayments(recs))
}

// PaymentNotification handles inbound payment webhooks. The provider
// expects a fast "ok" and retries any failure aggressively, so this endpoint
// acknowledges every delivery; internal failures are logged, never surfaced.
func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		body = nil
	}

	if err := h.webhooks.Handle(r.Context(), r.URL.Query(), body); err != nil {
		slog.ErrorContext(r.Context(), "webhook reconciliation failed", "error", err)
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}

// writeDomainError maps the error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		writeError(w, http.StatusInternalServerError, "configuration_error", err.Error())
	case errors.Is(err, domain.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
