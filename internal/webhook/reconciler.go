// Package webhook reconciles asynchronous payment notifications into
// payment records and split completion.
//
// The provider retries aggressively and delivers out of order, so every
// gracefully handled branch acknowledges success: malformed pings, payments
// that map to no split, and upstream fetch failures are logged and
// swallowed. Only persistence failures surface as errors, and even those are
// still acknowledged by the HTTP layer.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/platform/payments"
	"github.com/brkn-labs/splitpay/internal/storage"
)

// PaymentFetcher is the slice of the payment platform client the reconciler
// needs.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, accessToken, paymentID string) (*payments.Payment, error)
}

// OrderSyncer pushes an approved group to the commerce platform. Calls are
// best-effort; the reconciler logs and discards failures.
type OrderSyncer interface {
	SyncApprovedGroup(ctx context.Context, store *domain.Store, split *domain.Split, key domain.GroupKey, paymentID string) error
}

// Reconciler consumes payment notifications and converges split state.
//
// Canonical payment details are always fetched with the process-wide default
// token, never the per-store one used at generation time. That asymmetry is
// preserved deliberately; changing it is a product decision.
type Reconciler struct {
	repo         storage.Repository
	payments     PaymentFetcher
	orders       OrderSyncer
	defaultToken string
}

func NewReconciler(repo storage.Repository, fetcher PaymentFetcher, orders OrderSyncer, defaultToken string) *Reconciler {
	return &Reconciler{
		repo:         repo,
		payments:     fetcher,
		orders:       orders,
		defaultToken: defaultToken,
	}
}

// ExtractPaymentID pulls the payment identifier out of a notification. The
// provider delivers it as a query parameter or a JSON body field, under
// either "data.id" or "id". Returns "" when none is present.
func ExtractPaymentID(query url.Values, body []byte) string {
	if id := query.Get("data.id"); id != "" {
		return id
	}
	if id := query.Get("id"); id != "" {
		return id
	}

	var payload struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Data.ID.String() != "" {
		return payload.Data.ID.String()
	}
	return payload.ID.String()
}

// Handle processes one notification end to end. A nil return means the
// delivery was handled (including all the deliberate no-op branches); a
// non-nil return is a persistence failure the caller should log, wrapped as
// ErrInternal.
func (r *Reconciler) Handle(ctx context.Context, query url.Values, body []byte) error {
	paymentID := ExtractPaymentID(query, body)
	if paymentID == "" {
		// Retry storms on malformed pings must not error.
		slog.InfoContext(ctx, "notification without payment id, ignoring")
		return nil
	}

	if r.defaultToken == "" {
		slog.WarnContext(ctx, "no default payment token configured, ignoring notification", "payment_id", paymentID)
		return nil
	}

	payment, err := r.payments.GetPayment(ctx, r.defaultToken, paymentID)
	if err != nil {
		slog.WarnContext(ctx, "payment lookup failed, ignoring notification", "payment_id", paymentID, "error", err)
		return nil
	}

	splitID, groupKey, ok := parseCorrelation(payment.ExternalReference)
	if !ok {
		// Not every payment event maps to a split.
		slog.InfoContext(ctx, "payment without correlation token, ignoring", "payment_id", paymentID)
		return nil
	}

	status := payment.Status
	if status == "" {
		status = "unknown"
	}

	res, err := r.repo.Reconcile(ctx, splitID, groupKey, paymentID, status)
	if err != nil {
		return fmt.Errorf("webhook: reconcile payment %q: %v: %w", paymentID, err, domain.ErrInternal)
	}

	slog.InfoContext(ctx, "payment reconciled",
		"payment_id", paymentID, "split_id", splitID, "group_key", groupKey,
		"status", status, "updated", res.Updated, "completed", res.Completed)

	if status == domain.PaymentStatusApproved {
		r.syncOrder(ctx, splitID, groupKey, paymentID)
	}

	return nil
}

// syncOrder fires the order-creation side effect for an approved group.
// Fire-and-forget: every failure is logged and discarded so order sync can
// never block payment bookkeeping.
func (r *Reconciler) syncOrder(ctx context.Context, splitID string, groupKey domain.GroupKey, paymentID string) {
	split, err := r.repo.GetSplit(ctx, splitID)
	if err != nil {
		slog.WarnContext(ctx, "order sync skipped, split not loadable", "split_id", splitID, "error", err)
		return
	}
	store, err := r.repo.GetStoreByID(ctx, split.StoreID)
	if err != nil {
		slog.WarnContext(ctx, "order sync skipped, store not loadable", "split_id", splitID, "error", err)
		return
	}

	group, ok := split.Groups[groupKey]
	if !ok || len(group.Items) == 0 {
		return
	}

	if err := r.orders.SyncApprovedGroup(ctx, store, split, groupKey, paymentID); err != nil {
		slog.WarnContext(ctx, "order sync failed, continuing",
			"split_id", splitID, "group_key", groupKey, "payment_id", paymentID, "error", err)
	}
}

// parseCorrelation splits an external reference on the first colon into
// (splitID, groupKey).
func parseCorrelation(ref string) (string, domain.GroupKey, bool) {
	splitID, group, found := strings.Cut(ref, ":")
	if !found || splitID == "" {
		return "", "", false
	}
	return splitID, domain.GroupKey(group), true
}
