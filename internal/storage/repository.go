// Package storage defines the persistence port for the four aggregates:
// stores, rules, splits and payment records. Services depend on this
// abstraction, not on SQLite directly, so the implementation can be swapped
// for Postgres or an in-memory fake in tests.
package storage

import (
	"context"

	"github.com/brkn-labs/splitpay/internal/domain"
)

// ReconcileResult reports what a reconciliation transaction changed.
type ReconcileResult struct {
	// Updated is true when a payment record matched the (split, group) pair
	// and received the reported status.
	Updated bool

	// Completed is true when every payment record of the split is approved
	// after this update, i.e. the split is (now or already) completed.
	Completed bool
}

// Repository is the persistence port.
type Repository interface {
	// UpsertStore inserts a store or, on platform-id conflict, refreshes its
	// commerce token. The payments token is overwritten only when non-empty,
	// so an OAuth re-install never wipes a configured payment credential.
	UpsertStore(ctx context.Context, store *domain.Store) (int64, error)
	GetStoreByPlatformID(ctx context.Context, platformStoreID string) (*domain.Store, error)
	GetStoreByID(ctx context.Context, id int64) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)

	AddRule(ctx context.Context, rule *domain.Rule) (int64, error)
	ListRules(ctx context.Context, storeID int64) ([]domain.Rule, error)
	// ListActiveRules returns active rules in insertion order; the rule
	// resolver relies on that order for tie-breaking.
	ListActiveRules(ctx context.Context, storeID int64) ([]domain.Rule, error)
	// ToggleRule flips a rule's active flag and returns the new value.
	ToggleRule(ctx context.Context, storeID, ruleID int64) (bool, error)

	CreateSplit(ctx context.Context, split *domain.Split) error
	GetSplit(ctx context.Context, id string) (*domain.Split, error)
	SetShipping(ctx context.Context, splitID, method string, cost int64, paidInGroup domain.GroupKey) error

	// DeletePayments removes every payment record of a split. Called at the
	// start of payment generation: regeneration is destructive, not additive.
	DeletePayments(ctx context.Context, splitID string) error
	InsertPayment(ctx context.Context, rec *domain.PaymentRecord) error
	// ListPayments returns a split's payment records in insertion order.
	ListPayments(ctx context.Context, splitID string) ([]domain.PaymentRecord, error)

	// Reconcile applies one webhook notification atomically: it stamps the
	// reported status and external payment id onto the matching payment
	// record, then recomputes split completion (non-empty record set, all
	// approved) inside the same transaction. Applying the same terminal
	// status twice is a no-op in effect.
	Reconcile(ctx context.Context, splitID string, groupKey domain.GroupKey, paymentID, status string) (ReconcileResult, error)
}
