// Package split implements the checkout-splitting workflow: creating splits
// from carts, recording the shipping choice, and generating one payment
// checkout per populated installment group.
package split

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brkn-labs/splitpay/internal/domain"
	"github.com/brkn-labs/splitpay/internal/pkg/cache"
	"github.com/brkn-labs/splitpay/internal/platform/payments"
	"github.com/brkn-labs/splitpay/internal/storage"
)

// PreferenceCreator is the slice of the payment platform client the service
// needs. Tests substitute a fake.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, accessToken string, pref payments.PreferenceRequest) (*payments.Preference, error)
}

const (
	currencyID    = "ARS"
	rulesCacheTTL = time.Minute
)

// Service owns split creation, shipping selection and payment generation.
type Service struct {
	repo                 storage.Repository
	prefs                PreferenceCreator
	rulesCache           cache.Cache // nil-safe: nil disables caching
	defaultPaymentsToken string
	notificationURL      string

	// One generation invocation is a critical section per split: concurrent
	// regenerations for the same split must not interleave their
	// delete-then-recreate sequences.
	mu         sync.Mutex
	generating map[string]*sync.Mutex
}

// New constructs the service. defaultPaymentsToken is the process-wide
// payment credential used when a store has none of its own; notificationURL
// is the absolute webhook callback URL handed to the payment platform.
func New(repo storage.Repository, prefs PreferenceCreator, rulesCache cache.Cache, defaultPaymentsToken, notificationURL string) *Service {
	return &Service{
		repo:                 repo,
		prefs:                prefs,
		rulesCache:           rulesCache,
		defaultPaymentsToken: defaultPaymentsToken,
		notificationURL:      notificationURL,
		generating:           make(map[string]*sync.Mutex),
	}
}

// Create validates the cart, resolves the owning store, computes the groups
// snapshot and persists a new split. It returns the generated split id.
func (s *Service) Create(ctx context.Context, platformStoreID string, items []domain.CartItem, buyerEmail string) (string, error) {
	if platformStoreID == "" {
		return "", fmt.Errorf("split: store identifier is required: %w", domain.ErrValidation)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("split: items are required: %w", domain.ErrValidation)
	}

	store, err := s.repo.GetStoreByPlatformID(ctx, platformStoreID)
	if err != nil {
		return "", err
	}

	rules, err := s.activeRules(ctx, store.ID)
	if err != nil {
		return "", err
	}

	split := &domain.Split{
		ID:         uuid.NewString(),
		StoreID:    store.ID,
		BuyerEmail: buyerEmail,
		Status:     domain.SplitCreated,
		Cart:       items,
		Groups:     domain.BuildGroups(items, rules),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.CreateSplit(ctx, split); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "split created", "split_id", split.ID, "store_id", store.ID, "items", len(items))
	return split.ID, nil
}

// Get returns a split together with its current payment records.
func (s *Service) Get(ctx context.Context, splitID string) (*domain.Split, []domain.PaymentRecord, error) {
	split, err := s.repo.GetSplit(ctx, splitID)
	if err != nil {
		return nil, nil, err
	}
	recs, err := s.repo.ListPayments(ctx, splitID)
	if err != nil {
		return nil, nil, err
	}
	return split, recs, nil
}

// SetShipping records the shipping method, its fixed cost and the group that
// absorbs it. The item grouping is never recomputed; the cost only shifts
// the absorbing group's total at payment generation time.
func (s *Service) SetShipping(ctx context.Context, splitID, method string, paidInGroup domain.GroupKey) error {
	if !validGroupKey(paidInGroup) {
		return fmt.Errorf("split: unknown group key %q: %w", paidInGroup, domain.ErrValidation)
	}
	return s.repo.SetShipping(ctx, splitID, method, domain.ShippingCost(method), paidInGroup)
}

// GeneratePayments deletes every existing payment record of the split and
// creates one checkout preference per populated group, in high/mid/low
// order. Checkout links from a previous generation become stale and are
// abandoned, not cancelled with the provider.
//
// An upstream failure aborts the remaining groups; the partial state is
// retry-safe because the next invocation starts from a full delete.
func (s *Service) GeneratePayments(ctx context.Context, splitID string) ([]domain.PaymentRecord, error) {
	unlock := s.lockSplit(splitID)
	defer unlock()

	split, err := s.repo.GetSplit(ctx, splitID)
	if err != nil {
		return nil, err
	}
	store, err := s.repo.GetStoreByID(ctx, split.StoreID)
	if err != nil {
		return nil, err
	}

	token := store.PaymentsToken
	if token == "" {
		token = s.defaultPaymentsToken
	}
	if token == "" {
		return nil, fmt.Errorf("split: no payment platform token for store %q: %w", store.PlatformStoreID, domain.ErrConfiguration)
	}

	if err := s.repo.DeletePayments(ctx, splitID); err != nil {
		return nil, err
	}

	var recs []domain.PaymentRecord
	for _, key := range domain.GroupOrder {
		group, ok := split.Groups[key]
		if !ok || len(group.Items) == 0 {
			continue
		}

		total := group.Subtotal
		if split.ShippingPaidInGroup == key {
			total += split.ShippingCost
		}

		pref, err := s.prefs.CreatePreference(ctx, token, payments.PreferenceRequest{
			Items: []payments.PreferenceItem{{
				Title:      fmt.Sprintf("Compra %s - Split %s", key, split.ID),
				Quantity:   1,
				CurrencyID: currencyID,
				UnitPrice:  total,
			}},
			ExternalReference: fmt.Sprintf("%s:%s", split.ID, key),
			NotificationURL:   s.notificationURL,
			PaymentMethods:    payments.PaymentMethods{Installments: group.MaxInstallments},
		})
		if err != nil {
			return nil, fmt.Errorf("split: create preference for split %q group %q: %w", splitID, key, err)
		}

		rec := domain.PaymentRecord{
			SplitID:      splitID,
			GroupKey:     key,
			PreferenceID: pref.ID,
			CheckoutURL:  pref.InitPoint,
			Status:       domain.PaymentStatusCreated,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.repo.InsertPayment(ctx, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)

		slog.InfoContext(ctx, "payment checkout created",
			"split_id", splitID, "group_key", key, "preference_id", pref.ID, "total", total)
	}

	return recs, nil
}

// activeRules loads a store's active rules, consulting the cache first when
// one is configured. Cache failures degrade to a repository read.
func (s *Service) activeRules(ctx context.Context, storeID int64) ([]domain.Rule, error) {
	var key string
	if s.rulesCache != nil {
		key = s.rulesCache.GenerateKey("rules", fmt.Sprint(storeID))
		if raw, err := s.rulesCache.Get(ctx, key); err == nil && raw != "" {
			var rules []domain.Rule
			if err := json.Unmarshal([]byte(raw), &rules); err == nil {
				return rules, nil
			}
		}
	}

	rules, err := s.repo.ListActiveRules(ctx, storeID)
	if err != nil {
		return nil, err
	}

	if s.rulesCache != nil {
		if raw, err := json.Marshal(rules); err == nil {
			if err := s.rulesCache.Set(ctx, key, string(raw), rulesCacheTTL); err != nil {
				slog.WarnContext(ctx, "rules cache write failed", "store_id", storeID, "error", err)
			}
		}
	}
	return rules, nil
}

// lockSplit acquires the per-split generation lock, creating it on first use.
func (s *Service) lockSplit(splitID string) func() {
	s.mu.Lock()
	m, ok := s.generating[splitID]
	if !ok {
		m = &sync.Mutex{}
		s.generating[splitID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func validGroupKey(key domain.GroupKey) bool {
	if key == "" {
		return true
	}
	for _, k := range domain.GroupOrder {
		if k == key {
			return true
		}
	}
	return false
}
