package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brkn-labs/splitpay/internal/domain"
)

// Install redirects the merchant to the commerce platform's OAuth authorize
// page.
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ClientID == "" {
		writeError(w, http.StatusInternalServerError, "configuration_error", "oauth client id is not configured")
		return
	}

	redirectURI := h.cfg.BaseURL + "/oauth/callback"
	authorizeURL := fmt.Sprintf("%s?client_id=%s&redirect_uri=%s&response_type=code",
		h.cfg.AuthorizeURL, url.QueryEscape(h.cfg.ClientID), url.QueryEscape(redirectURI))

	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// OAuthCallback exchanges the authorization code and installs (or
// re-installs) the store. A re-install refreshes the commerce token and
// keeps any configured payment credential.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	token, err := h.oauth.ExchangeCode(r.Context(), code, h.cfg.ClientID, h.cfg.ClientSecret)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	platformStoreID := token.PlatformStoreID()
	if token.AccessToken == "" || platformStoreID == "" {
		writeError(w, http.StatusBadGateway, "upstream_error", "token exchange returned no access token or store id")
		return
	}

	if _, err := h.repo.UpsertStore(r.Context(), &domain.Store{
		PlatformStoreID: platformStoreID,
		CommerceToken:   token.AccessToken,
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OAuthCallbackResponse{StoreID: platformStoreID})
}

// RequireAdminKey guards the admin API behind the shared admin key header.
func (h *Handler) RequireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminKey == "" || r.Header.Get("X-Admin-Key") != h.cfg.AdminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UpsertStore registers a store manually, bypassing the OAuth flow.
func (h *Handler) UpsertStore(w http.ResponseWriter, r *http.Request) {
	var req UpsertStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.PlatformStoreID == "" || req.CommerceToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "platform_store_id and commerce_token are required")
		return
	}

	id, err := h.repo.UpsertStore(r.Context(), &domain.Store{
		PlatformStoreID: req.PlatformStoreID,
		CommerceToken:   req.CommerceToken,
		PaymentsToken:   req.PaymentsToken,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StoreResponse{ID: id, PlatformStoreID: req.PlatformStoreID})
}

// ListStores lists installed stores. Tokens are never echoed back.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.repo.ListStores(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]StoreResponse, len(stores))
	for i, s := range stores {
		out[i] = StoreResponse{
			ID:              s.ID,
			PlatformStoreID: s.PlatformStoreID,
			CreatedAt:       s.CreatedAt.Format(timeFormat),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ListRules lists all rules of a store, active or not.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	store, err := h.repo.GetStoreByPlatformID(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rules, err := h.repo.ListRules(r.Context(), store.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]RuleResponse, len(rules))
	for i, rule := range rules {
		out[i] = RuleResponse{
			ID:              rule.ID,
			Scope:           string(rule.Scope),
			ReferenceID:     rule.ReferenceID,
			MaxInstallments: rule.MaxInstallments,
			Active:          rule.Active,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// AddRule creates an active rule for a store.
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	store, err := h.repo.GetStoreByPlatformID(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req AddRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	scope := domain.RuleScope(req.Scope)
	if scope != domain.ScopeProduct && scope != domain.ScopeCategory && scope != domain.ScopeGlobal {
		writeError(w, http.StatusBadRequest, "invalid_request", "scope must be product, category or global")
		return
	}
	if req.MaxInstallments < 1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "max_installments must be at least 1")
		return
	}

	id, err := h.repo.AddRule(r.Context(), &domain.Rule{
		StoreID:         store.ID,
		Scope:           scope,
		ReferenceID:     req.ReferenceID,
		MaxInstallments: req.MaxInstallments,
		Active:          true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RuleResponse{
		ID:              id,
		Scope:           req.Scope,
		ReferenceID:     req.ReferenceID,
		MaxInstallments: req.MaxInstallments,
		Active:          true,
	})
}

// ToggleRule flips a rule's active flag.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	store, err := h.repo.GetStoreByPlatformID(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ruleID, err := strconv.ParseInt(chi.URLParam(r, "ruleID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "rule id must be numeric")
		return
	}

	active, err := h.repo.ToggleRule(r.Context(), store.ID, ruleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ToggleRuleResponse{Active: active})
}
