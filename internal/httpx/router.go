package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brkn-labs/splitpay/internal/httpx/middlewares"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/splits", handler.CreateSplit)
	r.Get("/splits/{id}", handler.GetSplit)
	r.Put("/splits/{id}/shipping", handler.SetShipping)
	r.Post("/splits/{id}/payments", handler.GeneratePayments)

	r.Post("/webhooks/payments", handler.PaymentNotification)

	r.Get("/install", handler.Install)
	r.Get("/oauth/callback", handler.OAuthCallback)

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(handler.RequireAdminKey)
		admin.Post("/stores", handler.UpsertStore)
		admin.Get("/stores", handler.ListStores)
		admin.Get("/stores/{storeID}/rules", handler.ListRules)
		admin.Post("/stores/{storeID}/rules", handler.AddRule)
		admin.Post("/stores/{storeID}/rules/{ruleID}/toggle", handler.ToggleRule)
	})

	return r
}
