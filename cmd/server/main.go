package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/brkn-labs/splitpay/internal/httpx"
	"github.com/brkn-labs/splitpay/internal/pkg/cache"
	"github.com/brkn-labs/splitpay/internal/pkg/telemetry"
	"github.com/brkn-labs/splitpay/internal/platform/commerce"
	"github.com/brkn-labs/splitpay/internal/platform/payments"
	"github.com/brkn-labs/splitpay/internal/split"
	"github.com/brkn-labs/splitpay/internal/storage/sqlite"
	"github.com/brkn-labs/splitpay/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.InitLogger()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "splitpay"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	repo, err := sqlite.Open(getEnv("DB_PATH", "./data/splitpay.db"))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	httpTimeout := getDurationEnv("HTTP_TIMEOUT", 30*time.Second)
	baseURL := getEnv("APP_BASE_URL", "http://localhost:8080")
	defaultPaymentsToken := os.Getenv("PAYMENTS_ACCESS_TOKEN")

	commerceClient := commerce.NewClient(
		commerce.WithTimeout(httpTimeout),
		commerce.WithUserAgent(getEnv("COMMERCE_USER_AGENT", "SplitPay (dev@example.com)")),
	)
	paymentsClient := payments.NewClient(payments.WithTimeout(httpTimeout))

	// Redis is optional: without it the rule cache is simply disabled.
	var rulesCache cache.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rulesCache = cache.NewRedisCache(addr, "splitpay")
	}

	splitService := split.New(repo, paymentsClient, rulesCache,
		defaultPaymentsToken, baseURL+"/webhooks/payments")
	orderSync := split.NewOrderSync(commerceClient)
	reconciler := webhook.NewReconciler(repo, paymentsClient, orderSync, defaultPaymentsToken)

	handler := httpx.NewHandler(splitService, reconciler, commerceClient, repo, httpx.Config{
		AdminKey:     getEnv("ADMIN_KEY", "BRKN2026"),
		ClientID:     os.Getenv("COMMERCE_CLIENT_ID"),
		ClientSecret: os.Getenv("COMMERCE_CLIENT_SECRET"),
		BaseURL:      baseURL,
		AuthorizeURL: getEnv("COMMERCE_AUTHORIZE_URL", "https://www.tiendanube.com/apps/authorize"),
	})

	addr := ":" + getEnv("PORT", "8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           httpx.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("splitpay server running", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
