package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/consent"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/gate"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/oidc"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/config"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/httpserver"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/logger"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/metrics"
	platformredis "github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/redis"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/salesforce"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/session"
	httptransport "github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString("CONFIGURATION ERROR !! " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer redisClient.Close()

	m := metrics.New()
	outbound := &http.Client{Timeout: cfg.Salesforce.Timeout}

	discovery := oidc.NewDiscoveryCache(cfg.OIDC.ProviderURL, outbound)
	flow := oidc.NewFlow(discovery, cfg.OIDC, outbound, log, m)

	tokens, err := salesforce.NewTokenCache(cfg.ServiceJWT, cfg.OIDC.ProviderURL, discovery, outbound, log, m)
	if err != nil {
		log.Error("service token setup failed", "error", err.Error())
		os.Exit(1)
	}
	dataClient := salesforce.NewClient(tokens, cfg.Salesforce.APIVersion, outbound, log)
	resolver := consent.NewResolver(dataClient, consent.Purposes(cfg.Consent.Purposes), log, m)

	store := session.NewRedisStore(redisClient.Client, cfg.HTTP.SessionTTL)

	gk := gate.New(gate.Config{
		ForceReloadInterval:     cfg.Consent.ForceReloadInterval,
		MandatoryPurposes:       consent.Purposes(cfg.Consent.MandatoryPurposes),
		RequiredChoicePurposes:  consent.Purposes(cfg.Consent.RequiredChoicePurposes),
		PromptOnUnknown:         cfg.Consent.PromptOnUnknown,
		AnonymousExemptPaths:    []string{"/oidc/login", "/oidc/callback", "/oidc/logout", "/health"},
		ConsentDecisionPrefixes: []string{"/consent"},
	}, resolver, flow, log, m)

	handler := httptransport.NewHandler(cfg, store, flow, resolver, gk, redisClient, log)
	srv := httpserver.New(cfg.HTTP.Addr, handler.Router())

	log.Info("starting server", "addr", cfg.HTTP.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
}
