// Package main is the entry point for the aigateway service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/fluentvoice/aigateway/internal/accounting"
	"github.com/fluentvoice/aigateway/internal/config"
	"github.com/fluentvoice/aigateway/internal/dispatch"
	"github.com/fluentvoice/aigateway/internal/health"
	"github.com/fluentvoice/aigateway/internal/provider"
	"github.com/fluentvoice/aigateway/internal/ratelimit"
	"github.com/fluentvoice/aigateway/internal/registry"
	"github.com/fluentvoice/aigateway/internal/server"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Build the provider adapters listed in config.
	//
	// constructors maps provider names to their factory functions, so
	// adding a backend is one entry here plus a config stanza — no
	// if/else chain to grow.
	type providerFactory func(apiKey, baseURL string) provider.Provider

	constructors := map[string]providerFactory{
		"openai": func(apiKey, baseURL string) provider.Provider {
			return provider.NewOpenAIProvider(apiKey, baseURL, http.DefaultClient)
		},
		"anthropic": func(apiKey, baseURL string) provider.Provider {
			return provider.NewAnthropicProvider(apiKey, baseURL, http.DefaultClient)
		},
		"google": func(apiKey, baseURL string) provider.Provider {
			return provider.NewGoogleProvider(apiKey, baseURL, http.DefaultClient)
		},
		"elevenlabs": func(apiKey, baseURL string) provider.Provider {
			return provider.NewElevenLabsProvider(apiKey, baseURL, http.DefaultClient)
		},
		"deepgram": func(apiKey, baseURL string) provider.Provider {
			return provider.NewDeepgramProvider(apiKey, baseURL, http.DefaultClient)
		},
	}

	providers := make(map[string]provider.Provider)
	for name, provCfg := range cfg.Providers {
		factory, ok := constructors[name]
		if !ok {
			log.Fatalf("unknown provider in config: %q", name)
		}
		providers[name] = factory(provCfg.APIKey, provCfg.BaseURL)
		log.Printf("constructed provider %q (enabled=%t)", name, provCfg.Enabled)
	}

	// The registry owns the per-service chains and the pricing table;
	// it validates the chain invariants and aborts startup on a
	// misconfiguration.
	reg, err := registry.New(cfg, providers)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}

	// Admission control: Redis windows when an address is configured
	// (shared ceilings across replicas), in-process windows otherwise.
	limits := make(ratelimit.Limits)
	for name, svcCfg := range cfg.Services {
		limits[provider.ServiceType(name)] = ratelimit.Limit{
			Requests: svcCfg.RateLimit.Requests,
			Window:   svcCfg.RateLimit.Window,
		}
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		client := ratelimit.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		limiter = ratelimit.NewRedis(client, limits)
		log.Printf("rate limiting via redis at %s", cfg.Redis.Addr)
	} else {
		limiter = ratelimit.NewMemory(limits)
		log.Printf("rate limiting in-memory")
	}

	// Health monitor: background probe loop over every provider that
	// appears in any chain. The dispatcher reads its records as skip
	// hints and feeds attempt outcomes back into it.
	monitor := health.NewMonitor(reg.AllProviders(),
		cfg.Health.Interval, cfg.Health.Freshness, cfg.Health.ProbeTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	dispatcher := dispatch.New(reg, monitor)
	accountant := accounting.New(reg)

	srv := server.New(reg, dispatcher, limiter, limits, accountant, monitor)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("aigateway listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
