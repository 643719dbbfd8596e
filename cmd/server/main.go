package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/auth"
	"github.com/erauner12/wa-gateway/internal/chatsync"
	"github.com/erauner12/wa-gateway/internal/config"
	"github.com/erauner12/wa-gateway/internal/db"
	"github.com/erauner12/wa-gateway/internal/engine"
	"github.com/erauner12/wa-gateway/internal/evolution"
	"github.com/erauner12/wa-gateway/internal/homeassistant"
	"github.com/erauner12/wa-gateway/internal/httpapi"
	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/store"
)

// webhookEvents are the provider event kinds the gateway subscribes to.
var webhookEvents = []string{
	"MESSAGES_UPSERT",
	"CONNECTION_UPDATE",
	"QRCODE_UPDATED",
}

// instanceSettings is the provider behaviour the gateway relies on: no
// auto-read or always-online side effects, calls rejected, groups kept.
var instanceSettings = map[string]any{
	"rejectCall":      true,
	"msgCall":         "",
	"groupsIgnore":    false,
	"alwaysOnline":    false,
	"readMessages":    false,
	"readStatus":      false,
	"syncFullHistory": false,
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "wa-gateway").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx := context.Background()

	// Database connection; unreachable storage refuses to start
	pool, err := db.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}

	st := store.New(pool)
	provider := evolution.New(cfg.EvolutionURL, cfg.EvolutionAPIKey)
	ha := homeassistant.New(cfg.HomeAssistantURL, cfg.HomeAssistantToken, cfg.AllowedServices)

	eng := engine.New(st, ha, provider, cfg.InstanceName)
	if _, err := eng.Reload(ctx); err != nil {
		// An empty or missing rule set is fine on first boot; a corrupt
		// one is not worth refusing to start over.
		log.Warn().Err(err).Msg("could not load saved rule set, starting with none")
	}

	ingestor := ingest.New(st, eng)
	sync := chatsync.New(st, provider, cfg.InstanceName)

	// Best effort: make sure the instance exists and its webhook points
	// back at us. The operator can drive this through the API as well.
	if cfg.WebhookPublicURL != "" {
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := provider.EnsureInstance(bctx, cfg.InstanceName); err != nil {
				log.Warn().Err(err).Msg("could not ensure provider instance")
				return
			}
			url := cfg.WebhookPublicURL + "/webhook/provider"
			if err := provider.ConfigureWebhook(bctx, cfg.InstanceName, url, webhookEvents); err != nil {
				log.Warn().Err(err).Msg("could not configure provider webhook")
			}
			if err := provider.ApplySettings(bctx, cfg.InstanceName, instanceSettings); err != nil {
				log.Warn().Err(err).Msg("could not apply provider instance settings")
			}
		}()
	}

	// HTTP server setup
	srv := &httpapi.Server{
		Store:    st,
		Engine:   eng,
		Provider: provider,
		HA:       ha,
		Sync:     sync,
		Ingestor: ingestor,
		Instance: cfg.InstanceName,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(auth.JWTCfg{HS256Secret: cfg.AuthSecret}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
