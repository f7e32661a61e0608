package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xstbot/topup/internal/config"
	"github.com/xstbot/topup/internal/feed"
	topupHttp "github.com/xstbot/topup/internal/http"
	topupHandler "github.com/xstbot/topup/internal/http/topup"
	"github.com/xstbot/topup/internal/qris"
	"github.com/xstbot/topup/internal/topup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	encoder, err := qris.NewEncoder(cfg.QRIS.Payload, cfg.QRIS.ArtifactDir)
	if err != nil {
		slog.Error("failed to set up encoder", "error", err)
		os.Exit(1)
	}

	client := feed.NewClient(feed.ClientConfig{
		BaseURL:    cfg.Upstream.BaseURL,
		MerchantID: cfg.Upstream.MerchantID,
		APIKey:     cfg.Upstream.APIKey,
		Timeout:    cfg.Upstream.FetchTimeout,
		Retries:    cfg.Upstream.Retries,
		Backoff:    cfg.Upstream.Backoff,
		Window:     cfg.Upstream.Window,
	})

	// One refresh is bounded by every attempt plus its backoff.
	budget := time.Duration(cfg.Upstream.Retries) * (cfg.Upstream.FetchTimeout + cfg.Upstream.Backoff)
	cache := feed.NewCache(client, cfg.Upstream.CacheTTL, budget)

	service := topup.NewService(topup.Limits{
		Expiry:            cfg.Topup.Expiry,
		MaxActivePerOwner: cfg.Topup.MaxActivePerOwner,
		MaxActiveOwners:   cfg.Topup.MaxActiveOwners,
		RequestSpacing:    cfg.Topup.RequestSpacing,
		SuffixMin:         cfg.Topup.SuffixMin,
		SuffixMax:         cfg.Topup.SuffixMax,
		SuffixAttempts:    cfg.Topup.SuffixAttempts,
		DedupCap:          cfg.Topup.DedupCap,
		ExpireSoonWithin:  cfg.Topup.ExpireSoonWithin,
	}, encoder, cache)
	defer service.Close()

	stopJanitor := service.StartJanitor(cfg.Topup.SweepInterval)
	defer stopJanitor()

	handler := topupHandler.NewHandler(service, encoder, cfg.Topup.ExpireSoonWithin)
	router := topupHttp.New(handler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		slog.Info("starting server", "app", cfg.App.Name, "addr", server.Addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
