package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/masgolf/golang_services/internal/campaign_service/adapters/http"
	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/bootstrap"
	"github.com/masgolf/golang_services/internal/platform/config"
	"github.com/masgolf/golang_services/internal/platform/logger"
)

const (
	serviceName     = "campaign-service"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...", "provider", cfg.ProviderName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	c, err := bootstrap.New(startCtx, cfg, log, bootstrap.Options{AppName: serviceName})
	cancelStart()
	if err != nil {
		log.Error("Failed to initialize service", "error", err)
		c.Close()
		os.Exit(1)
	}
	defer c.Close()

	validate := validator.New()
	handler := httpadapter.NewCampaignHandler(c.App, c.Dispatcher, c.Reconciler, log, validate)
	webhook := httpadapter.NewWebhookHandler(c.Reconciler, []byte(cfg.WebhookSecret), log)
	router := httpadapter.NewRouter(handler, webhook, []byte(cfg.OperatorJWTSecret), log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	poller := app.NewSchedulePoller(c.Campaigns, c.Dispatcher, log, bootstrap.PollerConfig(cfg))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return poller.Run(gctx) })

	g.Go(func() error { return c.Reconciler.RunSweeper(gctx, cfg.StatusPollingInterval) })

	if c.Broker != nil {
		consumer := app.NewStatusConsumer(c.Broker, c.Reconciler, log)
		g.Go(func() error { return consumer.Start(gctx, cfg.StatusSubject, cfg.StatusQueueGroup) })
	} else {
		log.Warn("Status consumer disabled; relying on webhook and sweeper")
	}

	log.Info("Service is ready")
	if err := g.Wait(); err != nil {
		log.Error("Service stopped with error", "error", err)
		c.Close()
		os.Exit(1)
	}
	log.Info("Service shut down gracefully")
}
