// Package main запускает HTTP-сервер сервиса лотереи мероприятий.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/event-lottery/internal/config"
	"github.com/mmeshcher/event-lottery/internal/handler"
	"github.com/mmeshcher/event-lottery/internal/metrics"
	"github.com/mmeshcher/event-lottery/internal/middleware"
	"github.com/mmeshcher/event-lottery/internal/notify"
	"github.com/mmeshcher/event-lottery/internal/repository"
	"github.com/mmeshcher/event-lottery/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	translator, err := notify.NewTranslator(cfg.Locale)
	if err != nil {
		sugar.Fatalw("notification templates error", "error", err.Error())
	}

	// Без адреса доставки уведомления только накапливаются в очереди.
	var sender service.Sender
	if cfg.NotifyWebhookAddress != "" {
		sender = notify.NewClient(cfg.NotifyWebhookAddress)
	} else {
		sugar.Warn("notification webhook address is not set, notifications will stay queued")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.NewService(repo, sender, translator, logger, metrics.New(registry),
		service.WithDrawStrategy(cfg.DrawStrategy),
		service.WithLocale(cfg.Locale),
	)
	defer svc.Close()

	if cfg.SessionSecret == "" {
		sugar.Warn("session secret is not set, sessions will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, middleware.NewSessions(cfg.SessionSecret))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartNotificationDispatch(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting lottery server",
			"addr", cfg.RunAddress, "strategy", cfg.DrawStrategy, "locale", cfg.Locale)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка по сигналу или по ошибке в другой горутине.
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
