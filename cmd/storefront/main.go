// Package main запускает HTTP-сервер витрины и фоновую доставку уведомлений.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-core/internal/cache"
	"github.com/mmeshcher/storefront-core/internal/cart"
	"github.com/mmeshcher/storefront-core/internal/commerce"
	"github.com/mmeshcher/storefront-core/internal/config"
	"github.com/mmeshcher/storefront-core/internal/handler"
	"github.com/mmeshcher/storefront-core/internal/middleware"
	"github.com/mmeshcher/storefront-core/internal/notify"
	"github.com/mmeshcher/storefront-core/internal/region"
	"github.com/mmeshcher/storefront-core/internal/repository"
	"github.com/mmeshcher/storefront-core/internal/service"
	"github.com/mmeshcher/storefront-core/internal/workflow"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if _, err := region.Resolve(cfg.DefaultLocale); err != nil {
		sugar.Fatalw("default locale is not supported", "locale", cfg.DefaultLocale, "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		sugar.Warnw("redis is unavailable, caching and merge guard degrade to pass-through", "error", err.Error())
	}

	commerceClient := commerce.NewClient(cfg.CommerceAPIURL,
		commerce.WithAppToken(cfg.CommerceAppToken),
		commerce.WithLogger(logger),
	)

	dispatcher := notify.NewDispatcher(notify.Config{
		BaseURL:       cfg.Telegram.APIURL,
		Token:         cfg.Telegram.BotToken,
		ChatID:        cfg.Telegram.ChatID,
		ThreadID:      cfg.Telegram.ThreadID,
		MaxAttempts:   cfg.Notify.MaxAttempts,
		BaseDelay:     cfg.Notify.BaseDelay,
		RatePerSecond: cfg.Notify.RatePerSecond,
	}, notify.WithLogger(logger))
	notifier := notify.NewNotifier(dispatcher, repo, logger)
	relay := notify.NewRelay(repo, dispatcher, notify.RelayConfig{
		PollInterval: cfg.Notify.OutboxPollInterval,
		MaxAttempts:  cfg.Notify.OutboxMaxAttempts,
	}, logger)

	lists := cache.NewListCache(rdb, cache.WithLogger(logger))
	coordinator := cart.NewCoordinator(commerceClient,
		cart.WithGuard(cache.NewLoginGuard(rdb), 10*time.Minute),
		cart.WithLogger(logger),
	)
	tracker := workflow.NewTracker(repo, commerceClient, lists, notifier, logger)

	svc := service.NewService(service.Deps{
		Repo:     repo,
		Commerce: commerceClient,
		Merger:   coordinator,
		Tracker:  tracker,
		Notifier: notifier,
		Cache:    lists,
		Logger:   logger,
	})
	defer svc.Close()

	sessions := middleware.NewSessionManager(cfg.SessionSecret)
	if cfg.SessionSecret == "" {
		sugar.Warn("SESSION_SECRET is empty, sessions will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, sessions, cfg.AdminEmails, cfg.DefaultLocale)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Повторная доставка уведомлений из outbox
	g.Go(func() error {
		relay.Run(ctx)
		return nil
	})

	// Инвалидации списков от других экземпляров
	g.Go(func() error {
		err := lists.Subscribe(ctx, func(inv cache.Invalidation) {
			sugar.Debugw("list cache invalidated", "tag", inv.Tag, "at", inv.At)
		})
		if err != nil {
			sugar.Warnw("cache invalidation subscription stopped", "error", err.Error())
		}
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress, "default_locale", cfg.DefaultLocale)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
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
