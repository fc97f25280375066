package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/config"
	"selfie-booth/internal/gemini"
	"selfie-booth/internal/handlers"
	"selfie-booth/internal/httpclient"
	"selfie-booth/internal/logging"
	"selfie-booth/internal/prompts"
	"selfie-booth/internal/telegram"
	"selfie-booth/internal/videojob"
	"selfie-booth/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireTelegram()
	}
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Development())

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Logger:     &logger,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     &logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error().Err(err).Msg("telegram init failed")
		os.Exit(1)
	}

	gateway := backend.New(backend.Options{
		BaseURL:      cfg.BackendURL,
		HTTPClient:   httpClient,
		Logger:       &logger,
		ReferenceDir: cfg.ReferenceDir,
	})

	poller := videojob.New(videojob.Options{
		Checker:  gateway,
		Interval: cfg.VideoPollInterval,
		Timeout:  cfg.VideoPollTimeout,
		Logger:   &logger,
	})

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Workflow: workflow.Options{
			Gateway:        gateway,
			Suggester:      suggester(cfg, gateway, httpClient, &logger),
			Poller:         poller,
			RequestTimeout: cfg.RequestTimeout,
			PromptTimeout:  cfg.PromptTimeout,
		},
		Logger: &logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("username", tg.Username()).Str("backend", cfg.BackendURL).Msg("bot started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return handler.Run(gctx, time.Minute, cfg.SessionIdle)
	})
	g.Go(func() error {
		return pump(gctx, tg, handler, cfg, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("bot stopped")
		os.Exit(1)
	}
	logger.Info().Msg("shutting down")
}

// pump feeds updates to the handler with at most cfg.MaxConcurrent in flight.
func pump(ctx context.Context, tg *telegram.Client, handler *handlers.Handler, cfg config.Config, logger zerolog.Logger) error {
	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				logger.Info().Msg("updates channel closed")
				return nil
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Int("update", update.UpdateID).Msg("handle update failed")
				}
			}(update)
		}
	}
}

func suggester(cfg config.Config, gateway *backend.Client, httpClient *http.Client, logger *zerolog.Logger) prompts.Suggester {
	if cfg.PromptProvider == "gemini" {
		return gemini.New(gemini.Options{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			Model:      cfg.GeminiModel,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	}
	return gateway
}
