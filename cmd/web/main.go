package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/camera"
	"selfie-booth/internal/config"
	"selfie-booth/internal/gemini"
	"selfie-booth/internal/httpclient"
	"selfie-booth/internal/kiosk"
	"selfie-booth/internal/logging"
	"selfie-booth/internal/prompts"
	"selfie-booth/internal/videojob"
	"selfie-booth/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Development())

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Logger:     &logger,
	})

	gateway := backend.New(backend.Options{
		BaseURL:      cfg.BackendURL,
		HTTPClient:   httpClient,
		Logger:       &logger,
		ReferenceDir: cfg.ReferenceDir,
	})

	wf := workflow.New(workflow.Options{
		Gateway:   gateway,
		Suggester: suggester(cfg, gateway, httpClient, &logger),
		Poller: videojob.New(videojob.Options{
			Checker:  gateway,
			Interval: cfg.VideoPollInterval,
			Timeout:  cfg.VideoPollTimeout,
			Logger:   &logger,
		}),
		Logger:         &logger,
		RequestTimeout: cfg.RequestTimeout,
		PromptTimeout:  cfg.PromptTimeout,
	})

	unit := camera.NewUnit(camera.Options{
		Device:      device(cfg.CameraDevice),
		Constraints: camera.Constraints{Width: cfg.CameraWidth, Height: cfg.CameraHeight, FacingUser: true},
		Countdown:   cfg.CaptureCountdown,
		JPEGQuality: cfg.JPEGQuality,
		Logger:      &logger,
	})

	k := kiosk.New(kiosk.Options{
		Workflow: wf,
		Camera:   unit,
		Logger:   &logger,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           k.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wf.Run(gctx)
	})
	g.Go(func() error {
		return k.RunCamera(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.WebAddr).Str("camera", cfg.CameraDevice).Msg("kiosk listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("kiosk stopped")
		os.Exit(1)
	}
	logger.Info().Msg("shutting down")
}

// device picks a still image when CAMERA_DEVICE names one, otherwise a V4L2
// node such as /dev/video0.
func device(path string) camera.Device {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return &camera.FileDevice{Path: path}
	}
	return camera.V4L2Device{Path: path}
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
