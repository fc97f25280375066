package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv   string
	LogLevel string
	Debug    bool

	BackendURL    string
	TelegramToken string

	PromptProvider   string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiModel      string

	PreferIPv4     bool
	HTTPTimeout    time.Duration
	RequestTimeout time.Duration
	PromptTimeout  time.Duration

	VideoPollInterval time.Duration
	VideoPollTimeout  time.Duration

	CameraDevice     string
	CameraWidth      int
	CameraHeight     int
	CaptureCountdown int
	JPEGQuality      int

	WebAddr      string
	ReferenceDir string

	SessionIdle   time.Duration
	MaxConcurrent int
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEBUG", false)
	v.SetDefault("PROMPT_PROVIDER", "backend")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("GEMINI_API_VERSION", "v1beta")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("PREFER_IPV4", true)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 180)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 180)
	v.SetDefault("PROMPT_TIMEOUT_SECONDS", 15)
	v.SetDefault("VIDEO_POLL_INTERVAL_SECONDS", 5)
	v.SetDefault("VIDEO_POLL_TIMEOUT_SECONDS", 600)
	v.SetDefault("CAMERA_DEVICE", "/dev/video0")
	v.SetDefault("CAMERA_WIDTH", 1280)
	v.SetDefault("CAMERA_HEIGHT", 720)
	v.SetDefault("CAPTURE_COUNTDOWN", 3)
	v.SetDefault("JPEG_QUALITY", 90)
	v.SetDefault("WEB_ADDR", ":8080")
	v.SetDefault("SESSION_IDLE_MINUTES", 30)
	v.SetDefault("MAX_CONCURRENT", 4)

	cfg := Config{
		AppEnv:            strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel:          strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		Debug:             v.GetBool("DEBUG"),
		BackendURL:        strings.TrimRight(strings.TrimSpace(v.GetString("BACKEND_URL")), "/"),
		TelegramToken:     strings.TrimSpace(v.GetString("TELEGRAM_BOT_TOKEN")),
		PromptProvider:    strings.ToLower(strings.TrimSpace(v.GetString("PROMPT_PROVIDER"))),
		GeminiAPIKey:      strings.TrimSpace(v.GetString("GEMINI_API_KEY")),
		GeminiBaseURL:     strings.TrimSpace(v.GetString("GEMINI_BASE_URL")),
		GeminiAPIVersion:  strings.TrimSpace(v.GetString("GEMINI_API_VERSION")),
		GeminiModel:       strings.TrimSpace(v.GetString("GEMINI_MODEL")),
		PreferIPv4:        v.GetBool("PREFER_IPV4"),
		HTTPTimeout:       time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		RequestTimeout:    time.Duration(v.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
		PromptTimeout:     time.Duration(v.GetInt("PROMPT_TIMEOUT_SECONDS")) * time.Second,
		VideoPollInterval: time.Duration(v.GetInt("VIDEO_POLL_INTERVAL_SECONDS")) * time.Second,
		VideoPollTimeout:  time.Duration(v.GetInt("VIDEO_POLL_TIMEOUT_SECONDS")) * time.Second,
		CameraDevice:      strings.TrimSpace(v.GetString("CAMERA_DEVICE")),
		CameraWidth:       v.GetInt("CAMERA_WIDTH"),
		CameraHeight:      v.GetInt("CAMERA_HEIGHT"),
		CaptureCountdown:  v.GetInt("CAPTURE_COUNTDOWN"),
		JPEGQuality:       v.GetInt("JPEG_QUALITY"),
		WebAddr:           strings.TrimSpace(v.GetString("WEB_ADDR")),
		ReferenceDir:      strings.TrimSpace(v.GetString("REFERENCE_DIR")),
		SessionIdle:       time.Duration(v.GetInt("SESSION_IDLE_MINUTES")) * time.Minute,
		MaxConcurrent:     v.GetInt("MAX_CONCURRENT"),
	}

	// Older deployments exported the backend under this name.
	if cfg.BackendURL == "" {
		cfg.BackendURL = strings.TrimRight(strings.TrimSpace(v.GetString("FORMULA_E_BACKEND_URL")), "/")
	}

	switch {
	case cfg.BackendURL == "":
		return Config{}, errors.New("BACKEND_URL is required")
	case cfg.PromptProvider != "backend" && cfg.PromptProvider != "gemini":
		return Config{}, errors.New("PROMPT_PROVIDER must be backend or gemini")
	case cfg.PromptProvider == "gemini" && cfg.GeminiAPIKey == "":
		return Config{}, errors.New("GEMINI_API_KEY is required when PROMPT_PROVIDER=gemini")
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = 15 * time.Second
	}
	if cfg.VideoPollInterval <= 0 {
		cfg.VideoPollInterval = 5 * time.Second
	}
	if cfg.VideoPollTimeout < 0 {
		cfg.VideoPollTimeout = 0
	}
	if cfg.CameraWidth <= 0 || cfg.CameraHeight <= 0 {
		cfg.CameraWidth, cfg.CameraHeight = 1280, 720
	}
	if cfg.CaptureCountdown < 0 {
		cfg.CaptureCountdown = 0
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = 30 * time.Minute
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	return cfg, nil
}

// RequireTelegram is checked by the bot binary only; the kiosk runs without a token.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func (c Config) Development() bool {
	return c.AppEnv == "development"
}
