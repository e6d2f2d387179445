package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// AppleConfig holds the App Store receipt verification endpoints and shared secret.
// The URLs are overridable so tests can point them at local fakes.
type AppleConfig struct {
	SharedSecret  string
	ProductionURL string
	SandboxURL    string
}

// GoogleConfig holds the Play publisher API endpoints and the service account
// credential used for the OAuth token exchange.
type GoogleConfig struct {
	PackageName  string
	TokenURL     string
	PublisherURL string
	ClientEmail  string
	PrivateKey   string
}

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	// Shared secrets for reward claim signatures.
	TokenSecret string
	AdSecret    string

	// HS256 secret for admin bearer tokens.
	AdminJWTSecret string

	// Shoutrrr destinations for critical threat alerts, comma separated.
	AlertURLs []string

	Apple  AppleConfig
	Google GoogleConfig
}

// Load reads env vars and falls back to defaults so the server can boot with
// zero configuration. A local .env file is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:    getEnv("POSTY_ENV", "development"),
		HTTPPort:       getEnv("POSTY_HTTP_PORT", "8080"),
		DatabasePath:   getEnv("POSTY_DB_PATH", filepath.Join("data", "rewardguard.db")),
		TokenSecret:    getEnv("TOKEN_SECRET_KEY", "POSTY_TOKEN_SECRET_2024"),
		AdSecret:       getEnv("AD_SECRET_KEY", "POSTY_AD_SECRET_2024"),
		AdminJWTSecret: getEnv("POSTY_ADMIN_JWT_SECRET", ""),
		AlertURLs:      splitList(os.Getenv("POSTY_ALERT_URLS")),
		Apple: AppleConfig{
			SharedSecret:  getEnv("APPLE_SHARED_SECRET", ""),
			ProductionURL: getEnv("APPLE_VERIFY_URL", "https://buy.itunes.apple.com/verifyReceipt"),
			SandboxURL:    getEnv("APPLE_SANDBOX_VERIFY_URL", "https://sandbox.itunes.apple.com/verifyReceipt"),
		},
		Google: GoogleConfig{
			PackageName:  getEnv("ANDROID_PACKAGE_NAME", "com.posty"),
			TokenURL:     getEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			PublisherURL: getEnv("GOOGLE_PUBLISHER_URL", "https://androidpublisher.googleapis.com/androidpublisher/v3"),
			ClientEmail:  getEnv("GOOGLE_CLIENT_EMAIL", ""),
			PrivateKey:   getEnv("GOOGLE_PRIVATE_KEY", ""),
		},
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs against live app store endpoints.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
