package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// OAuthProviderConfig holds one provider app's credentials.
// RedirectURI is derived from APP_URL unless overridden.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// IsConfigured returns true if all required provider configuration is present
func (c OAuthProviderConfig) IsConfigured() bool {
	return c.ClientID != "" &&
		c.ClientSecret != "" &&
		c.RedirectURI != ""
}

type SlackConfig struct {
	AlertWebhookURL string
	SalesWebhookURL string
	LogsURL         string
}

// IsConfigured returns true if alert delivery to Slack is possible
func (c SlackConfig) IsConfigured() bool {
	return c.AlertWebhookURL != ""
}

type ClerkConfig struct {
	SecretKey string
}

// IsConfigured returns true if all required Clerk configuration is present
func (c ClerkConfig) IsConfigured() bool {
	return c.SecretKey != ""
}

type RedisConfig struct {
	URL string
}

func (c RedisConfig) IsConfigured() bool {
	return c.URL != ""
}

type AppConfig struct {
	// Core configuration (always required)
	DatabaseURL        string
	DatabaseSchema     string
	Port               string // Optional with default "8080"
	CORSAllowedOrigins string // Optional with default "*"
	Environment        string
	AppURL             string
	FrontendURL        string // Where browser redirects land, defaults to AppURL
	UseStrictConfig    bool   // If true, error when any provider is not fully configured

	// Base64 encoded 32 byte key. Empty disables sealing tokens at rest.
	TokenEncryptionKey string

	SlackConfig SlackConfig
	ClerkConfig ClerkConfig
	RedisConfig RedisConfig

	// Provider app credentials, keyed by the provider identifier
	TwitterConfig   OAuthProviderConfig
	LinkedInConfig  OAuthProviderConfig
	YouTubeConfig   OAuthProviderConfig
	InstagramConfig OAuthProviderConfig
	TikTokConfig    OAuthProviderConfig
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// ProviderConfigs returns every provider group keyed by its identifier
func (c *AppConfig) ProviderConfigs() map[string]OAuthProviderConfig {
	return map[string]OAuthProviderConfig{
		"twitter":   c.TwitterConfig,
		"linkedin":  c.LinkedInConfig,
		"youtube":   c.YouTubeConfig,
		"instagram": c.InstagramConfig,
		"tiktok":    c.TikTokConfig,
	}
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ Could not load .env file, continuing with system env vars")
	}

	// Core required configuration
	databaseURL, err := getEnvRequired("DB_URL")
	if err != nil {
		return nil, err
	}

	databaseSchema, err := getEnvRequired("DB_SCHEMA")
	if err != nil {
		return nil, err
	}

	appURL := strings.TrimRight(getEnvWithDefault("APP_URL", "http://localhost:8080"), "/")

	config := &AppConfig{
		DatabaseURL:        databaseURL,
		DatabaseSchema:     databaseSchema,
		Port:               getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:        getEnvWithDefault("ENVIRONMENT", "dev"),
		AppURL:             appURL,
		FrontendURL:        strings.TrimRight(getEnvWithDefault("FRONTEND_URL", appURL), "/"),
		UseStrictConfig:    getEnvWithDefault("USE_STRICT_CONFIG", "false") == "true",
		TokenEncryptionKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),

		SlackConfig: SlackConfig{
			AlertWebhookURL: os.Getenv("SLACK_ALERT_WEBHOOK_URL"),
			SalesWebhookURL: os.Getenv("SLACK_SALES_WEBHOOK_URL"),
			LogsURL:         os.Getenv("SERVER_LOGS_URL"),
		},
		ClerkConfig: ClerkConfig{
			SecretKey: os.Getenv("CLERK_SECRET_KEY"),
		},
		RedisConfig: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},

		TwitterConfig:   loadProviderConfig("X", appURL, "twitter"),
		LinkedInConfig:  loadProviderConfig("LINKEDIN", appURL, "linkedin"),
		YouTubeConfig:   loadProviderConfig("YOUTUBE", appURL, "youtube"),
		InstagramConfig: loadProviderConfig("INSTAGRAM", appURL, "instagram"),
		TikTokConfig:    loadProviderConfig("TIKTOK", appURL, "tiktok"),
	}

	for provider, providerConfig := range config.ProviderConfigs() {
		if providerConfig.IsConfigured() {
			log.Printf("✅ %s provider configured", provider)
			continue
		}
		log.Printf("⚠️ %s provider not configured - connecting %s accounts will be disabled", provider, provider)
		if config.UseStrictConfig {
			return nil, fmt.Errorf("%s provider is not fully configured (USE_STRICT_CONFIG=true)", provider)
		}
	}

	if config.ClerkConfig.IsConfigured() {
		log.Printf("✅ Clerk authentication configured")
	} else {
		log.Printf("⚠️ Clerk authentication not configured - integration routes will reject every request")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("clerk authentication is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	if config.RedisConfig.IsConfigured() {
		log.Printf("✅ Redis configured - OAuth state will be kept in Redis")
	} else {
		log.Printf("⚠️ Redis not configured - OAuth state will be kept in cookies")
	}

	if config.TokenEncryptionKey == "" {
		log.Printf("⚠️ TOKEN_ENCRYPTION_KEY not set - provider tokens will be stored unsealed")
	}

	if !config.SlackConfig.IsConfigured() {
		log.Printf("⚠️ SLACK_ALERT_WEBHOOK_URL not set - error alerts will only be logged")
	}

	return config, nil
}

// loadProviderConfig reads {PREFIX}_CLIENT_ID, {PREFIX}_CLIENT_SECRET and an optional {PREFIX}_REDIRECT_URI
func loadProviderConfig(prefix, appURL, provider string) OAuthProviderConfig {
	return OAuthProviderConfig{
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		RedirectURI: getEnvWithDefault(
			prefix+"_REDIRECT_URI",
			fmt.Sprintf("%s/api/integrations/%s/callback", appURL, provider),
		),
	}
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
