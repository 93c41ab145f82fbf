package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Completion providers.
const (
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// WhatsApp Cloud API
	WhatsAppToken       string
	PhoneNumberID       string
	WebhookVerifyToken  string
	WhatsAppAppSecret   string
	WhatsAppAPIBase     string
	WhatsAppHTTPTimeout time.Duration

	// Completion
	CompletionProvider  string
	GeminiAPIKey        string
	GeminiModel         string
	BedrockModelID      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Optional duplicate suppression
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	DedupTTL      time.Duration
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "5000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WhatsAppToken:       getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:       getEnv("PHONE_NUMBER_ID", ""),
		WebhookVerifyToken:  getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:   getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppAPIBase:     getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v18.0"),
		WhatsAppHTTPTimeout: getEnvAsDuration("WHATSAPP_HTTP_TIMEOUT", 0),

		CompletionProvider:  strings.ToLower(strings.TrimSpace(getEnv("COMPLETION_PROVIDER", ProviderGemini))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		DedupTTL:      getEnvAsDuration("DEDUP_TTL", 24*time.Hour),
	}
}

// Missing lists the names of required settings that are empty. The relay
// still starts without them; requests that need them fail at call time.
func (c *Config) Missing() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("WHATSAPP_TOKEN", c.WhatsAppToken)
	check("PHONE_NUMBER_ID", c.PhoneNumberID)
	check("WEBHOOK_VERIFY_TOKEN", c.WebhookVerifyToken)
	switch c.CompletionProvider {
	case ProviderBedrock:
		check("BEDROCK_MODEL_ID", c.BedrockModelID)
	default:
		check("GEMINI_API_KEY", c.GeminiAPIKey)
	}
	return missing
}

// DedupEnabled reports whether a Redis address was configured.
func (c *Config) DedupEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
