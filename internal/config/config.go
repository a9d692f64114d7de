package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
// Every tunable the workflow needs (retry ceilings, similarity threshold,
// intent routes) lives here and is passed into constructors explicitly —
// nothing reads process-wide state at runtime.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Organization (multi-tenant routing scope)
	OrgID string

	// PLEX billing system
	PlexAPIURL  string
	PlexAPIKey  string
	HTTPTimeout time.Duration

	// WhatsApp Cloud API
	WhatsAppAPIURL     string
	WhatsAppToken      string
	WhatsAppPhoneID    string
	WebhookVerifyToken string
	WebhookAppSecret   string // HMAC key for X-Hub-Signature-256

	// Intent classifier
	ClassifierMode   string // keyword | http
	ClassifierAPIURL string

	// Authentication flow
	AuthMaxRetries     int     // invalid account/DNI attempts before escalation
	NameMaxRetries     int     // name mismatches before escalation (separate budget)
	NameMatchThreshold float64 // similarity at which an identity claim is accepted
	NameStopWords      []string

	// Intent → step resume routes (JSON object in env, e.g.
	// {"debt_query":"check_debt"}). Empty entries fall back to defaults.
	IntentRoutes map[string]string

	// Payment links
	PaymentLinkBaseURL string
	PaymentLinkSecret  string
	PaymentLinkTTL     time.Duration

	// Resilience (outbound delivery only — the workflow never retries a
	// step within a turn)
	SendMaxRetries int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Directory lookup cache
	CacheTTL time.Duration

	// Checkpoint store
	UseRedis  bool
	RedisURL  string
	LockTTL   time.Duration
	LockWait  time.Duration
	GraphHops int // max node executions per inbound message

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OrgID: getEnv("ORG_ID", "default"),

		PlexAPIURL:  getEnv("PLEX_API_URL", "http://localhost:8091"),
		PlexAPIKey:  getEnv("PLEX_API_KEY", ""),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		WhatsAppAPIURL:     getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppToken:      getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneID:    getEnv("WHATSAPP_PHONE_ID", ""),
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", "change-me"),
		WebhookAppSecret:   getEnv("WEBHOOK_APP_SECRET", ""),

		ClassifierMode:   getEnv("CLASSIFIER_MODE", "keyword"),
		ClassifierAPIURL: getEnv("CLASSIFIER_API_URL", "http://localhost:8092"),

		AuthMaxRetries:     getEnvInt("AUTH_MAX_RETRIES", 3),
		NameMaxRetries:     getEnvInt("NAME_MAX_RETRIES", 3),
		NameMatchThreshold: getEnvFloat("NAME_MATCH_THRESHOLD", 0.75),
		NameStopWords:      getEnvList("NAME_STOP_WORDS", nil),

		IntentRoutes: getEnvJSONMap("INTENT_ROUTES"),

		PaymentLinkBaseURL: getEnv("PAYMENT_LINK_BASE_URL", "https://pagos.farmaplex.example/checkout"),
		PaymentLinkSecret:  getEnv("PAYMENT_LINK_SECRET", "dev-paylink-secret-change-me"),
		PaymentLinkTTL:     getEnvDuration("PAYMENT_LINK_TTL", 24*time.Hour),

		SendMaxRetries: getEnvInt("SEND_MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		UseRedis:  getEnv("USE_REDIS", "false") == "true",
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LockTTL:   getEnvDuration("LOCK_TTL", 30*time.Second),
		LockWait:  getEnvDuration("LOCK_WAIT", 5*time.Second),
		GraphHops: getEnvInt("GRAPH_HOPS", 8),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvJSONMap(key string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil
	}
	return m
}
