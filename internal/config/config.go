package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr    string
	DatabaseURL   string
	JWTSecret     string
	WebhookSecret string

	// Operator credentials for the dashboard login. The password is kept
	// as a bcrypt hash so a leaked .env does not leak the plaintext.
	OperatorEmail        string
	OperatorPasswordHash string

	// Bybit endpoints in failover priority order. The first entry is the
	// canonical API host; the rest are mirrors tried when CloudFront
	// geo-blocks the caller region.
	BybitAPIKey     string
	BybitSecretKey  string
	BybitEndpoints  []string
	BybitProxyAddr  string
	BybitRecvWindow string

	SMSProviderURL string
	SMSAPIKey      string
	SMSFrom        string
	SMSMaxAttempts int
	SMSBaseDelay   time.Duration
	SMSMaxDelay    time.Duration

	WebhookRateLimit int
	AllowedOrigins   []string

	MetricsUser string
	MetricsPass string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		OperatorEmail:        os.Getenv("OPERATOR_EMAIL"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),

		BybitAPIKey:     os.Getenv("BYBIT_API_KEY"),
		BybitSecretKey:  os.Getenv("BYBIT_SECRET_KEY"),
		BybitEndpoints:  getEnvList("BYBIT_ENDPOINTS", "https://api.bybit.com"),
		BybitProxyAddr:  os.Getenv("BYBIT_PROXY_ADDR"),
		BybitRecvWindow: getEnv("BYBIT_RECV_WINDOW", "5000"),

		SMSProviderURL: os.Getenv("SMS_PROVIDER_URL"),
		SMSAPIKey:      os.Getenv("SMS_API_KEY"),
		SMSFrom:        getEnv("SMS_FROM", "tvbridge"),
		SMSMaxAttempts: getEnvInt("SMS_MAX_ATTEMPTS", 4),
		SMSBaseDelay:   getEnvDuration("SMS_BASE_DELAY", 500*time.Millisecond),
		SMSMaxDelay:    getEnvDuration("SMS_MAX_DELAY", 15*time.Second),

		WebhookRateLimit: getEnvInt("WEBHOOK_RATE_LIMIT", 60),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", "http://localhost:3000"),

		MetricsUser: getEnv("METRICS_USER", "metrics"),
		MetricsPass: os.Getenv("METRICS_PASS"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func getEnvList(key, def string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
