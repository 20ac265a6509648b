package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	UseMemoryQueue     bool
	WorkerCount        int
	DatabaseURL        string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Supabase Auth
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string

	SessionIdleTimeout   time.Duration
	SessionWarningWindow time.Duration

	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	NotificationQueueURL  string
	NotificationJobsTable string

	// Soportes storage (Supabase Storage S3 API or S3)
	SoportesBucket   string
	SoportesMaxBytes int64
	SoportesURLTTL   time.Duration

	// Microsoft Graph / OneDrive
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	OneDriveUserID    string
	OneDriveRoot      string

	// Google Document AI + Gemini
	DocumentAIProcessor   string
	DocumentAIEndpoint    string
	GoogleCredentialsJSON string
	GeminiAPIKey          string
	GeminiEmbeddingModel  string

	// Email
	EmailProvider      string
	EmailFrom          string
	GmailClientID      string
	GmailClientSecret  string
	GmailRefreshToken  string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string
	NotificationEmails []string

	// LabsMobile SMS
	LabsMobileUsername string
	LabsMobileToken    string
	LabsMobileSender   string

	TeamsWebhookURL string

	FunctionsSharedSecret string
	OutboxPollInterval    time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:        getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SupabaseURL:       strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:   getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseJWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),

		SessionIdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 15*time.Minute),
		SessionWarningWindow: getEnvAsDuration("SESSION_WARNING_WINDOW", time.Minute),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotificationQueueURL:  getEnv("NOTIFICATION_QUEUE_URL", ""),
		NotificationJobsTable: getEnv("NOTIFICATION_JOBS_TABLE", "notification_jobs"),

		SoportesBucket:   getEnv("SOPORTES_BUCKET", "soportes"),
		SoportesMaxBytes: int64(getEnvAsInt("SOPORTES_MAX_BYTES", 20<<20)),
		SoportesURLTTL:   getEnvAsDuration("SOPORTES_URL_TTL", 15*time.Minute),

		GraphTenantID:     getEnv("GRAPH_TENANT_ID", ""),
		GraphClientID:     getEnv("GRAPH_CLIENT_ID", ""),
		GraphClientSecret: getEnv("GRAPH_CLIENT_SECRET", ""),
		OneDriveUserID:    getEnv("ONEDRIVE_USER_ID", ""),
		OneDriveRoot:      strings.Trim(getEnv("ONEDRIVE_ROOT", "Radicados"), "/"),

		DocumentAIProcessor:   getEnv("DOCUMENTAI_PROCESSOR", ""),
		DocumentAIEndpoint:    getEnv("DOCUMENTAI_ENDPOINT", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiEmbeddingModel:  getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),

		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		EmailFrom:          getEnv("EMAIL_FROM", ""),
		GmailClientID:      getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret:  getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken:  getEnv("GMAIL_REFRESH_TOKEN", ""),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Portal Colaboradores"),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		NotificationEmails: getEnvAsList("NOTIFICATION_EMAILS", nil),

		LabsMobileUsername: getEnv("LABSMOBILE_USERNAME", ""),
		LabsMobileToken:    getEnv("LABSMOBILE_TOKEN", ""),
		LabsMobileSender:   getEnv("LABSMOBILE_SENDER", ""),

		TeamsWebhookURL: getEnv("TEAMS_WEBHOOK_URL", ""),

		FunctionsSharedSecret: getEnv("FUNCTIONS_SHARED_SECRET", ""),
		OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
