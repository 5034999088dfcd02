package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the environment configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewTemplateHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	Queue QueueConfig
	Graph GraphConfig

	Provisioning ProvisioningConfig
	MetricsPush  MetricsPushConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Driver            string
	PollInterval      time.Duration
	MaxDeliveries     int
	VisibilityTimeout time.Duration
}

// GraphConfig carries the identity platform credentials. It is handed to the
// capability adapter as a value; nothing below this package reads the environment.
type GraphConfig struct {
	Driver            string
	TenantID          string
	ClientID          string
	ClientSecret      string
	AuthorityHost     string
	BaseURL           string
	InviteRedirectURL string
	TeamSettleDelay   time.Duration
}

type ProvisioningConfig struct {
	DefaultOrganization string
	CallbackTimeout     time.Duration
	ShortCircuit        bool
	TemplatePath        string
}

// TelemetryConfig controls the logger and the OTLP exporters. The endpoint
// itself is Config.OTLPEndpoint.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTelEnabled   bool
	OTLPProtocol  string
	SamplingRatio float64
}

// MetricsPushConfig forwards the prometheus registry to a Pushgateway or a
// remote_write endpoint, for workers that are not scraped.
type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

const (
	QueueDriverOutbox = "outbox"
	QueueDriverRedis  = "redis"

	CapabilityDriverGraph = "graph"
	CapabilityDriverStub  = "stub"

	DefaultOrganization = "Default Org"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "provisioning"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "provisioning"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Driver:            normalizeQueueDriver(getenv("QUEUE_DRIVER", QueueDriverOutbox)),
			PollInterval:      getenvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
			MaxDeliveries:     getenvInt("QUEUE_MAX_DELIVERIES", 10),
			VisibilityTimeout: getenvDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		},
		Graph: GraphConfig{
			Driver:            strings.ToLower(strings.TrimSpace(getenv("CAPABILITY_DRIVER", CapabilityDriverGraph))),
			TenantID:          strings.TrimSpace(getenv("AZURE_TENANT_ID", "")),
			ClientID:          strings.TrimSpace(getenv("AZURE_CLIENT_ID", "")),
			ClientSecret:      strings.TrimSpace(getenv("AZURE_CLIENT_SECRET", "")),
			AuthorityHost:     getenv("AZURE_AUTHORITY_HOST", "https://login.microsoftonline.com"),
			BaseURL:           getenv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
			InviteRedirectURL: getenv("INVITE_REDIRECT_URL", "https://myapps.microsoft.com"),
			TeamSettleDelay:   getenvDuration("GRAPH_TEAM_SETTLE_DELAY", 5*time.Second),
		},
		Provisioning: ProvisioningConfig{
			DefaultOrganization: getenv("DEFAULT_ORGANIZATION", DefaultOrganization),
			CallbackTimeout:     getenvDuration("CALLBACK_TIMEOUT", 30*time.Second),
			ShortCircuit:        getenvBool("PROVISIONING_SHORT_CIRCUIT", false),
			TemplatePath:        strings.TrimSpace(getenv("PROVISIONING_TEMPLATE_PATH", "")),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeQueueDriver(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case QueueDriverRedis:
		return QueueDriverRedis
	default:
		return QueueDriverOutbox
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("30s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
