package config

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	AppEnv  string `mapstructure:"APP_ENV"`
	AppPort string `mapstructure:"APP_PORT"`

	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DatabaseReplicaURLs string        `mapstructure:"DATABASE_REPLICA_URLS"`
	DBMaxOpenConns      int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	QueryTimeout        time.Duration `mapstructure:"QUERY_TIMEOUT"`

	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RateLimitMessages int64         `mapstructure:"RATE_LIMIT_MESSAGES"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	IdempotencyTTL    time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	EventsBroker string `mapstructure:"EVENTS_BROKER"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
	NatsURL      string `mapstructure:"NATS_URL"`
	NatsStream   string `mapstructure:"NATS_STREAM"`

	MinioEndpoint  string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool          `mapstructure:"MINIO_USE_SSL"`
	MediaURLTTL    time.Duration `mapstructure:"MEDIA_URL_TTL"`

	OtelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

var AppConfig *Config

// defaults doubles as the list of keys viper should look up in the environment;
// Unmarshal only sees env vars for keys it already knows about.
var defaults = map[string]any{
	"APP_ENV":                     "development",
	"APP_PORT":                    ":8080",
	"DATABASE_URL":                "",
	"DATABASE_REPLICA_URLS":       "",
	"DB_MAX_OPEN_CONNS":           40,
	"QUERY_TIMEOUT":               "5s",
	"JWT_SECRET":                  "",
	"JWT_TTL":                     "168h",
	"LOG_LEVEL":                   "info",
	"REDIS_ADDR":                  "",
	"REDIS_PASSWORD":              "",
	"RATE_LIMIT_MESSAGES":         30,
	"RATE_LIMIT_WINDOW":           "1m",
	"IDEMPOTENCY_TTL":             "24h",
	"EVENTS_BROKER":               "",
	"KAFKA_BROKERS":               "localhost:9092",
	"KAFKA_TOPIC":                 "chat-events",
	"NATS_URL":                    "nats://localhost:4222",
	"NATS_STREAM":                 "CHAT_EVENTS",
	"MINIO_ENDPOINT":              "",
	"MINIO_ACCESS_KEY":            "",
	"MINIO_SECRET_KEY":            "",
	"MINIO_BUCKET":                "chat-media",
	"MINIO_USE_SSL":               false,
	"MEDIA_URL_TTL":               "15m",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_SERVICE_NAME":           "campus-chat",
}

// LoadConfig loads the configuration from a .env file and environment variables.
func LoadConfig() {
	cfg, err := Load(".")
	if err != nil {
		log.Fatal("Unable to decode into struct", "err", err)
	}
	AppConfig = cfg
}

// Load reads configuration from path/.env (if present) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn(".env file not found, loading from environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReplicaURLs splits DATABASE_REPLICA_URLS on commas.
func (c *Config) ReplicaURLs() []string {
	return splitList(c.DatabaseReplicaURLs)
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
