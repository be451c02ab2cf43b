// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for the distributed issuance limiter; empty disables it.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// PolicyProfilesPath is a YAML file of threshold profiles; empty uses the built-in defaults.
	PolicyProfilesPath string `mapstructure:"POLICY_PROFILES_PATH"`
	// DefaultPolicy is the profile applied when a request names none.
	DefaultPolicy string `mapstructure:"DEFAULT_POLICY"`

	// ChallengeTTL is the challenge lifetime (e.g. "5m").
	ChallengeTTL string `mapstructure:"CHALLENGE_TTL"`
	// ChallengeMaxActive caps unexpired unused challenges per user; 0 disables the cap.
	ChallengeMaxActive int `mapstructure:"CHALLENGE_MAX_ACTIVE"`
	// ChallengeMaxPerHour caps challenges created per user per hour; 0 disables the cap.
	ChallengeMaxPerHour int `mapstructure:"CHALLENGE_MAX_PER_HOUR"`
	// PhraseExcludeLast is how many of the user's recent phrases to avoid reusing.
	PhraseExcludeLast int `mapstructure:"PHRASE_EXCLUDE_LAST"`

	// ChallengeTokenPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file;
	// used to sign challenge transport tokens. Empty disables token issuance.
	ChallengeTokenPrivateKey string `mapstructure:"CHALLENGE_TOKEN_PRIVATE_KEY"`
	// ChallengeTokenPublicKey is the PEM-encoded public key or path to file.
	ChallengeTokenPublicKey string `mapstructure:"CHALLENGE_TOKEN_PUBLIC_KEY"`
	// ChallengeTokenIssuer is the iss claim on challenge tokens.
	ChallengeTokenIssuer string `mapstructure:"CHALLENGE_TOKEN_ISSUER"`
	// ChallengeTokenAudience is the aud claim on challenge tokens.
	ChallengeTokenAudience string `mapstructure:"CHALLENGE_TOKEN_AUDIENCE"`

	// ScorerIdentityURL is the identity scorer service base URL.
	ScorerIdentityURL string `mapstructure:"SCORER_IDENTITY_URL"`
	// ScorerAntispoofURL is the antispoof scorer service base URL.
	ScorerAntispoofURL string `mapstructure:"SCORER_ANTISPOOF_URL"`
	// ScorerTextURL is the text scorer service base URL.
	ScorerTextURL string `mapstructure:"SCORER_TEXT_URL"`
	// ScorerTimeout bounds each scorer call (e.g. "10s").
	ScorerTimeout string `mapstructure:"SCORER_TIMEOUT"`

	// OTLPEndpoint is the OTLP collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, the server emits decision events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("POLICY_PROFILES_PATH", "")
	v.SetDefault("DEFAULT_POLICY", "standard")
	v.SetDefault("CHALLENGE_TTL", "5m")
	v.SetDefault("CHALLENGE_MAX_ACTIVE", 3)
	v.SetDefault("CHALLENGE_MAX_PER_HOUR", 10)
	v.SetDefault("PHRASE_EXCLUDE_LAST", 5)
	v.SetDefault("CHALLENGE_TOKEN_ISSUER", "voicegate-challenge")
	v.SetDefault("CHALLENGE_TOKEN_AUDIENCE", "voicegate-verify")
	v.SetDefault("SCORER_TIMEOUT", "10s")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "voicegate-telemetry")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "voicegate-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.ChallengeMaxActive < 0 || cfg.ChallengeMaxPerHour < 0 || cfg.PhraseExcludeLast < 0 {
		return nil, errors.New("config: challenge limits must not be negative")
	}
	if (cfg.ChallengeTokenPrivateKey == "") != (cfg.ChallengeTokenPublicKey == "") {
		return nil, errors.New("config: CHALLENGE_TOKEN_PRIVATE_KEY and CHALLENGE_TOKEN_PUBLIC_KEY must be set together")
	}

	return &cfg, nil
}

// ChallengeTTLDuration parses ChallengeTTL. Returns 5m if unset or invalid.
func (c *Config) ChallengeTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.ChallengeTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ScorerTimeoutDuration parses ScorerTimeout. Returns 10s if unset or invalid.
func (c *Config) ScorerTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ScorerTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
