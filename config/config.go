package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const VERSION = "1.0"

// Config is campaignctl's full runtime configuration, loaded via
// LoadWithOptions following the teacher's viper-backed config.LoadWithOptions
// shape (SetDefault per tunable, optional .env file, AutomaticEnv).
type Config struct {
	Environment string
	LogLevel    string
	Version     string

	Database  DatabaseConfig
	Worker    WorkerConfig
	Senders   SenderTable
	Validator ValidatorConfig
	Tracing   TracingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// WorkerConfig tunes the three worker loops' periods and batch sizes
// (spec.md §4.3/§4.4/§4.5, SPEC_FULL.md §4's "loop period" notes).
type WorkerConfig struct {
	QueuePollInterval    time.Duration
	QueueFetchBatchSize  int
	DecisionLoopInterval time.Duration
	DetectorLoopInterval time.Duration
	InboxFetchPageSize   int

	StuckRowAge time.Duration
}

// SenderCredential is one Microsoft Graph app-only mailbox credential.
type SenderCredential struct {
	Email        string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// SenderTable holds the configured sender mailboxes, parsed from
// SENDER_<N>_EMAIL/TENANT_ID/CLIENT_ID/CLIENT_SECRET env var quadruples plus
// one DEFAULT_SENDER_* fallback, per SPEC_FULL.md §4.3.1's "up to N triples
// + one default" credential table.
type SenderTable struct {
	Credentials []SenderCredential
}

// ByEmail returns the credential for senderEmail, falling back to the first
// configured credential if no exact match exists and one is configured.
func (t SenderTable) ByEmail(email string) (SenderCredential, bool) {
	for _, c := range t.Credentials {
		if strings.EqualFold(c.Email, email) {
			return c, true
		}
	}
	if len(t.Credentials) > 0 {
		return t.Credentials[0], true
	}
	return SenderCredential{}, false
}

// ValidatorConfig tunes the Email Validator client (SPEC_FULL.md §4.3.2).
type ValidatorConfig struct {
	Endpoint    string
	Concurrency int64
}

// TracingConfig tunes the opencensus + Prometheus exporter wiring
// (SPEC_FULL.md §2's ambient metrics/tracing note — trimmed from the
// teacher's larger Jaeger/Zipkin/Stackdriver/Datadog/X-Ray exporter set,
// since campaignctl runs single-operator with no multi-backend need).
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	PrometheusPort int
}

// LoadOptions mirrors the teacher's LoadOptions shape.
type LoadOptions struct {
	EnvFile string
}

// Load loads configuration with default options (optional ".env" file).
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads configuration from an optional env file plus
// environment variables, following the teacher's config.LoadWithOptions
// pattern minus the auth/PASETO/setup-wizard machinery (out of scope here).
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campaignctl")
	v.SetDefault("DB_SSLMODE", "require")

	v.SetDefault("QUEUE_POLL_INTERVAL_SECONDS", 10)
	v.SetDefault("QUEUE_FETCH_BATCH_SIZE", 25)
	v.SetDefault("DECISION_LOOP_INTERVAL_SECONDS", 60)
	v.SetDefault("DETECTOR_LOOP_INTERVAL_SECONDS", 300)
	v.SetDefault("INBOX_FETCH_PAGE_SIZE", 50)
	v.SetDefault("STUCK_ROW_AGE_MINUTES", 30)

	v.SetDefault("VALIDATOR_ENDPOINT", "")
	v.SetDefault("VALIDATOR_CONCURRENCY", 4)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_SERVICE_NAME", "campaignctl-worker")
	v.SetDefault("TRACING_PROMETHEUS_PORT", 9464)

	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}
		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Version:     v.GetString("VERSION"),
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Worker: WorkerConfig{
			QueuePollInterval:    time.Duration(v.GetInt("QUEUE_POLL_INTERVAL_SECONDS")) * time.Second,
			QueueFetchBatchSize:  v.GetInt("QUEUE_FETCH_BATCH_SIZE"),
			DecisionLoopInterval: time.Duration(v.GetInt("DECISION_LOOP_INTERVAL_SECONDS")) * time.Second,
			DetectorLoopInterval: time.Duration(v.GetInt("DETECTOR_LOOP_INTERVAL_SECONDS")) * time.Second,
			InboxFetchPageSize:   v.GetInt("INBOX_FETCH_PAGE_SIZE"),
			StuckRowAge:          time.Duration(v.GetInt("STUCK_ROW_AGE_MINUTES")) * time.Minute,
		},
		Senders: loadSenderTable(v),
		Validator: ValidatorConfig{
			Endpoint:    v.GetString("VALIDATOR_ENDPOINT"),
			Concurrency: v.GetInt64("VALIDATOR_CONCURRENCY"),
		},
		Tracing: TracingConfig{
			Enabled:        v.GetBool("TRACING_ENABLED"),
			ServiceName:    v.GetString("TRACING_SERVICE_NAME"),
			PrometheusPort: v.GetInt("TRACING_PROMETHEUS_PORT"),
		},
	}

	return cfg, nil
}

// loadSenderTable parses SENDER_1_EMAIL..SENDER_N_EMAIL (and matching
// _TENANT_ID/_CLIENT_ID/_CLIENT_SECRET) quadruples plus one
// DEFAULT_SENDER_* fallback, stopping at the first missing index.
func loadSenderTable(v *viper.Viper) SenderTable {
	var table SenderTable

	if email := v.GetString("DEFAULT_SENDER_EMAIL"); email != "" {
		table.Credentials = append(table.Credentials, SenderCredential{
			Email:        email,
			TenantID:     v.GetString("DEFAULT_SENDER_TENANT_ID"),
			ClientID:     v.GetString("DEFAULT_SENDER_CLIENT_ID"),
			ClientSecret: v.GetString("DEFAULT_SENDER_CLIENT_SECRET"),
		})
	}

	for i := 1; ; i++ {
		prefix := "SENDER_" + strconv.Itoa(i) + "_"
		email := v.GetString(prefix + "EMAIL")
		if email == "" {
			break
		}
		table.Credentials = append(table.Credentials, SenderCredential{
			Email:        email,
			TenantID:     v.GetString(prefix + "TENANT_ID"),
			ClientID:     v.GetString(prefix + "CLIENT_ID"),
			ClientSecret: v.GetString(prefix + "CLIENT_SECRET"),
		})
	}

	return table
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
