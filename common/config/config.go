package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration read from the environment. Field tags carry the variable names, which are also
// exported as Env_ constants for code that reads single values directly.
type Config struct {
	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL"`
	AwsRegion string `env:"AWS_REGION" envDefault:"us-east-1"`

	// AwsEndpoint points every AWS client at a local stack
	AwsEndpoint string `env:"AWS_ENDPOINT"`

	Deployer string `env:"LEDGER_DEPLOYER,required,notEmpty"`

	// ValueSources lists the pools the ledger can pull from, as name:spender pairs
	ValueSources []string `env:"LEDGER_VALUE_SOURCES" envSeparator:"," envDefault:"usd"`

	Db DbConfig

	MetricsEndpoint string        `env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"30s"`

	RelayEnabled      bool          `env:"RELAY_ENABLED" envDefault:"true"`
	RelayTick         time.Duration `env:"RELAY_TICK" envDefault:"10s"`
	RelayBatchSize    int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
	RelayTopic        string        `env:"RELAY_PUBSUB_TOPIC"`
	ArchiveEnabled    bool          `env:"RELAY_ARCHIVE_ENABLED" envDefault:"false"`
	ArchiveBucket     string        `env:"RELAY_ARCHIVE_BUCKET"`
	IpfsAddr          string        `env:"IPFS_ADDR"`
	ClaimWorkers      int           `env:"CLAIM_WORKERS" envDefault:"10"`
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"5m"`

	DiscordAlertWebhook string `env:"DISCORD_ALERT_WEBHOOK"`
	DiscordTestWebhook  string `env:"DISCORD_TEST_WEBHOOK"`
}

type DbConfig struct {
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME" envDefault:"commitments"`
	Username string `env:"DB_USERNAME"`
	Password string `env:"DB_PASSWORD"`
}

// Url is empty when no database host is configured, in which case the ledger keeps its records in memory.
func (c DbConfig) Url() string {
	if len(c.Host) == 0 {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.Username, c.Password, c.Host, c.Port, c.Name)
}

type ValueSource struct {
	Name    string
	Spender string
}

func Load() (*Config, error) {
	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.RelayBatchSize <= 0 {
		return nil, fmt.Errorf("config: relay batch size must be positive, got %d", cfg.RelayBatchSize)
	}
	if cfg.ArchiveEnabled && len(cfg.ArchiveBucket) == 0 {
		cfg.ArchiveBucket = fmt.Sprintf("commitments-%s-events", cfg.Env)
	}
	if _, err := cfg.Sources(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sources parses ValueSources. A source without an explicit spender is spent by the deployer.
func (c *Config) Sources() ([]ValueSource, error) {
	sources := make([]ValueSource, 0, len(c.ValueSources))
	for _, entry := range c.ValueSources {
		name, spender, found := strings.Cut(strings.TrimSpace(entry), ":")
		if len(name) == 0 {
			return nil, fmt.Errorf("config: empty value source in %q", strings.Join(c.ValueSources, ","))
		}
		if !found || len(spender) == 0 {
			spender = c.Deployer
		}
		sources = append(sources, ValueSource{name, spender})
	}
	return sources, nil
}
