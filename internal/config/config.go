package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddress string `mapstructure:"LISTEN_ADDRESS"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`

	// Storage. Driver is "sqlite" or "postgres"; DatabaseDSN is the sqlite
	// file path or the postgres connection string.
	DatabaseDriver string `mapstructure:"DB_DRIVER"`
	DatabaseDSN    string `mapstructure:"DB_DSN"`

	// DNS provider credentials.
	CloudflareAPIToken  string `mapstructure:"CLOUDFLARE_API_TOKEN"`
	CloudflareAccountID string `mapstructure:"CLOUDFLARE_ACCOUNT_ID"`
	CloudflareBaseURL   string `mapstructure:"CLOUDFLARE_BASE_URL"`

	// Claiming limits.
	DefaultRootDomain   string `mapstructure:"DEFAULT_ROOT_DOMAIN"`
	MaxDomainsPerOwner  int    `mapstructure:"MAX_DOMAINS_PER_OWNER"`
	MaxRecordsPerDomain int    `mapstructure:"MAX_RECORDS_PER_DOMAIN"`

	// Reconciler tuning.
	WorkerCount      int           `mapstructure:"WORKER_COUNT"`
	PollInterval     time.Duration `mapstructure:"POLL_INTERVAL"`
	MaxRetries       int           `mapstructure:"MAX_RETRIES"`
	RetryBackoffBase time.Duration `mapstructure:"RETRY_BACKOFF_BASE"`
	RetryBackoffMax  time.Duration `mapstructure:"RETRY_BACKOFF_MAX"`
	JobExecTimeout   time.Duration `mapstructure:"JOB_EXEC_TIMEOUT"`
	JobRetention     time.Duration `mapstructure:"JOB_RETENTION"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LISTEN_ADDRESS", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_DSN", "doofs.db")
	viper.SetDefault("CLOUDFLARE_BASE_URL", "https://api.cloudflare.com/client/v4")
	viper.SetDefault("DEFAULT_ROOT_DOMAIN", "doofs.tech")
	viper.SetDefault("MAX_DOMAINS_PER_OWNER", 5)
	viper.SetDefault("MAX_RECORDS_PER_DOMAIN", 50)
	viper.SetDefault("WORKER_COUNT", 2)
	viper.SetDefault("POLL_INTERVAL", time.Second)
	viper.SetDefault("MAX_RETRIES", 5)
	viper.SetDefault("RETRY_BACKOFF_BASE", 30*time.Second)
	viper.SetDefault("RETRY_BACKOFF_MAX", 15*time.Minute)
	viper.SetDefault("JOB_EXEC_TIMEOUT", 2*time.Minute)
	viper.SetDefault("JOB_RETENTION", 24*time.Hour)

	viper.SetEnvPrefix("DOOFS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Support fallback loading from a .env file during development.
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
