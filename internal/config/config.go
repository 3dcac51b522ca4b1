// Package config loads application configuration from file, environment,
// and defaults, and initializes logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// Config holds all application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Store        StoreConfig        `mapstructure:"store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Bus          BusConfig          `mapstructure:"bus"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Hunter       HunterConfig       `mapstructure:"hunter"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// StoreConfig contains persistence settings. An empty DSN selects the
// in-memory store.
type StoreConfig struct {
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains optional snapshot-cache settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"` // empty disables the cache
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// BusConfig contains message bus settings. With Embedded set the process
// runs its own NATS server and URL is ignored.
type BusConfig struct {
	Embedded  bool   `mapstructure:"embedded"`
	URL       string `mapstructure:"url"`
	InboxSize int    `mapstructure:"inbox_size"`
}

// OrchestratorConfig contains strategic-cycle settings.
type OrchestratorConfig struct {
	CycleInterval     time.Duration `mapstructure:"cycle_interval"`
	CycleSoftDeadline time.Duration `mapstructure:"cycle_soft_deadline"`
	AgentHookTimeout  time.Duration `mapstructure:"agent_hook_timeout"`
}

// HunterConfig contains market-hunter settings.
type HunterConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	MaxSources      int           `mapstructure:"max_sources"`
	ExplorationRate float64       `mapstructure:"exploration_rate"`
	MinConfidence   float64       `mapstructure:"min_confidence"`
	LearningRate    float64       `mapstructure:"learning_rate"`
	PolicyFile      string        `mapstructure:"policy_file"`
	Seed            int64         `mapstructure:"seed"` // 0 seeds from time
}

// ProvidersConfig contains external data-provider settings.
type ProvidersConfig struct {
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	NewsAPIKey        string        `mapstructure:"news_api_key"`
	MarketAPIKey      string        `mapstructure:"market_api_key"`
	DerivativesAPIKey string        `mapstructure:"derivatives_api_key"`
	PriceURL          string        `mapstructure:"price_url"`
	NewsURL           string        `mapstructure:"news_url"`
	WhaleURL          string        `mapstructure:"whale_url"`
	FearGreedURL      string        `mapstructure:"fear_greed_url"`
	TreasuryURL       string        `mapstructure:"treasury_url"`
	RatePerMinute     int           `mapstructure:"rate_per_minute"`
}

// MonitoringConfig contains Prometheus settings.
type MonitoringConfig struct {
	MetricsPort   int  `mapstructure:"metrics_port"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load reads configuration from an optional file, environment variables,
// and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("BTCINTEL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if configPath != "" {
				// An explicitly named file that is missing or broken is fatal.
				return nil, fmt.Errorf("%w: reading config file: %v", models.ErrConfig, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", models.ErrConfig, err)
	}

	applyBareEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyBareEnv applies the unprefixed environment variables the system
// recognizes alongside the BTCINTEL_-prefixed ones.
func applyBareEnv(cfg *Config) {
	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if k := os.Getenv("NEWS_API_KEY"); k != "" {
		cfg.Providers.NewsAPIKey = k
	}
	if k := os.Getenv("MARKET_API_KEY"); k != "" {
		cfg.Providers.MarketAPIKey = k
	}
	if k := os.Getenv("DERIVATIVES_API_KEY"); k != "" {
		cfg.Providers.DerivativesAPIKey = k
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.App.LogLevel = lvl
	}
	if s := os.Getenv("CYCLE_INTERVAL_SECONDS"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			cfg.Orchestrator.CycleInterval = time.Duration(secs) * time.Second
		}
	}
	if s := os.Getenv("HUNTER_INTERVAL_SECONDS"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			cfg.Hunter.Interval = time.Duration(secs) * time.Second
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "btcintel")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")

	v.SetDefault("store.dsn", "")
	v.SetDefault("store.pool_size", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "60s")

	v.SetDefault("bus.embedded", true)
	v.SetDefault("bus.url", "nats://localhost:4222")
	v.SetDefault("bus.inbox_size", 64)

	v.SetDefault("orchestrator.cycle_interval", "10m")
	v.SetDefault("orchestrator.cycle_soft_deadline", "120s")
	v.SetDefault("orchestrator.agent_hook_timeout", "2s")

	v.SetDefault("hunter.interval", "10m")
	v.SetDefault("hunter.error_backoff", "60s")
	v.SetDefault("hunter.max_sources", 5)
	v.SetDefault("hunter.exploration_rate", 0.2)
	v.SetDefault("hunter.min_confidence", 0.6)
	v.SetDefault("hunter.learning_rate", 0.1)
	v.SetDefault("hunter.policy_file", "")
	v.SetDefault("hunter.seed", 0)

	v.SetDefault("providers.fetch_timeout", "5s")
	v.SetDefault("providers.price_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.news_url", "https://newsapi.org/v2")
	v.SetDefault("providers.whale_url", "https://blockchain.info")
	v.SetDefault("providers.fear_greed_url", "https://api.alternative.me/fng/")
	v.SetDefault("providers.treasury_url", "https://api.bitcointreasuries.net/v1")
	v.SetDefault("providers.rate_per_minute", 30)

	v.SetDefault("monitoring.metrics_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Orchestrator.CycleInterval <= 0 {
		return fmt.Errorf("%w: cycle_interval must be positive", models.ErrConfig)
	}
	if c.Hunter.Interval <= 0 {
		return fmt.Errorf("%w: hunter interval must be positive", models.ErrConfig)
	}
	if c.Hunter.MaxSources < 1 || c.Hunter.MaxSources > len(models.AllSourceKinds()) {
		return fmt.Errorf("%w: max_sources %d outside [1,%d]",
			models.ErrConfig, c.Hunter.MaxSources, len(models.AllSourceKinds()))
	}
	if c.Hunter.ExplorationRate < 0 || c.Hunter.ExplorationRate > 1 {
		return fmt.Errorf("%w: exploration_rate %.2f outside [0,1]",
			models.ErrConfig, c.Hunter.ExplorationRate)
	}
	if c.Hunter.MinConfidence < 0 || c.Hunter.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence %.2f outside [0,1]",
			models.ErrConfig, c.Hunter.MinConfidence)
	}
	if c.Hunter.LearningRate <= 0 || c.Hunter.LearningRate > 1 {
		return fmt.Errorf("%w: learning_rate %.2f outside (0,1]",
			models.ErrConfig, c.Hunter.LearningRate)
	}
	return nil
}
