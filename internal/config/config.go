package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	StorefrontHost string `mapstructure:"STOREFRONT_HOST"`
	BrowserEngine  string `mapstructure:"BROWSER_ENGINE"`
	ChromeBin      string `mapstructure:"CHROME_BIN"`
	Headless       bool   `mapstructure:"HEADLESS"`
	UserAgent      string `mapstructure:"USER_AGENT"`
	Proxies        string `mapstructure:"PROXIES"`

	CrawlWorkers      int `mapstructure:"CRAWL_WORKERS"`
	LocaleTimeout     int `mapstructure:"LOCALE_TIMEOUT"`     // seconds
	NavigationTimeout int `mapstructure:"NAVIGATION_TIMEOUT"` // seconds
	ReadinessTimeout  int `mapstructure:"READINESS_TIMEOUT"`  // seconds
	PollIntervalMS    int `mapstructure:"POLL_INTERVAL_MS"`
	SettleDelayMS     int `mapstructure:"SETTLE_DELAY_MS"`
	CloseGrace        int `mapstructure:"CLOSE_GRACE"`     // seconds
	RequestTimeout    int `mapstructure:"REQUEST_TIMEOUT"` // seconds
	MaxLocales        int `mapstructure:"MAX_LOCALES"`

	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	CacheTTLMinutes int    `mapstructure:"CACHE_TTL_MINUTES"`
	PostgresURL     string `mapstructure:"POSTGRES_URL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	AllowedOrigins string  `mapstructure:"ALLOWED_ORIGINS"`
}

// Load reads configuration from .env in the working directory and the
// environment. Environment variables win.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Production deployments configure purely through the environment.
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STOREFRONT_HOST", "apps.apple.com")
	v.SetDefault("BROWSER_ENGINE", "chromedp")
	v.SetDefault("CHROME_BIN", "")
	v.SetDefault("HEADLESS", true)
	v.SetDefault("USER_AGENT", "")
	v.SetDefault("PROXIES", "")
	v.SetDefault("CRAWL_WORKERS", 1)
	v.SetDefault("LOCALE_TIMEOUT", 30)
	v.SetDefault("NAVIGATION_TIMEOUT", 60)
	v.SetDefault("READINESS_TIMEOUT", 10)
	v.SetDefault("POLL_INTERVAL_MS", 100)
	v.SetDefault("SETTLE_DELAY_MS", 500)
	v.SetDefault("CLOSE_GRACE", 5)
	v.SetDefault("REQUEST_TIMEOUT", 300)
	v.SetDefault("MAX_LOCALES", 25)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("CACHE_TTL_MINUTES", 60)
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("ALLOWED_ORIGINS", "*")
}

func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("SERVER_PORT must not be empty"))
	}
	if c.StorefrontHost == "" {
		errs = append(errs, errors.New("STOREFRONT_HOST must not be empty"))
	}
	if c.CrawlWorkers < 1 {
		errs = append(errs, fmt.Errorf("CRAWL_WORKERS must be at least 1, got %d", c.CrawlWorkers))
	}
	if c.LocaleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LOCALE_TIMEOUT must be positive, got %d", c.LocaleTimeout))
	}
	if c.MaxLocales < 1 {
		errs = append(errs, fmt.Errorf("MAX_LOCALES must be at least 1, got %d", c.MaxLocales))
	}
	if c.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.PollIntervalMS))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) LocaleTimeoutDuration() time.Duration {
	return time.Duration(c.LocaleTimeout) * time.Second
}

func (c *Config) NavigationTimeoutDuration() time.Duration {
	return time.Duration(c.NavigationTimeout) * time.Second
}

func (c *Config) ReadinessTimeoutDuration() time.Duration {
	return time.Duration(c.ReadinessTimeout) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

func (c *Config) CloseGraceDuration() time.Duration {
	return time.Duration(c.CloseGrace) * time.Second
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// fetchOverhead covers cache lookups and snapshot persistence around a run.
const fetchOverhead = 15 * time.Second

// FetchDeadline bounds one extraction request for the given number of
// locales so that each locale still gets its full LOCALE_TIMEOUT and
// CLOSE_GRACE, CRAWL_WORKERS at a time. REQUEST_TIMEOUT is the floor.
func (c *Config) FetchDeadline(locales int) time.Duration {
	workers := max(c.CrawlWorkers, 1)
	rounds := (max(locales, 1) + workers - 1) / workers
	d := time.Duration(rounds)*(c.LocaleTimeoutDuration()+c.CloseGraceDuration()) + fetchOverhead
	return max(d, c.RequestTimeoutDuration())
}

// ShutdownTimeout is long enough for the largest accepted request to finish.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.FetchDeadline(c.MaxLocales)
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// ProxyList splits PROXIES on commas.
func (c *Config) ProxyList() []string {
	return splitList(c.Proxies)
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
