package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherIconURL    string
	WeatherAPILang    string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend string // "in_memory", "memcached", "redis" or "none"
	CacheTTL     time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisDialTimeout time.Duration

	HistoryDriver string // "sqlite" or "postgres"
	HistoryDSN    string
	HistoryLimit  int

	CityMinLength int
	CityMaxLength int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		IconURL string `yaml:"icon_url"`
		Lang    string `yaml:"lang"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr        string `yaml:"addr"`
			Password    string `yaml:"password"`
			DB          int    `yaml:"db"`
			DialTimeout string `yaml:"dial_timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	History struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Limit  int    `yaml:"limit"`
	} `yaml:"history"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	RedisPassword string `yaml:"redis_password"`
	HistoryDSN    string `yaml:"history_dsn"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from WEATHER_API_KEY (or OWM_API_KEY) env or the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(filepath.Join(cwd, "config"))
}

// LoadFrom is Load with an explicit config directory.
func LoadFrom(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), os.Getenv("OWM_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherIconURL = firstNonEmpty(fc.WeatherAPI.IconURL, "https://openweathermap.org/img/wn/%s@2x.png")
	cfg.WeatherAPILang = firstNonEmpty(strings.TrimSpace(fc.WeatherAPI.Lang), "en")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = firstNonEmpty(
		normalize(os.Getenv("CACHE_BACKEND")),
		normalize(fc.Cache.Backend),
		"in_memory",
	)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)

	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = firstNonEmpty(
		strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		strings.TrimSpace(fc.Cache.Redis.Addr),
		"localhost:6379",
	)
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword, fc.Cache.Redis.Password)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisDialTimeout = parseDuration(fc.Cache.Redis.DialTimeout, 3*time.Second)

	cfg.HistoryDriver = firstNonEmpty(
		normalize(os.Getenv("HISTORY_DRIVER")),
		normalize(fc.History.Driver),
		"sqlite",
	)
	cfg.HistoryDSN = firstNonEmpty(os.Getenv("HISTORY_DSN"), sec.HistoryDSN, fc.History.DSN)
	if cfg.HistoryDSN == "" && cfg.HistoryDriver == "sqlite" {
		cfg.HistoryDSN = "weather.db"
	}
	cfg.HistoryLimit = fc.History.Limit
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 5
	}

	cfg.CityMinLength = fc.Validation.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 1
	}
	cfg.CityMaxLength = fc.Validation.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations come back as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validate checks cross-field constraints. RequestTimeout is raised above WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + 5*time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis", "none":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached, redis or none, got %q", cfg.CacheBackend)
	}
	switch cfg.HistoryDriver {
	case "sqlite":
	case "postgres":
		if cfg.HistoryDSN == "" {
			return fmt.Errorf("history.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("history.driver must be sqlite or postgres, got %q", cfg.HistoryDriver)
	}
	if cfg.HistoryLimit < 1 || cfg.HistoryLimit > 100 {
		return fmt.Errorf("history.limit must be between 1 and 100, got %d", cfg.HistoryLimit)
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("validation.city_min_length (%d) exceeds city_max_length (%d)", cfg.CityMinLength, cfg.CityMaxLength)
	}
	return nil
}
