package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env, and environment.
type Config struct {
	ServerPort     string        `validate:"required"`
	RequestTimeout time.Duration `validate:"gt=0"`

	WeatherAPIKey   string        `validate:"required"`
	WeatherAPIURL   string        `validate:"required,url"`
	ExternalTimeout time.Duration `validate:"gt=0"`
	ProbePlace      string        `validate:"required"`

	CacheTTL time.Duration `validate:"gt=0"`

	BreakerThreshold    int           `validate:"gt=0"`
	BreakerResetTimeout time.Duration `validate:"gt=0"`

	ProviderMode string `validate:"oneof=local aws"`

	LocalStoragePath string `validate:"required_if=ProviderMode local"`
	LocalDBPath      string `validate:"required_if=ProviderMode local"`

	S3Endpoint  string `validate:"required_if=ProviderMode aws"`
	S3Bucket    string `validate:"required_if=ProviderMode aws"`
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	AWSRegion   string `validate:"required_if=ProviderMode aws"`
	DynamoTable string `validate:"required_if=ProviderMode aws"`

	RateLimitRPS   int `validate:"gt=0"`
	RateLimitBurst int `validate:"gt=0"`

	ShutdownTimeout time.Duration `validate:"gt=0"`

	AuditRetentionDays int           `validate:"gt=0"`
	PurgeInterval      time.Duration `validate:"gt=0"`

	LogLevel string
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		ProbePlace     string `yaml:"probe_place"`
	} `yaml:"weather_api"`

	Cache struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"cache"`

	CircuitBreaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		ResetSeconds     int `yaml:"reset_seconds"`
	} `yaml:"circuit_breaker"`

	Provider struct {
		Mode  string `yaml:"mode"`
		Local struct {
			StoragePath string `yaml:"storage_path"`
			DBPath      string `yaml:"db_path"`
		} `yaml:"local"`
		S3 struct {
			Endpoint string `yaml:"endpoint"`
			Bucket   string `yaml:"bucket"`
			Prefix   string `yaml:"prefix"`
			UseSSL   *bool  `yaml:"use_ssl"`
		} `yaml:"s3"`
		AWS struct {
			Region      string `yaml:"region"`
			DynamoTable string `yaml:"dynamodb_table"`
		} `yaml:"aws"`
	} `yaml:"provider"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Retention struct {
		AuditDays     int    `yaml:"audit_days"`
		PurgeInterval string `yaml:"purge_interval"`
	} `yaml:"retention"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	S3AccessKey   string `yaml:"s3_access_key"`
	S3SecretKey   string `yaml:"s3_secret_key"`
}

var structValidator = validator.New()

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), a .env
// file if present, and environment variables. Env values override file values.
// The config file is optional; a missing file means env-plus-defaults. The API
// key comes from WEATHER_API_KEY env or config/secrets.yaml. Call from project
// root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// Env-only deployment; defaults fill the rest.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	secrets, err := loadSecrets(cwd)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = getenvDefault("SERVER_PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		cfg.WeatherAPIKey = secrets.WeatherAPIKey
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = getenvDefault("WEATHER_API_URL", fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.ExternalTimeout = secondsOrDefault(getenvInt("EXTERNAL_TIMEOUT_SECONDS", fc.WeatherAPI.TimeoutSeconds), 30*time.Second)
	cfg.ProbePlace = fc.WeatherAPI.ProbePlace
	if cfg.ProbePlace == "" {
		cfg.ProbePlace = "London"
	}

	cfg.CacheTTL = minutesOrDefault(getenvInt("CACHE_TTL_MINUTES", fc.Cache.TTLMinutes), 5*time.Minute)

	cfg.BreakerThreshold = getenvInt("CIRCUIT_BREAKER_THRESHOLD", fc.CircuitBreaker.FailureThreshold)
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	cfg.BreakerResetTimeout = secondsOrDefault(getenvInt("CIRCUIT_BREAKER_RESET_SECONDS", fc.CircuitBreaker.ResetSeconds), 60*time.Second)

	cfg.ProviderMode = strings.TrimSpace(strings.ToLower(os.Getenv("PROVIDER_MODE")))
	if cfg.ProviderMode == "" {
		cfg.ProviderMode = strings.TrimSpace(strings.ToLower(fc.Provider.Mode))
	}
	if cfg.ProviderMode == "" {
		cfg.ProviderMode = "local"
	}

	cfg.LocalStoragePath = getenvDefault("LOCAL_STORAGE_PATH", fc.Provider.Local.StoragePath)
	if cfg.LocalStoragePath == "" {
		cfg.LocalStoragePath = "./data/weather_files"
	}
	cfg.LocalDBPath = getenvDefault("LOCAL_DB_PATH", fc.Provider.Local.DBPath)
	if cfg.LocalDBPath == "" {
		cfg.LocalDBPath = "./data/weather_events.db"
	}

	cfg.S3Endpoint = getenvDefault("S3_ENDPOINT", fc.Provider.S3.Endpoint)
	if cfg.S3Endpoint == "" {
		cfg.S3Endpoint = "s3.amazonaws.com"
	}
	cfg.S3Bucket = getenvDefault("S3_BUCKET", fc.Provider.S3.Bucket)
	cfg.S3Prefix = getenvDefault("S3_PREFIX", fc.Provider.S3.Prefix)
	if cfg.S3Prefix == "" {
		cfg.S3Prefix = "weather-data"
	}
	cfg.S3AccessKey = getenvDefault("S3_ACCESS_KEY", secrets.S3AccessKey)
	cfg.S3SecretKey = getenvDefault("S3_SECRET_KEY", secrets.S3SecretKey)
	cfg.S3UseSSL = true
	if fc.Provider.S3.UseSSL != nil {
		cfg.S3UseSSL = *fc.Provider.S3.UseSSL
	}
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid S3_USE_SSL: %w", err)
		}
		cfg.S3UseSSL = b
	}

	cfg.AWSRegion = getenvDefault("AWS_REGION", fc.Provider.AWS.Region)
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	cfg.DynamoTable = getenvDefault("DYNAMODB_TABLE", fc.Provider.AWS.DynamoTable)
	if cfg.DynamoTable == "" {
		cfg.DynamoTable = "weather_events"
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 35*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.AuditRetentionDays = getenvInt("AUDIT_RETENTION_DAYS", fc.Retention.AuditDays)
	if cfg.AuditRetentionDays <= 0 {
		cfg.AuditRetentionDays = 30
	}
	cfg.PurgeInterval = parseDuration(fc.Retention.PurgeInterval, 10*time.Minute)

	cfg.LogLevel = getenvDefault("LOG_LEVEL", fc.Logging.Level)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(cwd string) (secretsFile, error) {
	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func secondsOrDefault(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func minutesOrDefault(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Minute
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. The request timeout is auto-adjusted
// to exceed the external call timeout so the outer deadline never fires first.
// Struct tag violations are collected into a single error listing every field.
func validate(cfg *Config) error {
	if cfg.RequestTimeout <= cfg.ExternalTimeout {
		cfg.RequestTimeout = cfg.ExternalTimeout + 5*time.Second
	}
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}
