package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string        `yaml:"http_addr"`
	Database    DBConfig      `yaml:"database"`
	Logs        LogsConfig    `yaml:"logs"`
	RulesPath   string        `yaml:"rules_path"`
	UsersPath   string        `yaml:"users_path"`
	JWTSecret   string        `yaml:"jwt_secret"`
	IngestToken string        `yaml:"ingest_token"`
	IDs         IDConfig      `yaml:"ids"`
	Detection   DetectConfig  `yaml:"detection"`
	Escalation  EscConfig     `yaml:"escalation"`
	Logging     LoggingConfig `yaml:"logging"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogsConfig struct {
	Dir        string `yaml:"dir"`
	SensorFile string `yaml:"sensor_file"`
}

// IDConfig selects where the incident sequence lives: "store" keeps it in
// the incident database, "redis" in a Redis key.
type IDConfig struct {
	Prefix        string `yaml:"prefix"`
	Counter       string `yaml:"counter"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

type DetectConfig struct {
	// Interval of zero disables the periodic directory scan.
	Interval    time.Duration `yaml:"interval"`
	DedupWindow time.Duration `yaml:"dedup_window"`
}

type EscConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

const (
	CounterStore = "store"
	CounterRedis = "redis"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load builds the configuration from defaults, then the YAML file at path
// (SOCWATCH_CONFIG when path is empty; skipped when both are empty), then
// SOCWATCH_* environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SOCWATCH_CONFIG")
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		Database: DBConfig{Driver: "sqlite", DSN: "socwatch.db"},
		Logs:     LogsConfig{Dir: "logs", SensorFile: "sensor_data.log"},
		IDs: IDConfig{
			Prefix:    "INC",
			Counter:   CounterStore,
			RedisAddr: "127.0.0.1:6379",
			RedisKey:  "socwatch:incident_seq",
		},
		Detection:  DetectConfig{Interval: 30 * time.Second, DedupWindow: 15 * time.Minute},
		Escalation: EscConfig{Interval: 45 * time.Second},
		Logging:    LoggingConfig{Level: "info"},
		JWTSecret:  "dev-secret-change-me",
	}
}

func applyEnvOverrides(cfg *Config) error {
	cfg.HTTPAddr = getenv("SOCWATCH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Database.Driver = getenv("SOCWATCH_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getenv("SOCWATCH_DB_DSN", cfg.Database.DSN)
	cfg.Logs.Dir = getenv("SOCWATCH_LOGS_DIR", cfg.Logs.Dir)
	cfg.Logs.SensorFile = getenv("SOCWATCH_SENSOR_FILE", cfg.Logs.SensorFile)
	cfg.RulesPath = getenv("SOCWATCH_RULES_PATH", cfg.RulesPath)
	cfg.UsersPath = getenv("SOCWATCH_USERS_PATH", cfg.UsersPath)
	cfg.JWTSecret = getenv("SOCWATCH_JWT_SECRET", cfg.JWTSecret)
	cfg.IngestToken = getenv("SOCWATCH_INGEST_TOKEN", cfg.IngestToken)
	cfg.IDs.Prefix = getenv("SOCWATCH_ID_PREFIX", cfg.IDs.Prefix)
	cfg.IDs.Counter = getenv("SOCWATCH_ID_COUNTER", cfg.IDs.Counter)
	cfg.IDs.RedisAddr = getenv("SOCWATCH_REDIS_ADDR", cfg.IDs.RedisAddr)
	cfg.IDs.RedisPassword = getenv("SOCWATCH_REDIS_PASSWORD", cfg.IDs.RedisPassword)
	cfg.IDs.RedisKey = getenv("SOCWATCH_REDIS_KEY", cfg.IDs.RedisKey)
	cfg.Logging.Level = getenv("SOCWATCH_LOG_LEVEL", cfg.Logging.Level)
	if v := os.Getenv("SOCWATCH_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := os.Getenv("SOCWATCH_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SOCWATCH_REDIS_DB: %w", err)
		}
		cfg.IDs.RedisDB = n
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SOCWATCH_ESCALATION_INTERVAL", &cfg.Escalation.Interval},
		{"SOCWATCH_DETECTION_INTERVAL", &cfg.Detection.Interval},
		{"SOCWATCH_DEDUP_WINDOW", &cfg.Detection.DedupWindow},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Escalation.Interval <= 0 {
		errs = append(errs, errors.New("escalation.interval must be positive"))
	}
	if c.Detection.Interval < 0 {
		errs = append(errs, errors.New("detection.interval must not be negative"))
	}
	if c.Detection.DedupWindow < 0 {
		errs = append(errs, errors.New("detection.dedup_window must not be negative"))
	}
	switch c.IDs.Counter {
	case CounterStore, CounterRedis:
	default:
		errs = append(errs, fmt.Errorf("ids.counter must be %q or %q, got %q", CounterStore, CounterRedis, c.IDs.Counter))
	}
	if strings.TrimSpace(c.IDs.Prefix) == "" {
		errs = append(errs, errors.New("ids.prefix must not be empty"))
	}
	if strings.Contains(c.IDs.Prefix, "-") {
		errs = append(errs, errors.New("ids.prefix must not contain '-'"))
	}
	return errors.Join(errs...)
}
