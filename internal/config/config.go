package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix prefixes every environment override, e.g. OUTREACH_MYSQL_DSN.
const EnvPrefix = "OUTREACH"

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Platform   PlatformConfig  `mapstructure:"platform"`
	Pacing     PacingConfig    `mapstructure:"pacing"`
	Runner     RunnerConfig    `mapstructure:"runner"`
	Reclaim    ReclaimConfig   `mapstructure:"reclaim"`
	Worker     WorkerConfig    `mapstructure:"worker"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json|console
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	Topic          string   `mapstructure:"topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// RateLimitConfig throttles the HTTP API per owner.
type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

// PlatformConfig points at the bridge that holds the account sessions.
type PlatformConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	RPS       int           `mapstructure:"rps"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type PacingConfig struct {
	Invite KindPacing `mapstructure:"invite"`
	Send   KindPacing `mapstructure:"send"`
}

// KindPacing tunes the adaptive controller for one operation kind.
type KindPacing struct {
	MinInterval          time.Duration `mapstructure:"min_interval"`
	MaxInterval          time.Duration `mapstructure:"max_interval"`
	SpeedupStreak        int           `mapstructure:"speedup_streak"`
	SpeedupFactor        float64       `mapstructure:"speedup_factor"`
	SlowdownMin          float64       `mapstructure:"slowdown_min"`
	SlowdownMax          float64       `mapstructure:"slowdown_max"`
	CountsTowardDailyCap bool          `mapstructure:"counts_toward_daily_cap"`
}

type RunnerConfig struct {
	MaxBatch     int           `mapstructure:"max_batch"`
	MaxTokenWait time.Duration `mapstructure:"max_token_wait"`
	HardStopWait time.Duration `mapstructure:"hard_stop_wait"`
	Jitter       time.Duration `mapstructure:"jitter"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

type ReclaimConfig struct {
	Schedule   string        `mapstructure:"schedule"` // cron spec or @every descriptor
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (OUTREACH_*, with dots in keys replaced by underscores).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
