package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Arbflow   ArbflowConfig   `yaml:"arbflow"`
	Logging   LoggingConfig   `yaml:"logging"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Source    SourceConfig    `yaml:"source"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type ArbflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

type ReaderConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	Backoff           BackoffConfig `yaml:"backoff"`
}

// BackoffConfig drives the reconnect delay:
// min(attempt, max_attempts) * step + random [0, jitter) in whole seconds.
type BackoffConfig struct {
	Step        time.Duration `yaml:"step"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      time.Duration `yaml:"jitter"`
}

type SourceConfig struct {
	Okx     OkxSourceConfig     `yaml:"okx"`
	Deribit DeribitSourceConfig `yaml:"deribit"`
}

type OkxSourceConfig struct {
	URL     string `yaml:"url"`
	LocalIP string `yaml:"local_ip"`
}

type DeribitSourceConfig struct {
	URL      string `yaml:"url"`
	LocalIP  string `yaml:"local_ip"`
	Depth    int    `yaml:"depth"`
	Interval string `yaml:"interval"`
}

type MetricsConfig struct {
	ListenAddr string           `yaml:"listen_addr"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

// DashboardConfig controls the JSON status server.
type DashboardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	LogHistory     int           `yaml:"log_history"`
	MetricsHistory int           `yaml:"metrics_history"`
}

type CloudWatchConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Region           string  `yaml:"region"`
	Namespace        string  `yaml:"namespace"`
	Dashboard        string  `yaml:"dashboard"`
	PublishPerSecond float64 `yaml:"publish_per_second"`
	AccessKeyID      string  `yaml:"access_key_id"`
	SecretAccessKey  string  `yaml:"secret_access_key"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Arbflow: ArbflowConfig{Name: "arbflow", Version: "0.1.0"},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stderr",
			ReportInterval: 30 * time.Second,
		},
		Channels: ChannelsConfig{EventBuffer: 1024},
		Reader: ReaderConfig{
			HeartbeatInterval: 15 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			Backoff: BackoffConfig{
				Step:        5 * time.Second,
				MaxAttempts: 5,
				Jitter:      5 * time.Second,
			},
		},
		Source: SourceConfig{
			Okx: OkxSourceConfig{URL: "wss://ws.okx.com:8443/ws/v5/public"},
			Deribit: DeribitSourceConfig{
				URL:      "wss://www.deribit.com/ws/api/v2",
				Depth:    20,
				Interval: "100ms",
			},
		},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "Arbflow", Dashboard: "Arbflow", PublishPerSecond: 5},
		},
		Dashboard: DashboardConfig{
			Address:        "127.0.0.1:8080",
			SampleInterval: 5 * time.Second,
			LogHistory:     200,
			MetricsHistory: 200,
		},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault behaves like LoadConfig but falls back to Default when the
// file does not exist and the environment is not production-like.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !IsProductionLike(AppEnvironment()) {
		cfg = Default()
		applyEnv(cfg)
		if err := validateConfig(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}
	return nil, err
}

func applyEnv(config *Config) {
	if v := os.Getenv("OKX_WS_URL"); v != "" {
		config.Source.Okx.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DERIBIT_WS_URL"); v != "" {
		config.Source.Deribit.URL = strings.TrimSpace(v)
	}
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Arbflow.Name == "" {
		return fmt.Errorf("arbflow.name is required")
	}
	if cfg.Channels.EventBuffer < 0 {
		return fmt.Errorf("channels.event_buffer must not be negative")
	}
	if cfg.Reader.HeartbeatInterval <= 0 {
		return fmt.Errorf("reader.heartbeat_interval must be greater than 0")
	}
	if cfg.Reader.Backoff.Step <= 0 {
		return fmt.Errorf("reader.backoff.step must be greater than 0")
	}
	if cfg.Reader.Backoff.MaxAttempts <= 0 {
		return fmt.Errorf("reader.backoff.max_attempts must be greater than 0")
	}
	if cfg.Reader.Backoff.Jitter < 0 {
		return fmt.Errorf("reader.backoff.jitter must not be negative")
	}
	if cfg.Source.Okx.URL == "" {
		return fmt.Errorf("source.okx.url is required")
	}
	if cfg.Source.Deribit.URL == "" {
		return fmt.Errorf("source.deribit.url is required")
	}
	if cfg.Source.Deribit.Depth <= 0 {
		return fmt.Errorf("source.deribit.depth must be greater than 0")
	}
	if cfg.Source.Deribit.Interval == "" {
		return fmt.Errorf("source.deribit.interval is required")
	}
	for name, ip := range map[string]string{"okx": cfg.Source.Okx.LocalIP, "deribit": cfg.Source.Deribit.LocalIP} {
		if ip != "" && net.ParseIP(ip) == nil {
			return fmt.Errorf("source.%s.local_ip '%s' is not a valid IP", name, ip)
		}
	}
	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}
	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}
	return nil
}
