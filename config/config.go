package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals yaml scalars like "30s" or "500ms" into a
// time.Duration value.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Fixflow   FixflowConfig   `yaml:"fixflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Session   SessionConfig   `yaml:"session"`
	Accounts  []AccountConfig `yaml:"accounts"`
	Engine    EngineConfig    `yaml:"engine"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Publisher PublisherConfig `yaml:"publisher"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type FixflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	InboundBuffer int `yaml:"inbound_buffer"`
	StreamBuffer  int `yaml:"stream_buffer"`
}

// SessionConfig holds the venue endpoints shared by every account. The
// quote and trade streams run on separate TCP ports of the same host.
type SessionConfig struct {
	Host         string   `yaml:"host"`
	QuotePort    int      `yaml:"quote_port"`
	TradePort    int      `yaml:"trade_port"`
	TargetCompID string   `yaml:"target_comp_id"`
	HeartbeatSec int      `yaml:"heartbeat_sec"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	ProbeAddr    string   `yaml:"probe_addr"`
	MaxBackoff   Duration `yaml:"max_backoff"`
}

// AccountConfig identifies one venue account. Account is the dotted
// sender identifier, e.g. "demo.broker.3001234"; the numeric login is
// its last segment.
type AccountConfig struct {
	Name     string `yaml:"name"`
	Account  string `yaml:"account"`
	Password string `yaml:"password"`
	Currency string `yaml:"currency"`
}

// Login returns the numeric login segment of the dotted account string.
func (a AccountConfig) Login() string {
	parts := strings.Split(a.Account, ".")
	return parts[len(parts)-1]
}

type EngineConfig struct {
	Symbols      []string `yaml:"symbols"`
	DepthSymbols []string `yaml:"depth_symbols"`
	AwaitTimeout Duration `yaml:"await_timeout"`
}

type RateLimitConfig struct {
	OrdersPerSecond int `yaml:"orders_per_second"`
	BurstSize       int `yaml:"burst_size"`
}

type RecorderConfig struct {
	Enabled       bool     `yaml:"enabled"`
	FlushInterval Duration `yaml:"flush_interval"`
	RowGroupSize  int64    `yaml:"row_group_size"`
}

type PublisherConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchTimeout Duration `yaml:"batch_timeout"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	EnvironmentDemo:    "config/config.demo.yml",
	EnvironmentStaging: "config/config.staging.yml",
	EnvironmentLive:    "config/config.live.yml",
}

// ResolvePath picks the configuration file for the current FIXFLOW_ENV
// when the caller did not ask for a specific one.
func ResolvePath(path string) string {
	return resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Session: SessionConfig{
			TargetCompID: "CSERVER",
			HeartbeatSec: 30,
			DialTimeout:  Duration(10 * time.Second),
			MaxBackoff:   Duration(30 * time.Second),
		},
		Engine: EngineConfig{
			AwaitTimeout: Duration(5 * time.Second),
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	// Account passwords usually arrive through the environment rather
	// than the YAML file.
	if v := os.Getenv("FIX_PASSWORD"); v != "" {
		for i := range config.Accounts {
			if config.Accounts[i].Password == "" {
				config.Accounts[i].Password = strings.TrimSpace(v)
			}
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Fixflow.Name == "" {
		return fmt.Errorf("fixflow.name is required")
	}

	if cfg.Fixflow.Version == "" {
		return fmt.Errorf("fixflow.version is required")
	}

	if cfg.Channels.InboundBuffer <= 0 {
		return fmt.Errorf("channels.inbound_buffer must be greater than 0")
	}
	if cfg.Channels.StreamBuffer <= 0 {
		return fmt.Errorf("channels.stream_buffer must be greater than 0")
	}

	if cfg.Session.Host == "" {
		return fmt.Errorf("session.host is required")
	}
	if cfg.Session.QuotePort <= 0 || cfg.Session.TradePort <= 0 {
		return fmt.Errorf("session.quote_port and session.trade_port must be greater than 0")
	}
	if cfg.Session.HeartbeatSec <= 0 {
		return fmt.Errorf("session.heartbeat_sec must be greater than 0")
	}

	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	live := IsLive(Environment())
	for _, acc := range cfg.Accounts {
		if acc.Name == "" {
			return fmt.Errorf("accounts[].name is required")
		}
		if !isValidAccount(acc.Account) {
			return fmt.Errorf("account '%s' is invalid; expected a dotted identifier ending in a numeric login", acc.Account)
		}
		if acc.Password == "" {
			return fmt.Errorf("account '%s' has no password (set it in the file or via FIX_PASSWORD)", acc.Account)
		}
		if live && strings.HasPrefix(strings.ToLower(acc.Account), "demo.") {
			return fmt.Errorf("account '%s' is a demo account; a live deployment cannot trade it", acc.Account)
		}
	}

	if cfg.RateLimit.OrdersPerSecond < 0 || cfg.RateLimit.BurstSize < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	if cfg.Recorder.Enabled {
		if cfg.Recorder.FlushInterval <= 0 {
			return fmt.Errorf("recorder.flush_interval must be greater than 0 when the recorder is enabled")
		}
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("recorder requires storage.s3 to be enabled")
		}
	}

	if cfg.Publisher.Enabled {
		if len(cfg.Publisher.Brokers) == 0 {
			return fmt.Errorf("publisher.brokers is required when the publisher is enabled")
		}
		if cfg.Publisher.Topic == "" {
			return fmt.Errorf("publisher.topic is required when the publisher is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var accountRegexp = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z0-9_-]+)*\.[0-9]+$`)

func isValidAccount(account string) bool {
	return accountRegexp.MatchString(strings.ToLower(account))
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
