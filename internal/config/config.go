package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// Backend types for StateConfig.Type.
const (
	StateMemory = "memory"
	StateFile   = "file"
	StateSQLite = "sqlite"
	StateRedis  = "redis"
	StateS3     = "s3"
)

// Config is the tracker configuration. Values come from defaults, then an
// optional TOML file, then environment variables.
type Config struct {
	Listen         string          `toml:"listen" env:"TRACKER_LISTEN"`
	UploadDir      string          `toml:"upload_dir" env:"TRACKER_UPLOAD_DIR"`
	MaxUploadBytes int64           `toml:"max_upload_bytes" env:"TRACKER_MAX_UPLOAD_BYTES"`
	Log            LogConfig       `toml:"log"`
	State          StateConfig     `toml:"state"`
	Transport      TransportConfig `toml:"transport"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"TRACKER_LOG_LEVEL"`
	Format string `toml:"format" env:"TRACKER_LOG_FORMAT"` // "pretty" or "json"
}

// StateConfig selects where swarm and content state is persisted.
// Type decides which of the remaining fields are read.
type StateConfig struct {
	Type string `toml:"type" env:"TRACKER_STATE_TYPE"`

	// file and sqlite
	Path string `toml:"path,omitempty" env:"TRACKER_STATE_PATH"`

	// redis
	RedisAddr string `toml:"redis_addr,omitempty" env:"REDIS_ADDR"`
	RedisKey  string `toml:"redis_key,omitempty" env:"TRACKER_STATE_REDIS_KEY"`

	// s3
	S3Bucket   string `toml:"s3_bucket,omitempty" env:"TRACKER_STATE_S3_BUCKET"`
	S3Key      string `toml:"s3_key,omitempty" env:"TRACKER_STATE_S3_KEY"`
	S3Region   string `toml:"s3_region,omitempty" env:"AWS_REGION"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" env:"TRACKER_STATE_S3_ENDPOINT"`
	// Static credentials for S3-compatible stores; AWS_* variables and
	// shared config files are used when these are empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" env:"TRACKER_STATE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" env:"TRACKER_STATE_S3_SECRET_ACCESS_KEY"`
}

type TransportConfig struct {
	WriteTimeout time.Duration `toml:"write_timeout" env:"TRACKER_WRITE_TIMEOUT"`
	PingInterval time.Duration `toml:"ping_interval" env:"TRACKER_PING_INTERVAL"`
	PongTimeout  time.Duration `toml:"pong_timeout" env:"TRACKER_PONG_TIMEOUT"`
	QueueSize    int           `toml:"queue_size" env:"TRACKER_QUEUE_SIZE"`
}

func Default() *Config {
	return &Config{
		Listen:         ":5001",
		UploadDir:      "torrents",
		MaxUploadBytes: 16 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
		State: StateConfig{
			Type:     StateFile,
			Path:     "tracker_state.json",
			RedisKey: "tracker:state",
			S3Key:    "tracker_state.json",
		},
		Transport: TransportConfig{
			WriteTimeout: 10 * time.Second,
			PingInterval: 20 * time.Second,
			PongTimeout:  30 * time.Second,
			QueueSize:    64,
		},
	}
}

// Read decodes TOML from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads the TOML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		cfg, err = Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	switch c.Log.Format {
	case "pretty", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Transport.QueueSize <= 0 {
		return fmt.Errorf("config: transport queue_size must be positive, got %d", c.Transport.QueueSize)
	}
	return c.State.Validate()
}

func (s StateConfig) Validate() error {
	switch s.Type {
	case StateMemory:
	case StateFile, StateSQLite:
		if s.Path == "" {
			return fmt.Errorf("config: state type %q requires path", s.Type)
		}
	case StateRedis:
		if s.RedisAddr == "" || s.RedisKey == "" {
			return errors.New("config: state type \"redis\" requires redis_addr and redis_key")
		}
	case StateS3:
		if s.S3Bucket == "" || s.S3Key == "" {
			return errors.New("config: state type \"s3\" requires s3_bucket and s3_key")
		}
	default:
		return fmt.Errorf("config: unknown state type %q", s.Type)
	}
	return nil
}
