// Package config loads client and relay settings from a YAML file, a .env file
// and TANDEM_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvServerURL = "TANDEM_SERVER_URL"
	EnvAPIURL    = "TANDEM_API_URL"
	EnvLogLevel  = "TANDEM_LOG_LEVEL"
	EnvLogFormat = "TANDEM_LOG_FORMAT"
	EnvCodec     = "TANDEM_CODEC"
	EnvTokenDB   = "TANDEM_TOKEN_DB"
	EnvRelayPort = "TANDEM_RELAY_PORT"
)

type Config struct {
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"`
	Client    ClientConfig `yaml:"client"`
	Relay     RelayConfig  `yaml:"relay"`
}

type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	APIURL    string `yaml:"api_url"`
	Codec     string `yaml:"codec"`
	// TokenDB is the SQLite file holding reconnect tokens; in memory when empty
	TokenDB string `yaml:"token_db"`

	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ActionTimeout        time.Duration `yaml:"action_timeout"`
	ResyncInterval       time.Duration `yaml:"resync_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SendInterval         time.Duration `yaml:"send_interval"`
	EntityDeltaInterval  time.Duration `yaml:"entity_delta_interval"`
	FullSyncInterval     time.Duration `yaml:"full_sync_interval"`
	SnapDistance         float64       `yaml:"snap_distance"`
	BlendFactor          float64       `yaml:"blend_factor"`
}

type RelayConfig struct {
	Port           int           `yaml:"port"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	GraceWindow    time.Duration `yaml:"grace_window"`
	StartDelay     time.Duration `yaml:"start_delay"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Client: ClientConfig{
			ServerURL:            "ws://localhost:3001/ws",
			APIURL:               "http://localhost:3001",
			Codec:                "json",
			HeartbeatInterval:    30 * time.Second,
			ActionTimeout:        10 * time.Second,
			ResyncInterval:       5 * time.Second,
			ReconnectBaseDelay:   time.Second,
			MaxReconnectAttempts: 5,
			SendInterval:         16 * time.Millisecond,
			EntityDeltaInterval:  50 * time.Millisecond,
			FullSyncInterval:     time.Second,
			SnapDistance:         200,
			BlendFactor:          0.2,
		},
		Relay: RelayConfig{
			Port:        3001,
			GraceWindow: 30 * time.Second,
			StartDelay:  3 * time.Second,
		},
	}
}

// Load reads the defaults, overlays the YAML file at path (skipped when path is
// empty) and then applies environment overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Client.ServerURL = getEnv(EnvServerURL, c.Client.ServerURL)
	c.Client.APIURL = getEnv(EnvAPIURL, c.Client.APIURL)
	c.Client.Codec = getEnv(EnvCodec, c.Client.Codec)
	c.Client.TokenDB = getEnv(EnvTokenDB, c.Client.TokenDB)
	c.LogLevel = getEnv(EnvLogLevel, c.LogLevel)
	c.LogFormat = getEnv(EnvLogFormat, c.LogFormat)

	if value := os.Getenv(EnvRelayPort); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRelayPort, err)
		}
		c.Relay.Port = port
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Client.ServerURL == "" {
		return fmt.Errorf("client.server_url is required")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port %d is out of range", c.Relay.Port)
	}
	if (c.Relay.CertFile == "") != (c.Relay.KeyFile == "") {
		return fmt.Errorf("relay.cert_file and relay.key_file must be set together")
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log_format: %s", c.LogFormat)
	}
	return nil
}

// NewLogger builds the logger described by log_level and log_format.
func (c *Config) NewLogger(out io.Writer) (*log.Logger, error) {
	level, err := log.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	if c.LogFormat == "console" {
		return log.NewConsole(out, level), nil
	}
	return log.New(out, level), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
