package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"go2tv.app/castkit/castprotocol"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CASTCTL_"

type Config struct {
	Device              string        `mapstructure:"device" yaml:"device,omitempty"`
	AppID               string        `mapstructure:"app_id" yaml:"app_id"`
	SenderID            string        `mapstructure:"sender_id" yaml:"sender_id,omitempty"`
	UserAgent           string        `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxMissedHeartbeats int           `mapstructure:"max_missed_heartbeats" yaml:"max_missed_heartbeats"`
	SendRate            float64       `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst           int           `mapstructure:"send_burst" yaml:"send_burst"`
	DiscoveryTimeout    time.Duration `mapstructure:"discovery_timeout" yaml:"discovery_timeout"`
	LogLevel            string        `mapstructure:"log_level" yaml:"log_level"`
	LogFile             string        `mapstructure:"log_file" yaml:"log_file,omitempty"`
	MetricsAddr         string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// envKeys maps config keys to their environment variable suffix.
var envKeys = []string{
	"device", "app_id", "sender_id", "user_agent", "dial_timeout", "request_timeout",
	"heartbeat_interval", "max_missed_heartbeats", "send_rate", "send_burst",
	"discovery_timeout", "log_level", "log_file", "metrics_addr",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AppID:               castprotocol.DefaultMediaReceiverAppID,
		DialTimeout:         10 * time.Second,
		RequestTimeout:      10 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		MaxMissedHeartbeats: 3,
		SendRate:            50,
		SendBurst:           32,
		DiscoveryTimeout:    2 * time.Second,
		LogLevel:            "info",
	}
}

// GetAppConfig loads the settings file from the user config directory,
// creating it with defaults when missing, then applies environment
// overrides.
func GetAppConfig() (*Config, error) {
	path, err := appPath()
	if err != nil {
		return nil, fmt.Errorf("GetAppConfig: failed to access config path due to error %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("GetAppConfig: failed to create default path due to error %w", err)
		}
		if err := Default().saveTo(path); err != nil {
			return nil, fmt.Errorf("GetAppConfig: failed to create default config due to error %w", err)
		}
	}

	return Load(path)
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	conf := Default()

	if path != "" {
		// #nosec G304 -- the path comes from the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: failed to read config due to error %w", err)
		}
		raw := make(map[string]any)
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("Load: failed to parse %s due to error %w", path, err)
		}
		if err := decode(raw, conf); err != nil {
			return nil, fmt.Errorf("Load: invalid config %s: %w", path, err)
		}
	}

	if err := decode(envOverrides(os.LookupEnv), conf); err != nil {
		return nil, fmt.Errorf("Load: invalid environment override: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func envOverrides(lookup func(string) (string, bool)) map[string]any {
	out := make(map[string]any)
	for _, key := range envKeys {
		if v, ok := lookup(EnvPrefix + strings.ToUpper(key)); ok {
			out[key] = v
		}
	}
	return out
}

// decode merges raw into conf. Unknown keys are rejected.
func decode(raw map[string]any, conf *Config) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           conf,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate rejects values a session cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DialTimeout <= 0:
		return fmt.Errorf("Validate: dial_timeout must be positive")
	case c.RequestTimeout <= 0:
		return fmt.Errorf("Validate: request_timeout must be positive")
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("Validate: heartbeat_interval must be positive")
	case c.MaxMissedHeartbeats <= 0:
		return fmt.Errorf("Validate: max_missed_heartbeats must be positive")
	case c.SendRate < 0:
		return fmt.Errorf("Validate: send_rate must not be negative")
	case c.AppID == "":
		return fmt.Errorf("Validate: app_id is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	return nil
}

// Level returns the configured log level, info when unset.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SessionOptions maps the configuration to session options.
func (c *Config) SessionOptions(log zerolog.Logger) []castprotocol.Option {
	limit := rate.Limit(c.SendRate)
	if c.SendRate == 0 {
		limit = rate.Inf
	}
	opts := []castprotocol.Option{
		castprotocol.WithLogger(log),
		castprotocol.WithDialTimeout(c.DialTimeout),
		castprotocol.WithRequestTimeout(c.RequestTimeout),
		castprotocol.WithHeartbeat(c.HeartbeatInterval, c.MaxMissedHeartbeats),
		castprotocol.WithSendRate(limit, c.SendBurst),
	}
	if c.SenderID != "" {
		opts = append(opts, castprotocol.WithSenderID(c.SenderID))
	}
	if c.UserAgent != "" {
		opts = append(opts, castprotocol.WithUserAgent(c.UserAgent))
	}
	return opts
}

func appPath() (string, error) {
	oscfg, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("appPath: failed to get config file due to error %w", err)
	}

	return filepath.Join(oscfg, "castkit", "settings.yaml"), nil
}

// SaveAppConfig writes the configuration to the user settings file.
func (c *Config) SaveAppConfig() error {
	path, err := appPath()
	if err != nil {
		return fmt.Errorf("SaveAppConfig: failed to access config path due to error %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("SaveAppConfig: failed to create config path due to error %w", err)
	}
	return c.saveTo(path)
}

func (c *Config) saveTo(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("SaveAppConfig: failed to marshal yaml due to error %w", err)
	}

	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("SaveAppConfig: failed save config due to error %w", err)
	}

	return nil
}
