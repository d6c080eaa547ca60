package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/huelink/internal/binding"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig      `yaml:"hue"`
	Plugin          PluginConfig   `yaml:"plugin"`
	Items           []ItemConfig   `yaml:"items"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	API             APIConfig      `yaml:"api"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
	RestartBackoff  Duration       `yaml:"restart_backoff"`  // Delay before a failed session is started again
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge  string   `yaml:"bridge"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"` // HTTP timeout for bridge requests, outbound commands included

	// Event stream reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)

	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Outbound commands per second, 0 = unlimited
}

// PluginConfig contains settings of the bridge link itself
type PluginConfig struct {
	Identity              string   `yaml:"identity"`                // Caller name used for bridge-originated writes
	DefaultTransitionTime *float64 `yaml:"default_transition_time"` // Seconds (default: 0.4), 0 switches instantly
}

// TransitionSeconds returns the plugin-wide transition time.
func (c PluginConfig) TransitionSeconds() float64 {
	if c.DefaultTransitionTime == nil {
		return 0
	}
	return *c.DefaultTransitionTime
}

// ItemConfig declares one item and its binding to a bridge resource
type ItemConfig struct {
	Name           string   `yaml:"name"`
	Resource       string   `yaml:"resource"`
	ID             string   `yaml:"id"`
	Function       string   `yaml:"function"`
	TransitionTime *float64 `yaml:"transition_time,omitempty"` // Seconds, overrides the plugin default
	EnforceUpdates bool     `yaml:"enforce_updates"`
	Initial        any      `yaml:"initial,omitempty"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// MQTTConfig contains MQTT exposure settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the listen address
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huelink.sqlite"
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(10 * time.Second)
	}
	if cfg.Hue.MinRetryBackoff == 0 {
		cfg.Hue.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Hue.MaxRetryBackoff == 0 {
		cfg.Hue.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Hue.RetryMultiplier == 0 {
		cfg.Hue.RetryMultiplier = 2.0
	}
	// MaxReconnects and RateLimitRPS default to 0 (unlimited)

	if cfg.Plugin.Identity == "" {
		cfg.Plugin.Identity = "huelink"
	}
	if cfg.Plugin.DefaultTransitionTime == nil {
		tt := 0.4
		cfg.Plugin.DefaultTransitionTime = &tt
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "huelink"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "huelink"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 9090
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
	if cfg.RestartBackoff == 0 {
		cfg.RestartBackoff = Duration(10 * time.Second)
	}
}

// Validate reports every configuration error at once.
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Hue.Bridge == "" {
		errs = append(errs, errors.New("hue.bridge is required"))
	}
	if cfg.Hue.Token == "" {
		errs = append(errs, errors.New("hue.token is required"))
	}
	if cfg.Plugin.DefaultTransitionTime != nil && *cfg.Plugin.DefaultTransitionTime < 0 {
		errs = append(errs, errors.New("plugin.default_transition_time must not be negative"))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}

	names := make(map[string]struct{}, len(cfg.Items))
	for i, it := range cfg.Items {
		if it.Name == "" {
			errs = append(errs, fmt.Errorf("items[%d]: name is required", i))
			continue
		}
		if _, dup := names[it.Name]; dup {
			errs = append(errs, fmt.Errorf("item %q: declared twice", it.Name))
		}
		names[it.Name] = struct{}{}

		if !it.Bound() {
			continue
		}
		key, err := it.Key()
		if err != nil {
			errs = append(errs, fmt.Errorf("item %q: %w", it.Name, err))
			continue
		}
		// activate_scene carries the target scene id in the item value
		if key.ID == "" && !(key.Resource == binding.Scene && key.Function == "activate_scene") {
			errs = append(errs, fmt.Errorf("item %q: id is required", it.Name))
		}
		if key.Function == "" {
			errs = append(errs, fmt.Errorf("item %q: function is required", it.Name))
		}
		if it.TransitionTime != nil && *it.TransitionTime < 0 {
			errs = append(errs, fmt.Errorf("item %q: transition_time must not be negative", it.Name))
		}
	}

	return errors.Join(errs...)
}

// Bound reports whether the item is bound to a bridge resource.
func (c ItemConfig) Bound() bool {
	return c.Resource != "" || c.ID != "" || c.Function != ""
}

// Key returns the binding key of the item.
func (c ItemConfig) Key() (binding.Key, error) {
	ns, err := binding.ParseResource(c.Resource)
	if err != nil {
		return binding.Key{}, err
	}
	return binding.Key{ID: c.ID, Resource: ns, Function: c.Function}, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
