package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
)

// Config represents the devloop application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Listeners ListenersConfig `yaml:"listeners"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Debounce  DebounceConfig  `yaml:"debounce"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// StoreConfig configures the content store checkpoint location.
type StoreConfig struct {
	// CheckpointPath is the sqlite file used for idle-entry checkpoints.
	CheckpointPath string `yaml:"checkpoint_path"`
}

// ListenersConfig configures the long-lived side processes.
type ListenersConfig struct {
	NATS  NATSConfig  `yaml:"nats"`
	Watch WatchConfig `yaml:"watch"`
}

// NATSConfig configures the content mutation listener.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// WatchConfig configures the source file watcher.
type WatchConfig struct {
	Roots  []string `yaml:"roots"`
	Ignore []string `yaml:"ignore,omitempty"`
	// Coalesce is the window within which rapid filesystem events are folded
	// into a single SourceFileChanged event.
	Coalesce time.Duration `yaml:"coalesce"`
}

// WebhookConfig configures the HTTP endpoint that triggers data reloads.
type WebhookConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// DebounceConfig configures the idle mutation collector.
type DebounceConfig struct {
	QuietWindow time.Duration `yaml:"quiet_window"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// SchedulerConfig configures periodic background tasks.
type SchedulerConfig struct {
	// CheckpointInterval persists the store periodically in addition to the
	// idle-entry checkpoint. Zero disables the periodic task.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	// ExtractEvery publishes a scheduled extract trigger while idle.
	// Zero disables the scheduled trigger.
	ExtractEvery time.Duration `yaml:"extract_every"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env/.env.local if present; process env wins over file values.
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				fmt.Fprintf(os.Stderr, "Note: %s couldn't be loaded: %v\n", envPath, err)
			}
			break
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, ferrors.ConfigError("configuration file not found").
			WithContext("path", configPath).Build()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").Build()
	}

	// Expand environment variables in the YAML content.
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Build()
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Store.CheckpointPath == "" {
		c.Store.CheckpointPath = "./devloop-data/checkpoints.db"
	}
	if c.Listeners.NATS.URL == "" {
		c.Listeners.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.Listeners.NATS.Subject == "" {
		c.Listeners.NATS.Subject = "devloop.mutations"
	}
	if len(c.Listeners.Watch.Roots) == 0 {
		c.Listeners.Watch.Roots = []string{"./src"}
	}
	if c.Listeners.Watch.Coalesce <= 0 {
		c.Listeners.Watch.Coalesce = 100 * time.Millisecond
	}
	if c.Webhook.Addr == "" {
		c.Webhook.Addr = ":8671"
	}
	if c.Webhook.Path == "" {
		c.Webhook.Path = "/__refresh"
	}
	if c.Debounce.QuietWindow <= 0 {
		c.Debounce.QuietWindow = 250 * time.Millisecond
	}
	if c.Debounce.MaxDelay <= 0 {
		c.Debounce.MaxDelay = 5 * time.Second
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9671"
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Debounce.MaxDelay < c.Debounce.QuietWindow {
		return ferrors.ValidationError("debounce max_delay must be >= quiet_window").
			WithContext("quiet_window", c.Debounce.QuietWindow.String()).
			WithContext("max_delay", c.Debounce.MaxDelay.String()).
			Build()
	}
	for _, root := range c.Listeners.Watch.Roots {
		if root == "" {
			return ferrors.ValidationError("watch root cannot be empty").Build()
		}
	}
	if c.Scheduler.CheckpointInterval < 0 || c.Scheduler.ExtractEvery < 0 {
		return ferrors.ValidationError("scheduler intervals cannot be negative").Build()
	}
	return nil
}
