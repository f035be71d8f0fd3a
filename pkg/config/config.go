package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "10m" or "600s", or from a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the driver's full configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Sessions  SessionsConfig   `yaml:"sessions"`
	Sync      SyncConfig       `yaml:"sync"`
	Workflow  WorkflowConfig   `yaml:"workflow"`
	Storage   StorageConfig    `yaml:"storage"`
	Policies  PoliciesConfig   `yaml:"policies"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite record store.
type StoreConfig struct {
	Path            string   `yaml:"path" validate:"required"`
	MaxOpenConns    int      `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int      `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// SessionsConfig configures controller session caching. A cached
// session is reused until RefreshTTL has passed since it was issued;
// TTL is the controller-side lifetime a login requests.
type SessionsConfig struct {
	TTL        Duration `yaml:"ttl"`
	RefreshTTL Duration `yaml:"refresh_ttl"`
}

// SyncConfig configures the inventory reconciler.
type SyncConfig struct {
	Interval Duration `yaml:"interval"`
}

// WorkflowConfig bounds provisioning convergence polls.
type WorkflowConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	TickBudget   int      `yaml:"tick_budget" validate:"gte=0"`
}

// StorageConfig configures the storage array client.
type StorageConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
}

// PoliciesConfig points at operator-supplied guard policies layered on
// top of the built-in ones.
type PoliciesConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration the driver runs with when no file
// overrides it.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:            "driver.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(time.Hour),
		},
		Sessions: SessionsConfig{
			TTL:        Duration(100 * time.Minute),
			RefreshTTL: Duration(10 * time.Minute),
		},
		Sync: SyncConfig{
			Interval: Duration(600 * time.Second),
		},
		Workflow: WorkflowConfig{
			PollInterval: Duration(2 * time.Second),
			TickBudget:   3600,
		},
		Storage: StorageConfig{
			RequestTimeout: Duration(60 * time.Second),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads path, layers it over the defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path if it exists and falls back to the defaults
// when it does not.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks structural constraints and the settings the
// validator tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Sessions.RefreshTTL.Std() > c.Sessions.TTL.Std() {
		return fmt.Errorf("invalid config: session refresh_ttl %s exceeds ttl %s",
			c.Sessions.RefreshTTL.Std(), c.Sessions.TTL.Std())
	}
	if c.Sync.Interval.Std() <= 0 {
		return fmt.Errorf("invalid config: sync interval must be positive")
	}
	if c.Workflow.PollInterval.Std() <= 0 {
		return fmt.Errorf("invalid config: workflow poll_interval must be positive")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StoreConfig renders the store section for the SQLite layer.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:            c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime.Std(),
	}
}
