package runner

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional run configuration file. Every field has a flag
// equivalent; flags win when both are set.
type Config struct {
	// Gateway is the kernel gateway base URL.
	Gateway string `yaml:"gateway"`

	// Token is the gateway API token.
	Token string `yaml:"token,omitempty"`

	// KernelName overrides the kernel stored in the notebook.
	KernelName string `yaml:"kernel_name,omitempty"`

	// CellTimeout bounds one cell execution (e.g. "30s").
	CellTimeout Duration `yaml:"cell_timeout,omitempty"`

	// StartupTimeout bounds kernel launch.
	StartupTimeout Duration `yaml:"startup_timeout,omitempty"`

	// Lax validates execution success only, except for cells marked
	// check-output-always.
	Lax bool `yaml:"lax,omitempty"`

	// SkipTimeit / SkipMemit skip timing/memory magic cells.
	SkipTimeit bool `yaml:"skip_timeit,omitempty"`
	SkipMemit  bool `yaml:"skip_memit,omitempty"`

	// SanitizeFiles lists sanitize configuration files, applied in order.
	SanitizeFiles []string `yaml:"sanitize_files,omitempty"`

	// CoreSanitize enables the built-in volatile-repr patterns.
	// Defaults to true.
	CoreSanitize *bool `yaml:"core_sanitize,omitempty"`

	// TimeitSanitize enables the built-in timing-report patterns.
	TimeitSanitize bool `yaml:"timeit_sanitize,omitempty"`

	// IgnoreKeys extends the mime/field exclusion set.
	IgnoreKeys []string `yaml:"ignore_keys,omitempty"`

	// CompareImages compares raw image payloads pixel-wise instead of
	// excluding them.
	CompareImages bool `yaml:"compare_images,omitempty"`

	// HistoryDB is the optional run-history database path.
	HistoryDB string `yaml:"history_db,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadConfig reads and strictly parses a run configuration file. Unknown
// fields are rejected so typos fail loudly.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// CoreSanitizeEnabled resolves the tri-state default.
func (c *Config) CoreSanitizeEnabled() bool {
	if c.CoreSanitize == nil {
		return true
	}
	return *c.CoreSanitize
}
