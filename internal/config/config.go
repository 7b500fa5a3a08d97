// Package config loads mailspool settings from an optional YAML file with
// environment overrides, and resolves the default on-disk layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Retention struct {
	MaxAge   Duration `yaml:"max_age"`
	MaxCount int      `yaml:"max_count"`
	Strategy string   `yaml:"strategy"`
}

type Config struct {
	// Root holds the per-team mailbox trees. Defaults to {home}/teams.
	Root string `yaml:"root"`

	// SpoolDir holds pending/ and failed/. Defaults to {home}/spool.
	SpoolDir string `yaml:"spool_dir"`

	// MaxRetries is the spool delivery attempt ceiling.
	MaxRetries int `yaml:"max_retries"`

	// DrainInterval is the daemon's periodic drain cadence.
	DrainInterval Duration `yaml:"drain_interval"`

	// RetentionInterval is how often the daemon sweeps mailboxes against the
	// retention policy. Zero disables the sweep.
	RetentionInterval Duration `yaml:"retention_interval"`

	Retention Retention `yaml:"retention"`
}

// Home returns the mailspool state directory: $MAILSPOOL_HOME if set,
// otherwise {user config dir}/mailspool.
func Home() (string, error) {
	if home := strings.TrimSpace(os.Getenv("MAILSPOOL_HOME")); home != "" {
		return home, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "mailspool"), nil
}

func Default() (Config, error) {
	home, err := Home()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Root:          filepath.Join(home, "teams"),
		SpoolDir:      filepath.Join(home, "spool"),
		MaxRetries:    10,
		DrainInterval: Duration(10 * time.Second),
	}, nil
}

// Load reads the config file at path, or falls back to
// {home}/config.yaml when path is empty. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(path) == "" {
		home, err := Home()
		if err != nil {
			return Config{}, err
		}
		path = filepath.Join(home, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = Duration(10 * time.Second)
	}
	return cfg, nil
}
