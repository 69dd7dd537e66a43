// Package config loads and saves the boot configuration cmd/spartanctl
// needs and the teacher never did (multiboot info is handed in by the
// bootloader there; this is a hosted simulation, so something has to
// supply a zone memory map, CPU count, and quantum length instead). Shape
// mirrors dsmmcken-dh-cli's internal/config: a TOML file under a home
// directory, loaded/saved as a whole, with dot-separated Get/Set for
// individual fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Zone describes one physical memory zone to seed into the frame
// allocator at boot (spec §4.1).
type Zone struct {
	Class     string `toml:"class" json:"class"`
	Available bool   `toml:"available" json:"available"`
	StartPFN  uint64 `toml:"start_pfn" json:"start_pfn"`
	Frames    uint32 `toml:"frames" json:"frames"`
}

// Config represents the ~/.spartan/config.toml file.
type Config struct {
	NumCPU       int    `toml:"num_cpu,omitempty" json:"num_cpu"`
	QuantumTicks int32  `toml:"quantum_ticks,omitempty" json:"quantum_ticks"`
	Zones        []Zone `toml:"zones,omitempty" json:"zones"`
}

// Default returns the configuration cmd/spartanctl boots with when no
// config.toml exists yet.
func Default() *Config {
	return &Config{
		NumCPU:       2,
		QuantumTicks: 3,
		Zones: []Zone{
			{Class: "lowmem", Available: true, StartPFN: 0, Frames: 4096},
		},
	}
}

// configDirOverride is set by the --config-dir flag or SPARTAN_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / SPARTAN_HOME
// value.
func SetConfigDir(dir string) { configDirOverride = dir }

// SpartanHome returns the config directory path. Precedence:
// --config-dir flag / SetConfigDir > SPARTAN_HOME env > ~/.spartan
func SpartanHome() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("SPARTAN_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".spartan")
	}
	return filepath.Join(home, ".spartan")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(SpartanHome(), "config.toml")
}

// EnsureDir creates the spartan home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(SpartanHome(), 0o755)
}

// Load reads config.toml and returns a Config. A missing file yields
// Default() rather than a zero-value Config, since num_cpu=0 would make the
// scheduler unusable.
func Load() (*Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes cfg back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the dot-separated keys usable with Get/Set.
var validKeys = map[string]bool{
	"num_cpu":       true,
	"quantum_ticks": true,
}

// Get retrieves a single scalar config value by dot-separated key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	switch key {
	case "num_cpu":
		return strconv.Itoa(cfg.NumCPU), nil
	case "quantum_ticks":
		return strconv.Itoa(int(cfg.QuantumTicks)), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// Set sets a single scalar config value by dot-separated key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	switch key {
	case "num_cpu":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("num_cpu must be an integer: %w", err)
		}
		cfg.NumCPU = n
	case "quantum_ticks":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("quantum_ticks must be an integer: %w", err)
		}
		cfg.QuantumTicks = int32(n)
	}
	return Save(cfg)
}
