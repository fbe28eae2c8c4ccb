// Package config persists the bridge connection settings between runs.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig holds everything needed to start a bridge session.
// It is immutable once a session starts.
type ConnectionConfig struct {
	SerialPort string `yaml:"serial_port" json:"serial_port"`
	BaudRate   int    `yaml:"baud_rate" json:"baud_rate"`
	Address    string `yaml:"address" json:"address"`
	PIN        string `yaml:"pin,omitempty" json:"pin,omitempty"`
}

// Default returns the fallback configuration used when no file exists.
func Default() ConnectionConfig {
	return ConnectionConfig{
		SerialPort: "/dev/ttyUSB0",
		BaudRate:   9600,
	}
}

// Validate checks the fields a session cannot start without.
func (c ConnectionConfig) Validate() error {
	if c.SerialPort == "" {
		return fmt.Errorf("serial port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", c.BaudRate)
	}
	if c.Address == "" {
		return fmt.Errorf("wireless address is required")
	}
	return nil
}

// Store loads and saves the connection config as a YAML file.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath resolves the config file location: BLEBRIDGE_CONFIG env var,
// falling back to ~/.config/blebridged/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("BLEBRIDGE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "blebridged.yaml"
	}
	return filepath.Join(home, ".config", "blebridged", "config.yaml")
}

// Load reads the stored config. A missing or corrupt file falls back to
// defaults rather than failing — the bridge must stay usable after a bad
// write or a fresh install.
func (s *Store) Load() ConnectionConfig {
	cfg := Default()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("config: read %s failed: %v (using defaults)", s.path, err)
		}
		return cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("config: parse %s failed: %v (using defaults)", s.path, err)
		return Default()
	}

	// Patch missing fields from defaults, matching old config files.
	def := Default()
	if cfg.SerialPort == "" {
		cfg.SerialPort = def.SerialPort
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = def.BaudRate
	}
	return cfg
}

// Save writes the config, creating parent directories as needed.
func (s *Store) Save(cfg ConnectionConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
