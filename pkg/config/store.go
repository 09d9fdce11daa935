package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/mcuadros/go-defaults"
)

// FileName is the configuration file name inside the documents directory.
const FileName = "config.json"

// DefaultPath returns <documents>/config.json.
func DefaultPath() (string, error) {
	dir := xdg.UserDirs.Documents
	if dir == "" {
		return "", errors.New("failed to resolve the documents directory")
	}
	return filepath.Join(dir, FileName), nil
}

// Store reads and writes the configuration file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the configuration. Keys missing from the file take their defaults.
// When the file does not exist, the defaults are written to it and returned.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := s.writeLocked(cfg); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", s.path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", s.path, err)
	}
	// Absent keys decode as zero values, which is exactly what defaults fills in.
	defaults.SetDefaults(cfg)
	return cfg, nil
}

// Save validates cfg and writes it as indented JSON, creating parent directories.
func (s *Store) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(cfg)
}

func (s *Store) writeLocked(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", s.path, err)
	}
	return nil
}
