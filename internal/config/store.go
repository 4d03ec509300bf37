package config

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Store is the reload boundary for configuration. Readers call Current
// and get one immutable snapshot; Reload parses the file again and
// swaps the pointer, bumping the version so consumers can tell a new
// snapshot apart from the one they started with.
type Store struct {
	path    string
	current atomic.Pointer[Config]
	logger  *zap.Logger
}

// NewStore loads the initial configuration from path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload re-reads the config file and swaps in the new snapshot. A
// parse or validation failure leaves the previous snapshot in place.
func (s *Store) Reload() (*Config, error) {
	cfg, err := LoadConfig(s.path)
	if err != nil {
		s.logger.Error("Config reload failed, keeping previous snapshot", zap.Error(err))
		return nil, err
	}
	prev := s.current.Load()
	cfg.Version = prev.Version + 1
	s.current.Store(cfg)
	s.logger.Info("Config reloaded", zap.Int("version", cfg.Version))
	return cfg, nil
}
