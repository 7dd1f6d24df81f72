package config

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Store holds the live configuration behind a RWMutex so it can be
// re-read at runtime. Readers get value copies, never shared pointers.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string

	reloadCh chan struct{}
}

func NewStore(cfg *Config, path string) *Store {
	return &Store{
		cfg:      cfg,
		path:     path,
		reloadCh: make(chan struct{}, 1),
	}
}

// Pulse returns a copy of the pulse configuration.
func (s *Store) Pulse() PulseConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Pulse
}

// Server returns a copy of the server configuration.
func (s *Store) Server() ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Server
}

// Database returns a copy of the database configuration.
func (s *Store) Database() DatabaseConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Database
}

// NATS returns a copy of the NATS configuration.
func (s *Store) NATS() NATSConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.NATS
}

// Reload re-reads the config file and swaps the live configuration.
// A failed reload keeps the previous configuration in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	// Wake anyone sleeping on the old schedule.
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}

	log.Info().Str("path", s.path).Msg("configuration reloaded")
	return nil
}

// ReloadNotify signals after every successful Reload.
func (s *Store) ReloadNotify() <-chan struct{} {
	return s.reloadCh
}
