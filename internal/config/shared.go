package config

import "context"

// Shared is the process-wide configuration cell. Every access, read or
// write, runs under one exclusive guard, so no caller ever observes a
// partially replaced value. A long Update (a delivery, for instance) blocks
// all other access until it returns.
type Shared struct {
	guard chan struct{}
	cfg   *Config
}

// NewShared wraps cfg. The caller must not retain cfg.
func NewShared(cfg *Config) *Shared {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Uploaders == nil {
		cfg.Uploaders = []Uploader{}
	}
	return &Shared{
		guard: make(chan struct{}, 1),
		cfg:   cfg,
	}
}

func (s *Shared) acquire(ctx context.Context) error {
	select {
	case s.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shared) release() { <-s.guard }

// Snapshot returns a deep copy of the current configuration.
func (s *Shared) Snapshot(ctx context.Context) (*Config, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.cfg.Clone(), nil
}

// Replace swaps in cfg as a whole. Fields are never merged.
func (s *Shared) Replace(ctx context.Context, cfg *Config) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	if cfg == nil {
		cfg = &Config{}
	}
	s.cfg = cfg.Clone()
	return nil
}

// Update runs fn with exclusive access to the live configuration. fn may
// modify it in place; it must not retain the pointer after returning.
func (s *Shared) Update(ctx context.Context, fn func(cfg *Config) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn(s.cfg)
}
