package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/polisai/polis-relay/pkg/domain"
)

// SystemDir holds the system-wide configuration files.
const SystemDir = "/etc/polis-relay"

// DefaultCandidates returns the lookup order for configuration files. explicit,
// when non-empty, is tried first.
func DefaultCandidates(explicit string) []string {
	paths := []string{
		"config.yaml",
		"config.yml",
		"config.toml",
		"config.json",
		SystemDir + "/config.yaml",
		SystemDir + "/config.toml",
		SystemDir + "/config.json",
	}
	if explicit != "" {
		paths = append([]string{explicit}, paths...)
	}
	return paths
}

// StoreOptions configure a Store.
type StoreOptions struct {
	// Candidates overrides the lookup order. Nil selects DefaultCandidates(Path).
	Candidates []string
	// Path is an explicit configuration file tried before the defaults.
	Path   string
	Getenv LookupFunc
	Logger *slog.Logger
	Now    func() time.Time
}

// ReloadResult reports the configuration installed by ForceReload.
type ReloadResult struct {
	Config   *domain.RoutingConfig
	Metadata domain.ConfigMetadata
	// Changed is false when the file was byte-identical to the loaded one.
	Changed bool
}

// Store holds the current routing configuration. The first Get loads it
// lazily; ForceReload replaces it. Readers always see a complete snapshot.
type Store struct {
	candidates []string
	getenv     LookupFunc
	logger     *slog.Logger
	now        func() time.Time

	// loadMu keeps at most one load in flight.
	loadMu sync.Mutex

	mu      sync.RWMutex
	current *domain.RoutingConfig
	meta    domain.ConfigMetadata
}

// NewStore creates an empty store. Nothing is read until Get or ForceReload.
func NewStore(opts StoreOptions) *Store {
	s := &Store{
		candidates: opts.Candidates,
		getenv:     opts.Getenv,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.candidates == nil {
		s.candidates = DefaultCandidates(opts.Path)
	}
	if s.getenv == nil {
		s.getenv = os.Getenv
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Get returns the current configuration, loading it on first use. Load errors
// are logged; the result is never nil.
func (s *Store) Get() *domain.RoutingConfig {
	s.mu.RLock()
	cfg := s.current
	s.mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.RLock()
	cfg = s.current
	s.mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	res, err := s.reload(context.Background())
	if err != nil {
		s.logger.Error("configuration load failed", "error", err)
	}
	return res.Config
}

// Metadata describes where the current configuration came from.
func (s *Store) Metadata() domain.ConfigMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// ForceReload re-reads the configuration. The first candidate that exists and
// parses wins; unreadable or invalid candidates are logged and skipped. A file
// whose path and content hash match the loaded one is not parsed again. When
// every existing candidate fails, the previous configuration stays installed
// and the joined error is returned; if nothing was loaded yet, defaults are
// installed.
func (s *Store) ForceReload(ctx context.Context) (ReloadResult, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.reload(ctx)
}

func (s *Store) reload(ctx context.Context) (ReloadResult, error) {
	s.mu.RLock()
	cur, meta := s.current, s.meta
	s.mu.RUnlock()

	var errs []error
	for _, path := range s.candidates {
		// #nosec G304 -- candidate paths come from the operator
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.Warn("skipping unreadable configuration", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%w: read %s: %w", domain.ErrConfigLoad, path, err))
			continue
		}

		sum := sha256.Sum256(data)
		fingerprint := hex.EncodeToString(sum[:])
		if cur != nil && meta.Path == path && meta.Fingerprint == fingerprint {
			s.logger.Debug("configuration unchanged", "path", path)
			return ReloadResult{Config: cur, Metadata: meta, Changed: false}, nil
		}

		cfg, err := s.parse(ctx, path, data)
		if err != nil {
			s.logger.Warn("skipping invalid configuration", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%w: %s: %w", domain.ErrConfigLoad, path, err))
			continue
		}

		next := domain.ConfigMetadata{Path: path, Fingerprint: fingerprint, LoadedAt: s.now()}
		s.install(cfg, next)
		s.logger.Info("configuration loaded",
			"path", path,
			"fingerprint", fingerprint[:12],
			"webhooks", len(cfg.Endpoints),
			"enabled", cfg.EnabledCount())
		return ReloadResult{Config: cfg, Metadata: next, Changed: true}, nil
	}

	if len(errs) > 0 {
		return s.failed(ctx, cur, meta, errors.Join(errs...))
	}

	s.logger.Warn("no configuration file found, using defaults", "candidates", s.candidates)
	cfg := s.defaults(ctx)
	next := domain.ConfigMetadata{LoadedAt: s.now()}
	s.install(cfg, next)
	return ReloadResult{Config: cfg, Metadata: next, Changed: true}, nil
}

func (s *Store) parse(ctx context.Context, path string, data []byte) (*domain.RoutingConfig, error) {
	f, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(f, s.getenv)
	return f.ToDomain(ctx)
}

// defaults builds the configuration used when no file applies. Environment
// overrides that fail validation are dropped.
func (s *Store) defaults(ctx context.Context) *domain.RoutingConfig {
	f := &File{}
	ApplyEnvOverrides(f, s.getenv)
	cfg, err := f.ToDomain(ctx)
	if err != nil {
		s.logger.Warn("environment overrides rejected", "error", err)
		cfg, _ = (&File{}).ToDomain(ctx)
	}
	return cfg
}

func (s *Store) failed(ctx context.Context, cur *domain.RoutingConfig, meta domain.ConfigMetadata, err error) (ReloadResult, error) {
	if cur != nil {
		return ReloadResult{Config: cur, Metadata: meta}, err
	}
	cfg := s.defaults(ctx)
	next := domain.ConfigMetadata{LoadedAt: s.now()}
	s.install(cfg, next)
	return ReloadResult{Config: cfg, Metadata: next, Changed: true}, err
}

func (s *Store) install(cfg *domain.RoutingConfig, meta domain.ConfigMetadata) {
	s.mu.Lock()
	s.current = cfg
	s.meta = meta
	s.mu.Unlock()
}
