// Package manager is the entry point to a document store: it opens the
// configured content storage and owns the single write queue and transfer
// coordinator every operation of one instance goes through.
//
// Two managers writing the same paths are not coordinated with each other.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/breez/data-store/codec"
	"github.com/breez/data-store/config"
	"github.com/breez/data-store/metrics"
	"github.com/breez/data-store/queue"
	"github.com/breez/data-store/store"
	"github.com/breez/data-store/store/cache"
	"github.com/breez/data-store/store/inmem"
	"github.com/breez/data-store/store/postgres"
	"github.com/breez/data-store/store/remotehttp"
	"github.com/breez/data-store/store/sqlite"
	"github.com/breez/data-store/transfer"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const sqliteFileName = "docstore.db"

var ErrConfiguration = errors.New("configuration error")

type Manager struct {
	storage     store.ContentStorage
	codecs      *codec.Registry
	queue       *queue.WriteQueue
	coordinator *transfer.Coordinator
	logger      zerolog.Logger
	closers     []func() error
}

// New validates cfg and opens its backend. Metrics are registered on
// registerer when it is not nil.
func New(cfg *config.Config, logger zerolog.Logger, registerer prometheus.Registerer) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	delimiter, _ := cfg.Delimiter()
	codecs := codec.DefaultRegistry()
	if delimiter != ',' {
		codecs.Register(codec.NewCSV(delimiter))
	}

	storage, closers, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTLSeconds > 0 {
		cached := cache.NewCachedContentStorage(storage, time.Duration(cfg.CacheTTLSeconds)*time.Second)
		closers = append(closers, func() error {
			cached.Stop()
			return nil
		})
		storage = cached
	}

	var m *metrics.Metrics
	if registerer != nil {
		m = metrics.New(registerer)
	}
	manager := newManager(storage, codecs, logger, m)
	manager.closers = closers
	logger.Info().Str("backend", cfg.StoreBackend).Int("cache_ttl_seconds", cfg.CacheTTLSeconds).Msg("document store opened")
	return manager, nil
}

// NewWithStorage wires an already opened storage with the default codecs.
func NewWithStorage(storage store.ContentStorage, logger zerolog.Logger) *Manager {
	return newManager(storage, codec.DefaultRegistry(), logger, nil)
}

func newManager(storage store.ContentStorage, codecs *codec.Registry, logger zerolog.Logger, m *metrics.Metrics) *Manager {
	q := queue.New(storage,
		queue.WithLogger(logger.With().Str("component", "queue").Logger()),
		queue.WithMetrics(m),
	)
	coordinator := transfer.NewCoordinator(storage, q, codecs,
		transfer.WithLogger(logger.With().Str("component", "transfer").Logger()),
		transfer.WithMetrics(m),
	)
	return &Manager{
		storage:     storage,
		codecs:      codecs,
		queue:       q,
		coordinator: coordinator,
		logger:      logger,
	}
}

func openStorage(cfg *config.Config, logger zerolog.Logger) (store.ContentStorage, []func() error, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.SQLiteDirPath, 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite directory %v: %w", cfg.SQLiteDirPath, err)
		}
		s, err := sqlite.NewSQLiteContentStorage(filepath.Join(cfg.SQLiteDirPath, sqliteFileName))
		if err != nil {
			return nil, nil, err
		}
		return s, []func() error{s.Close}, nil
	case config.BackendPostgres:
		s, err := postgres.NewPGContentStorage(cfg.PgDatabaseUrl)
		if err != nil {
			return nil, nil, err
		}
		return s, []func() error{s.Close}, nil
	case config.BackendHTTP:
		s, err := remotehttp.NewRemoteContentStorage(cfg.RemoteBaseUrl, cfg.RemoteToken, cfg.RemoteRetryMax,
			logger.With().Str("component", "remote").Logger())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return s, nil, nil
	case config.BackendMemory:
		return inmem.NewMemoryContentStorage(), nil, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrConfiguration, cfg.StoreBackend)
}

func (m *Manager) Codecs() *codec.Registry {
	return m.codecs
}

func (m *Manager) Transfer(ctx context.Context, sourcePath, destPath string, predicate transfer.Predicate, opts transfer.Options) error {
	return m.coordinator.Transfer(ctx, sourcePath, destPath, predicate, opts)
}

func (m *Manager) ConvertFormat(ctx context.Context, sourcePath, destPath string, opts codec.ConvertOptions) error {
	return m.coordinator.ConvertFormat(ctx, sourcePath, destPath, opts)
}

func (m *Manager) VerifyConsistency(ctx context.Context, sourcePath, destPath string, predicate transfer.Predicate) (bool, error) {
	return m.coordinator.VerifyConsistency(ctx, sourcePath, destPath, predicate)
}

// FlushPendingWrites waits for every write queued so far.
func (m *Manager) FlushPendingWrites(ctx context.Context) error {
	return m.queue.Flush(ctx)
}

// Find returns the documents of the container at path the predicate selects,
// all of them when predicate is nil. A missing container holds no documents.
func (m *Manager) Find(ctx context.Context, path string, predicate transfer.Predicate) ([]codec.Document, error) {
	res, err := m.storage.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", path, err)
	}
	if !res.Found {
		return []codec.Document{}, nil
	}
	docs, err := m.codecs.ForPath(path).Parse(res.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", path, err)
	}
	if predicate == nil {
		return docs, nil
	}
	matching, _ := transfer.Partition(docs, predicate)
	return matching, nil
}

// Insert appends docs to the container at path, creating it when missing.
// The write is pinned to the revision read here, so a concurrent change of
// the container fails it with a revision conflict.
func (m *Manager) Insert(ctx context.Context, path string, docs ...codec.Document) (string, error) {
	path = store.NormalizePath(path)
	if path == "" {
		return "", fmt.Errorf("%w: path is required", transfer.ErrInvalidArgument)
	}
	res, err := m.storage.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %v: %w", path, err)
	}
	c := m.codecs.ForPath(path)
	existing := []codec.Document{}
	if res.Found {
		if existing, err = c.Parse(res.Content); err != nil {
			return "", fmt.Errorf("failed to parse %v: %w", path, err)
		}
	}
	all := append(existing, docs...)
	content, err := c.Serialize(all)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %v: %w", path, err)
	}
	return m.queue.Submit(ctx, queue.Write{
		Path:    path,
		Content: content,
		Message: fmt.Sprintf("insert %d documents into %v", len(docs), path),
		Expect:  &queue.Expectation{Exists: res.Found, Revision: res.Revision},
	}).Wait()
}

func (m *Manager) List(ctx context.Context, dir string) ([]store.Entry, error) {
	return m.storage.ListChildren(ctx, dir)
}

// Close waits for pending writes and releases the backend.
func (m *Manager) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := m.queue.Flush(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to flush pending writes: %w", err))
	}
	for _, closer := range m.closers {
		if err := closer(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
