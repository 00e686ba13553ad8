package database

import (
	"errors"
	"log/slog"
	"sync"

	"beast_bridge/internal/models"
)

const (
	csvBatchSize      = 5000
	defaultCacheLimit = 10000
)

// Registry annotates live aircraft with reference data. Lookups, including
// misses, are cached so the database is hit once per address.
type Registry struct {
	repo       AircraftRepository
	closer     func() error
	mu         sync.RWMutex
	cache      map[string]*models.AircraftInfo
	cacheLimit int
}

// NewRegistry wraps repo with a lookup cache
func NewRegistry(repo AircraftRepository) *Registry {
	return &Registry{
		repo:       repo,
		cache:      make(map[string]*models.AircraftInfo),
		cacheLimit: defaultCacheLimit,
	}
}

// OpenRegistry opens the database at dbPath and, when its aircraft table is
// empty, loads it from csvPaths
func OpenRegistry(dbPath string, csvPaths []string) (*Registry, error) {
	db, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	repo := db.AircraftRepository()
	populated, err := repo.IsTablePopulated()
	if err != nil {
		db.Close()
		return nil, err
	}

	switch {
	case populated:
		slog.Info("Aircraft registry already populated", "db_path", dbPath)
	case len(csvPaths) == 0:
		slog.Warn("Aircraft registry is empty and no CSV files are configured", "db_path", dbPath)
	default:
		slog.Info("Aircraft registry is empty, loading from CSV files", "csv_paths", csvPaths)
		if err := repo.LoadFromMultipleCSV(csvPaths, csvBatchSize); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("Loaded aircraft registry from CSV")
	}

	r := NewRegistry(repo)
	r.closer = db.Close
	return r, nil
}

// Lookup returns reference data for hex, or nil when the registry has none
func (r *Registry) Lookup(hex string) *models.AircraftInfo {
	r.mu.RLock()
	info, ok := r.cache[hex]
	r.mu.RUnlock()
	if ok {
		return info
	}

	info, err := r.repo.Lookup(hex)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("Aircraft registry lookup failed", "hex", hex, "error", err)
			return nil
		}
		info = nil
	}

	r.mu.Lock()
	if len(r.cache) >= r.cacheLimit {
		r.cache = make(map[string]*models.AircraftInfo)
	}
	r.cache[hex] = info
	r.mu.Unlock()
	return info
}

// Enrich annotates every record in place
func (r *Registry) Enrich(aircraft []models.Aircraft) {
	for i := range aircraft {
		r.Lookup(aircraft[i].Hex).Annotate(&aircraft[i])
	}
}

func (r *Registry) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
