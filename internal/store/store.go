// Package store is the persistence gateway (spec §4.2): a SQLite-backed
// store for the eleven logical collections the supervisor keeps, with a
// startup connectivity probe, a degraded-mode fallback, and a
// backoff-driven reconnect watchdog. Grounded on pkg/db's single-writer
// sql.Open/SetMaxOpenConns(1) idiom, generalized into a gateway that can
// survive the database going away mid-run.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"sentinel/internal/apperr"
	"sentinel/internal/bus"
	"sentinel/pkg/cache"
)

const (
	startupProbeTimeout = 6 * time.Second
	watchdogInterval    = 15 * time.Second
	watchdogMaxBackoff  = 15 * time.Minute
	hotCacheTTL         = 1 * time.Second
)

// Store is the persistence gateway. All reads and writes go through it so
// degraded mode and the hot-read cache are applied uniformly.
type Store struct {
	db   *sql.DB
	bus  *bus.Bus
	path string

	degraded atomic.Bool

	snapshotCache *cache.TTLCache
	killSwitchCache *cache.TTLCache
	rulesCache      *cache.TTLCache

	stopWatchdog chan struct{}
}

// Open creates (if needed) the SQLite file at path, applies migrations,
// and returns a Store. If the initial connectivity probe does not
// succeed within startupProbeTimeout, Open still returns a usable Store
// in degraded mode so the process can start and retry in the background
// rather than refuse to boot on a transient disk/lock issue.
func Open(path string, b *bus.Bus) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers a single writer.
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:              db,
		bus:             b,
		path:            path,
		snapshotCache:   cache.NewTTLCache(hotCacheTTL),
		killSwitchCache: cache.NewTTLCache(hotCacheTTL),
		rulesCache:      cache.NewTTLCache(hotCacheTTL),
		stopWatchdog:    make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupProbeTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		s.degraded.Store(true)
	} else if err := applyMigrations(db); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	go s.watchdog()

	return s, nil
}

// Degraded reports whether the gateway currently believes the database
// is unreachable.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// Close stops the watchdog and releases the handle.
func (s *Store) Close() error {
	close(s.stopWatchdog)
	return s.db.Close()
}

// watchdog retries connectivity with exponential backoff (15s doubling
// to a 15-minute cap) whenever the gateway is degraded, and publishes
// bus.TopicSystemReconnect when it recovers.
func (s *Store) watchdog() {
	backoff := watchdogInterval
	since := time.Now()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopWatchdog:
			return
		case <-ticker.C:
			if !s.degraded.Load() {
				backoff = watchdogInterval
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), startupProbeTimeout)
			err := s.db.PingContext(ctx)
			cancel()
			if err != nil {
				backoff *= 2
				if backoff > watchdogMaxBackoff {
					backoff = watchdogMaxBackoff
				}
				ticker.Reset(backoff)
				continue
			}

			if err := applyMigrations(s.db); err != nil {
				ticker.Reset(backoff)
				continue
			}

			s.degraded.Store(false)
			s.invalidateHotCache()
			if s.bus != nil {
				s.bus.Publish(bus.TopicSystemReconnect, map[string]any{
					"downtime": time.Since(since).String(),
				})
			}
			backoff = watchdogInterval
			ticker.Reset(backoff)
			since = time.Now()
		}
	}
}

func (s *Store) invalidateHotCache() {
	s.snapshotCache.Invalidate()
	s.killSwitchCache.Invalidate()
	s.rulesCache.Invalidate()
}

// guard refuses writes while degraded; reads are still attempted against
// the hot-read cache by callers before guard is ever consulted.
func (s *Store) guard() error {
	if s.degraded.Load() {
		return apperr.ErrDegraded
	}
	return nil
}
