package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wxplume/srefproxy/internal/observability"
)

// snapshotter persists the store to disk on a debounced schedule: a
// single-slot delayed task that is rescheduled, not stacked, on each
// mutation, so a burst of writes collapses into one snapshot.
type snapshotter struct {
	mu       sync.Mutex
	timer    *time.Timer
	store    *MemoryStore
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// EnablePersistence attaches a debounced disk snapshotter to the store and
// reloads any previous snapshot, discarding entries that expired while the
// process was down. Call before the store is shared with request handlers.
func (s *MemoryStore) EnablePersistence(path string, debounce time.Duration, logger *zap.Logger) error {
	if path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	snap := &snapshotter{
		store:    s,
		path:     path,
		debounce: debounce,
		logger:   logger,
	}
	if err := snap.load(); err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Flush writes a snapshot immediately and cancels any pending delayed write.
// Call during shutdown.
func (s *MemoryStore) Flush() error {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()
	if snap == nil {
		return nil
	}
	snap.mu.Lock()
	if snap.timer != nil {
		snap.timer.Stop()
		snap.timer = nil
	}
	snap.mu.Unlock()
	return snap.write()
}

// schedule arms or re-arms the delayed write.
func (sn *snapshotter) schedule() {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.timer == nil {
		sn.timer = time.AfterFunc(sn.debounce, func() {
			if err := sn.write(); err != nil {
				observability.CacheSnapshotErrorsTotal.Inc()
				if sn.logger != nil {
					sn.logger.Warn("cache snapshot failed", zap.Error(err))
				}
			}
		})
		return
	}
	sn.timer.Reset(sn.debounce)
}

// write serializes a point-in-time copy of the store to disk. The copy is
// taken under the store lock but marshalling and the file write happen
// outside it, so concurrent mutations are not blocked for the duration.
func (sn *snapshotter) write() error {
	sn.store.mu.Lock()
	copied := make(map[string]entry, len(sn.store.data))
	for k, e := range sn.store.data {
		copied[k] = e
	}
	sn.store.mu.Unlock()

	raw, err := json.Marshal(copied)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := sn.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, sn.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	observability.CacheSnapshotWritesTotal.Inc()
	if sn.logger != nil {
		sn.logger.Debug("cache snapshot written", zap.String("path", sn.path), zap.Int("entries", len(copied)))
	}
	return nil
}

// load reads a previous snapshot into the store. Entries whose expiry has
// already passed are discarded, never resurrected. A missing file is not an
// error.
func (sn *snapshotter) load() error {
	raw, err := os.ReadFile(sn.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var stored map[string]entry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	sn.store.mu.Lock()
	defer sn.store.mu.Unlock()
	now := sn.store.now()
	loaded := 0
	for k, e := range stored {
		if now.After(e.ExpiresAt) {
			continue
		}
		sn.store.data[k] = e
		loaded++
	}
	if sn.logger != nil {
		sn.logger.Info("cache snapshot loaded", zap.String("path", sn.path), zap.Int("entries", loaded), zap.Int("discarded", len(stored)-loaded))
	}
	return nil
}
