// Package file provides a file-backed implementation of the storage gateway.
// All data lives in memory and is persisted to a single JSON file with
// debounced background saves.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getrestd/restd/pkg/storage"
)

// Current data format version for migration support.
const dataVersion = 1

const defaultSaveDebounce = 500 * time.Millisecond

// Store implements storage.Gateway using a JSON file.
type Store struct {
	path         string
	mem          *storage.Memory
	dirty        atomic.Bool
	saving       atomic.Bool
	saveDebounce time.Duration
	saveCh       chan struct{}
	closeCh      chan struct{}
	closeOnce    sync.Once
	closedCh     chan struct{} // signals when saveLoop has exited
	log          *slog.Logger
}

var _ storage.Gateway = (*Store)(nil)

// storeData is the persisted file format.
type storeData struct {
	Version   int                       `json:"version"`
	Resources map[string][]storage.Item `json:"resources,omitempty"`
}

// Open creates a Store backed by the given file path, loading existing data
// when the file is present. Parent directories are created as needed.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		path:         path,
		mem:          storage.NewMemory(),
		saveDebounce: defaultSaveDebounce,
		saveCh:       make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		closedCh:     make(chan struct{}),
		log:          log,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	go s.saveLoop()
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse store file %s: %w", s.path, err)
	}
	if stored.Version > dataVersion {
		return fmt.Errorf("store file %s has unsupported version %d", s.path, stored.Version)
	}

	s.mem.Restore(stored.Resources)
	return nil
}

// saveLoop handles debounced saving to prevent excessive disk writes.
func (s *Store) saveLoop() {
	defer close(s.closedCh)
	var timer *time.Timer
	for {
		select {
		case <-s.saveCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.saveDebounce, func() {
				if s.dirty.Load() && !s.saving.Load() {
					if err := s.doSave(); err != nil {
						s.log.Error("failed to save store data", "error", err)
					}
				}
			})
		case <-s.closeCh:
			if timer != nil {
				timer.Stop()
			}
			// Final save on close
			if s.dirty.Load() {
				if err := s.doSave(); err != nil {
					s.log.Error("failed to save store data on close", "error", err)
				}
			}
			return
		}
	}
}

func (s *Store) doSave() error {
	s.saving.Store(true)
	defer s.saving.Store(false)
	s.dirty.Store(false)

	stored := storeData{
		Version:   dataVersion,
		Resources: s.mem.Snapshot(),
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	// Atomic write: temp file then rename.
	tmp, err := os.CreateTemp(dir, ".restd-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write store data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// markDirty flags unsaved changes and nudges the save loop.
func (s *Store) markDirty() {
	s.dirty.Store(true)
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

// GetAll returns every item in the resource.
func (s *Store) GetAll(ctx context.Context, resource string) ([]storage.Item, error) {
	return s.mem.GetAll(ctx, resource)
}

// GetByID returns a single item by id.
func (s *Store) GetByID(ctx context.Context, resource, id string) (storage.Item, error) {
	return s.mem.GetByID(ctx, resource, id)
}

// Create stores a new item and schedules a save.
func (s *Store) Create(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	created, err := s.mem.Create(ctx, resource, item)
	if err != nil {
		return nil, err
	}
	s.markDirty()
	return created, nil
}

// Replace fully replaces an existing item and schedules a save.
func (s *Store) Replace(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	replaced, err := s.mem.Replace(ctx, resource, item)
	if err != nil {
		return nil, err
	}
	s.markDirty()
	return replaced, nil
}

// Update stores a caller-merged item and schedules a save.
func (s *Store) Update(ctx context.Context, resource string, item storage.Item) (storage.Item, error) {
	updated, err := s.mem.Update(ctx, resource, item)
	if err != nil {
		return nil, err
	}
	s.markDirty()
	return updated, nil
}

// DeleteByID removes an item and schedules a save.
func (s *Store) DeleteByID(ctx context.Context, resource, id string) error {
	if err := s.mem.DeleteByID(ctx, resource, id); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// DeleteAll removes every item in the resource and schedules a save.
func (s *Store) DeleteAll(ctx context.Context, resource string) error {
	if err := s.mem.DeleteAll(ctx, resource); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Seed loads initial items into a resource without marking the store dirty.
func (s *Store) Seed(resource string, items []storage.Item) {
	s.mem.Seed(resource, items)
}

// Close flushes pending writes and stops the save loop.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.closedCh
	return nil
}
