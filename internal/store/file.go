package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
)

// FileStore keeps the collection in one JSON file
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read loads the collection. A missing file is an empty collection.
func (f *FileStore) Read(ctx context.Context) (models.Collection, error) {
	if err := ctx.Err(); err != nil {
		return models.Collection{}, apperr.Wrap(apperr.KindStore, err, "read cancelled")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Collection{Events: []models.Event{}}, nil
		}
		return models.Collection{}, apperr.Wrap(apperr.KindStore, err, "failed to read collection file")
	}
	return decode(b)
}

// Update runs fn between a read and a write while holding an exclusive
// flock on <path>.lock, so stores in other processes pointing at the same
// file wait for each other
func (f *FileStore) Update(ctx context.Context, fn UpdateFunc) error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()

	current, err := f.Read(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return f.Write(ctx, next)
}

func (f *FileStore) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, err, "failed to create store directory")
	}
	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, err, "failed to open lock file")
	}
	fd := int(lf.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX); err != nil {
		lf.Close()
		return nil, apperr.Wrap(apperr.KindStore, err, "failed to lock collection file")
	}
	return func() {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		lf.Close()
	}, nil
}

// Write replaces the file through a temp file and rename, so readers
// never observe a partially written collection
func (f *FileStore) Write(ctx context.Context, collection models.Collection) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindStore, err, "write cancelled")
	}

	b, err := encode(collection)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStore, err, "failed to create store directory")
	}

	tmp, err := os.CreateTemp(dir, ".events-*.json")
	if err != nil {
		return apperr.Wrap(apperr.KindStore, err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindStore, err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindStore, err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindStore, err, "failed to close temp file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return apperr.Wrap(apperr.KindStore, err, "failed to replace collection file")
	}
	return nil
}
