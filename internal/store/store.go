// Package store persists the event collection as one document.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/pkg/errors"
)

// Store reads and writes the whole collection. A Write either fully
// replaces the stored document or leaves it untouched.
type Store interface {
	Read(ctx context.Context) (models.Collection, error)
	Write(ctx context.Context, collection models.Collection) error
}

// UpdateFunc derives the next collection from the current one
type UpdateFunc func(current models.Collection) (models.Collection, error)

// Updater is implemented by stores that run a read-modify-write under a
// lock shared by every process using the same backend. An error returned
// by fn aborts the update and is passed through unchanged.
type Updater interface {
	Update(ctx context.Context, fn UpdateFunc) error
}

// New creates the store selected by cfg.Store.Driver
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", "file":
		return NewFileStore(cfg.Store.Path), nil
	case "postgres":
		return NewPostgresStore(cfg.DB)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func encode(collection models.Collection) ([]byte, error) {
	if collection.Events == nil {
		collection.Events = []models.Event{}
	}
	b, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, err, "failed to encode collection")
	}
	return b, nil
}

func decode(b []byte) (models.Collection, error) {
	var collection models.Collection
	if len(b) == 0 {
		return models.Collection{Events: []models.Event{}}, nil
	}
	if err := json.Unmarshal(b, &collection); err != nil {
		return models.Collection{}, apperr.Wrap(apperr.KindStore, err, "failed to decode collection")
	}
	if collection.Events == nil {
		collection.Events = []models.Event{}
	}
	return collection, nil
}

// MemoryStore keeps the collection in process
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read returns a copy of the stored collection
func (m *MemoryStore) Read(_ context.Context) (models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decode(m.data)
}

// Update applies fn while holding the store lock
func (m *MemoryStore) Update(_ context.Context, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := decode(m.data)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	b, err := encode(next)
	if err != nil {
		return err
	}
	m.data = b
	return nil
}

// Write replaces the stored collection
func (m *MemoryStore) Write(_ context.Context, collection models.Collection) error {
	b, err := encode(collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = b
	m.mu.Unlock()
	return nil
}
