// Package reconciler merges one origin's freshly scraped events into the
// persisted collection.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/alexharl/vulture-events-backend/internal/store"
	"github.com/rs/zerolog/log"
)

// Reconciler is the single writer of the collection. Every load, merge
// and persist sequence holds mu. Stores implementing store.Updater run the
// sequence under their own lock as well, which also excludes reconcilers in
// other processes writing to the same backend.
type Reconciler struct {
	store store.Store
	mu    sync.Mutex
}

// New creates a reconciler writing to s
func New(s store.Store) *Reconciler {
	return &Reconciler{store: s}
}

// Reconcile replaces the events of origin in the store with events.
// Persisted events of origin missing from events are deleted, matching
// ids are overwritten in place and the rest is appended. Other origins
// are never touched. On a store failure the prior state is kept.
func (r *Reconciler) Reconcile(ctx context.Context, origin string, events []models.Event) (models.ReconcileResult, error) {
	if origin == "" {
		return models.ReconcileResult{}, apperr.New(apperr.KindValidation, "origin is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	result, err := r.apply(ctx, origin, events)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	log.Info().
		Str("origin", origin).
		Int("scraped", result.Scraped).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation finished")

	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, origin string, events []models.Event) (models.ReconcileResult, error) {
	if u, ok := r.store.(store.Updater); ok {
		var result models.ReconcileResult
		err := u.Update(ctx, func(current models.Collection) (models.Collection, error) {
			var merged models.Collection
			merged, result = Merge(current, origin, events)
			return merged, nil
		})
		if err != nil {
			return models.ReconcileResult{}, wrapStore(err, "failed to update collection")
		}
		return result, nil
	}

	collection, err := r.store.Read(ctx)
	if err != nil {
		return models.ReconcileResult{}, wrapStore(err, "failed to load collection")
	}

	merged, result := Merge(collection, origin, events)

	if err := r.store.Write(ctx, merged); err != nil {
		return models.ReconcileResult{}, wrapStore(err, "failed to persist collection")
	}
	return result, nil
}

// Merge is the pure part of Reconcile
func Merge(collection models.Collection, origin string, events []models.Event) (models.Collection, models.ReconcileResult) {
	result := models.ReconcileResult{Scraped: len(events)}
	batch := dedupe(origin, events)

	incoming := make(map[string]int, len(batch))
	for i, e := range batch {
		incoming[e.ID] = i
	}
	placed := make(map[string]bool, len(batch))

	out := make([]models.Event, 0, len(collection.Events)+len(batch))
	for _, existing := range collection.Events {
		if existing.Origin != origin {
			out = append(out, existing)
			continue
		}
		idx, ok := incoming[existing.ID]
		switch {
		case !ok:
			result.Deleted++
		case placed[existing.ID]:
			// a duplicate key already in the store collapses into the first copy
			result.Deleted++
		default:
			out = append(out, batch[idx])
			placed[existing.ID] = true
			result.Updated++
		}
	}

	for _, e := range batch {
		if placed[e.ID] {
			continue
		}
		out = append(out, e)
		result.Created++
	}

	return models.Collection{Events: out}, result
}

// dedupe stamps the origin on every event and keeps one event per id: the
// last occurrence wins, at the position of the first.
func dedupe(origin string, events []models.Event) []models.Event {
	out := make([]models.Event, 0, len(events))
	index := make(map[string]int, len(events))
	for _, e := range events {
		if e.ID == "" {
			continue
		}
		e.Origin = origin
		if i, ok := index[e.ID]; ok {
			out[i] = e
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

func wrapStore(err error, message string) error {
	if apperr.IsKind(err, apperr.KindStore) {
		return err
	}
	return apperr.Wrap(apperr.KindStore, err, message)
}
