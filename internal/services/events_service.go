package services

import (
	"context"
	"sync"
	"time"

	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/metrics"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/alexharl/vulture-events-backend/internal/query"
	"github.com/alexharl/vulture-events-backend/internal/scraper"
	"github.com/alexharl/vulture-events-backend/internal/search"
	"github.com/alexharl/vulture-events-backend/internal/store"
	"github.com/alexharl/vulture-events-backend/internal/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrSearchDisabled is returned by Search when no search backend is configured
var ErrSearchDisabled = errors.New("search is disabled")

// SourceRegistry resolves origins to sources
type SourceRegistry interface {
	Get(origin string) (scraper.Source, bool)
	Origins() []string
}

// Reconciler applies a scraped batch to the store
type Reconciler interface {
	Reconcile(ctx context.Context, origin string, events []models.Event) (models.ReconcileResult, error)
}

// QueryCache caches query results between imports
type QueryCache interface {
	QueryKey(ctx context.Context, scope string, query interface{}) (string, error)
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context) error
}

// Indexer mirrors events into a full text search backend
type Indexer interface {
	ReindexOrigin(ctx context.Context, origin string, events []models.Event) error
	SearchEvents(ctx context.Context, text string, limit int) ([]search.Document, error)
}

// Notifier announces finished imports
type Notifier interface {
	PublishImport(ctx context.Context, result models.ImportResult) error
}

// Taxonomy lists the known categories
type Taxonomy interface {
	Categories() []models.Category
}

// Dependencies groups the collaborators of EventsService. Cache, Indexer,
// Notifier, Metrics and Tracer are optional.
type Dependencies struct {
	Sources    SourceRegistry
	Reconciler Reconciler
	Store      store.Store
	Engine     *query.Engine
	Taxonomy   Taxonomy
	Cache      QueryCache
	Indexer    Indexer
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Tracer     tracing.Tracer
}

// EventsService runs imports and answers queries
type EventsService struct {
	sources    SourceRegistry
	reconciler Reconciler
	store      store.Store
	engine     *query.Engine
	taxonomy   Taxonomy
	cache      QueryCache
	indexer    Indexer
	notifier   Notifier
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
	validate   *validator.Validate
}

// NewEventsService creates a new events service
func NewEventsService(deps Dependencies) *EventsService {
	s := &EventsService{
		sources:    deps.Sources,
		reconciler: deps.Reconciler,
		store:      deps.Store,
		engine:     deps.Engine,
		taxonomy:   deps.Taxonomy,
		cache:      deps.Cache,
		indexer:    deps.Indexer,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		validate:   validator.New(),
	}
	if s.engine == nil {
		s.engine = query.NewEngine(time.Local, 0, 0)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics()
	}
	if s.tracer == nil {
		s.tracer = tracing.NewNoopTracer()
	}
	return s
}

// Origins returns the importable origins
func (s *EventsService) Origins() []string {
	return s.sources.Origins()
}

// PerformImport scrapes origin and reconciles the result into the store.
// A failed scrape leaves the store untouched.
func (s *EventsService) PerformImport(ctx context.Context, origin string) (models.ImportResult, error) {
	src, ok := s.sources.Get(origin)
	if !ok {
		return models.ImportResult{}, apperr.Newf(apperr.KindValidation, "Unknown source: %s", origin)
	}

	// imports triggered over HTTP report under the request's transaction
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		txn = s.tracer.StartTransaction("import/" + origin)
		defer s.tracer.EndTransaction(txn)
		if txn != nil {
			ctx = newrelic.NewContext(ctx, txn)
		}
	}
	s.tracer.AddAttribute(txn, "origin", origin)

	start := time.Now()
	runID := uuid.NewString()
	s.metrics.IncrementCounter(metrics.ImportRuns)

	logger := log.With().Str("origin", origin).Str("run_id", runID).Logger()
	logger.Info().Msg("Import started")

	endScrape := s.tracer.StartSegment(ctx, "scrape")
	scraped, err := src.Load(ctx)
	endScrape()
	if err != nil {
		s.importFailed(txn, origin, err)
		logger.Error().Err(err).Msg("Import failed while scraping")
		return models.ImportResult{}, err
	}

	endReconcile := s.tracer.StartSegment(ctx, "reconcile")
	reconciled, err := s.reconciler.Reconcile(ctx, origin, scraped.Events)
	endReconcile()
	if err != nil {
		s.importFailed(txn, origin, err)
		logger.Error().Err(err).Msg("Import failed while reconciling")
		return models.ImportResult{}, err
	}

	result := models.ImportResult{
		RunID:    runID,
		Origin:   origin,
		Scraped:  reconciled.Scraped,
		Created:  reconciled.Created,
		Updated:  reconciled.Updated,
		Deleted:  reconciled.Deleted,
		Failures: scraped.Failures,
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to invalidate query cache")
		}
	}

	if s.indexer != nil {
		endIndex := s.tracer.StartSegment(ctx, "reindex")
		if err := s.indexer.ReindexOrigin(ctx, origin, scraped.Events); err != nil {
			logger.Warn().Err(err).Msg("Failed to update search index")
		}
		endIndex()
	}

	if s.notifier != nil {
		if err := s.notifier.PublishImport(ctx, result); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish import notification")
		}
	}

	s.metrics.RecordSuccess("import_" + origin)
	s.metrics.IncrementCounterBy(metrics.EventsScraped, int64(result.Scraped))
	s.metrics.IncrementCounterBy(metrics.EventsCreated, int64(result.Created))
	s.metrics.IncrementCounterBy(metrics.EventsUpdated, int64(result.Updated))
	s.metrics.IncrementCounterBy(metrics.EventsDeleted, int64(result.Deleted))
	s.metrics.IncrementCounterBy(metrics.ParseFailures, int64(result.Failures))
	s.metrics.RecordDuration(metrics.ImportDuration, time.Since(start))

	logger.Info().
		Int("scraped", result.Scraped).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("failures", result.Failures).
		Dur("duration", time.Since(start)).
		Msg("Import finished")

	return result, nil
}

func (s *EventsService) importFailed(txn *newrelic.Transaction, origin string, err error) {
	s.tracer.RecordError(txn, err)
	s.metrics.IncrementCounter(metrics.ImportFailures)
	s.metrics.RecordError("import_" + origin)
}

// ImportAll imports the given origins, or every origin when none are
// given, concurrently. One origin failing does not affect the others.
func (s *EventsService) ImportAll(ctx context.Context, origins ...string) map[string]models.ImportOutcome {
	if len(origins) == 0 {
		origins = s.sources.Origins()
	}

	var mu sync.Mutex
	outcomes := make(map[string]models.ImportOutcome, len(origins))

	txn := newrelic.FromContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, origin := range origins {
		g.Go(func() error {
			ictx := gctx
			if txn != nil {
				ictx = newrelic.NewContext(gctx, txn.NewGoroutine())
			}
			result, err := s.PerformImport(ictx, origin)

			outcome := models.ImportOutcome{Success: err == nil}
			if err != nil {
				outcome.Message = apperr.Message(err)
			} else {
				outcome.Result = &result
			}

			mu.Lock()
			outcomes[origin] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Filter returns the events matching q
func (s *EventsService) Filter(ctx context.Context, q models.EventQuery) ([]models.Event, error) {
	if err := s.engine.ValidateIDs(q.IDs); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(q); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "Invalid query")
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordDuration(metrics.QueryDuration, time.Since(start))
	}()

	// results depend on the current day through the baseline
	scope := "filter:" + time.Unix(s.engine.StartOfToday(), 0).UTC().Format("20060102")
	var key string
	if s.cache != nil {
		var err error
		key, err = s.cache.QueryKey(ctx, scope, q)
		if err == nil {
			var cached []models.Event
			if err := s.cache.Get(ctx, key, &cached); err == nil {
				s.metrics.IncrementCounter(metrics.CacheHits)
				return cached, nil
			}
			s.metrics.IncrementCounter(metrics.CacheMisses)
		}
	}

	collection, err := s.store.Read(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	s.metrics.SetGauge(metrics.CollectionEvents, int64(len(collection.Events)))

	events, err := s.engine.Filter(collection.Events, q)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := s.cache.Set(ctx, key, events); err != nil {
			log.Warn().Err(err).Msg("Failed to cache query result")
		}
	}
	return events, nil
}

// GetByID returns the event with the given id
func (s *EventsService) GetByID(ctx context.Context, id string) (*models.Event, error) {
	collection, err := s.store.Read(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	event, ok := query.GetByID(collection.Events, id)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "Event not found")
	}
	return event, nil
}

// GetByIDs returns the events with the given ids in request order
func (s *EventsService) GetByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	if err := s.engine.ValidateIDs(ids); err != nil {
		return nil, err
	}

	collection, err := s.store.Read(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return s.engine.ByIDs(collection.Events, ids)
}

// Categories returns the category taxonomy
func (s *EventsService) Categories() []models.Category {
	if s.taxonomy == nil {
		return []models.Category{}
	}
	return s.taxonomy.Categories()
}

// SearchEnabled reports whether Search is backed by an index
func (s *EventsService) SearchEnabled() bool {
	return s.indexer != nil
}

// Search runs a full text search against the index
func (s *EventsService) Search(ctx context.Context, text string, limit int) ([]search.Document, error) {
	if s.indexer == nil {
		return nil, ErrSearchDisabled
	}
	if text == "" {
		return nil, apperr.New(apperr.KindValidation, "Query text is required")
	}
	docs, err := s.indexer.SearchEvents(ctx, text, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	return docs, nil
}

func storeError(err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Wrap(apperr.KindStore, err, "failed to load events")
}
