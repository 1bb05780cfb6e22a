package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/cache"
	"github.com/alexharl/vulture-events-backend/internal/categories"
	"github.com/alexharl/vulture-events-backend/internal/messaging"
	"github.com/alexharl/vulture-events-backend/internal/metrics"
	"github.com/alexharl/vulture-events-backend/internal/query"
	"github.com/alexharl/vulture-events-backend/internal/reconciler"
	"github.com/alexharl/vulture-events-backend/internal/scraper"
	"github.com/alexharl/vulture-events-backend/internal/search"
	"github.com/alexharl/vulture-events-backend/internal/services"
	"github.com/alexharl/vulture-events-backend/internal/store"
	"github.com/alexharl/vulture-events-backend/internal/tracing"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// application holds the wired components shared by every command
type application struct {
	cfg     config.Config
	service *services.EventsService
	metrics *metrics.Metrics
	tracer  tracing.Tracer
	closers []func() error
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.tracer.Close()
}

func configureLogging(cfg config.LoggingConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.Level == "" {
		return
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, keeping default")
		return
	}
	zerolog.SetGlobalLevel(level)
}

// bootstrap loads the configuration and wires the events service. Optional
// backends that fail to start are logged and skipped.
func bootstrap(ctx context.Context) (*application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.Logging)

	app := &application{cfg: cfg, metrics: metrics.NewMetrics()}

	st, err := store.New(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize store")
	}
	if c, ok := st.(interface{ Close() error }); ok {
		app.closers = append(app.closers, c.Close)
	}
	app.metrics.SetHealth("store", true)
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store initialized")

	overrides, err := categories.LoadOverrides(cfg.Categories.OverridesPath)
	if err != nil {
		return nil, err
	}
	classifier, resolver, err := overrides.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build category classifier")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewNoopTracer()
	}
	app.tracer = tracer

	deps := services.Dependencies{
		Sources:    scraper.NewRegistryFromConfig(cfg, resolver, classifier),
		Reconciler: reconciler.New(st),
		Store:      st,
		Engine:     query.NewEngine(cfg.Location(), cfg.Query.DefaultLimit, cfg.Query.MaxIDs),
		Taxonomy:   classifier,
		Metrics:    app.metrics,
		Tracer:     tracer,
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		app.metrics.SetHealth("redis", false)
	} else {
		deps.Cache = redisCache
		app.closers = append(app.closers, redisCache.Close)
		if redisCache.Enabled() {
			app.metrics.SetHealth("redis", true)
		}
	}

	if cfg.Elastic.Enabled {
		elasticClient, err := search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		} else {
			deps.Indexer = elasticClient
		}
	}

	publisher, err := messaging.NewServiceBusPublisher(cfg.Azure)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus publisher, continuing without notifications")
	} else {
		deps.Notifier = publisher
		app.closers = append(app.closers, publisher.Close)
	}

	app.service = services.NewEventsService(deps)
	return app, nil
}
