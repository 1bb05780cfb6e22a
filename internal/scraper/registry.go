package scraper

import (
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/categories"
	"github.com/alexharl/vulture-events-backend/internal/tags"
	"github.com/rs/zerolog/log"
)

// Registry maps origins to their sources
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates a registry holding the given sources
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the source of its origin
func (r *Registry) Register(s Source) {
	r.sources[s.Origin()] = s
}

// Get returns the source for origin
func (r *Registry) Get(origin string) (Source, bool) {
	s, ok := r.sources[origin]
	return s, ok
}

// Origins returns the registered origins, sorted
func (r *Registry) Origins() []string {
	origins := make([]string, 0, len(r.sources))
	for o := range r.sources {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	return origins
}

// NewRegistryFromConfig builds the enabled venue sources
func NewRegistryFromConfig(cfg config.Config, resolver *tags.Resolver, classifier *categories.Classifier) *Registry {
	fetcher := NewFetcher(FetchOptions{
		Timeout:    cfg.Import.Timeout,
		Retries:    cfg.Import.Retries,
		Backoff:    cfg.Import.Backoff,
		MaxBackoff: cfg.Import.MaxBackoff,
		UserAgent:  cfg.Import.UserAgent,
	})
	loc := cfg.Location()
	concurrency := cfg.Import.Concurrency
	registry := NewRegistry()

	if z := cfg.Sources.Zbau; z.Enabled {
		opts := ZbauOptions{
			BaseURL:       z.BaseURL,
			AlgoliaAppID:  z.AlgoliaAppID,
			AlgoliaAPIKey: z.AlgoliaAPIKey,
			AlgoliaIndex:  z.AlgoliaIndex,
			HitsPerPage:   z.HitsPerPage,
			DetailURL:     z.DetailURL,
			FallbackFile:  z.FallbackFile,
			Location:      loc,
		}
		if z.Mode == "html" {
			registry.Register(NewPipeline[*goquery.Selection](NewZbauProgram(opts, fetcher), resolver, classifier, concurrency))
		} else {
			registry.Register(NewPipeline[AlgoliaHit](NewZbauAlgolia(opts, fetcher), resolver, classifier, concurrency))
		}
	}

	ticketShops := []struct {
		origin string
		cfg    config.TicketIOConfig
	}{
		{"haus33", cfg.Sources.Haus33},
		{"rakete", cfg.Sources.Rakete},
	}
	for _, shop := range ticketShops {
		if !shop.cfg.Enabled {
			continue
		}
		strategy := NewTicketIO(TicketIOOptions{
			Origin:       shop.origin,
			URL:          shop.cfg.URL,
			Venue:        shop.cfg.Location,
			AgeLimit:     shop.cfg.AgeLimit,
			Categories:   shop.cfg.DefaultCategories,
			FallbackFile: shop.cfg.FallbackFile,
			Location:     loc,
			Now:          time.Now,
		}, fetcher)
		registry.Register(NewPipeline[*goquery.Selection](strategy, resolver, classifier, concurrency))
	}

	log.Info().Strs("origins", registry.Origins()).Msg("Sources registered")
	return registry
}
