// Package scraper turns venue pages and APIs into normalized events.
//
// Every venue is a Strategy: it fetches one raw payload, enumerates candidate
// entries in it and extracts one event per candidate. Pipeline runs a strategy,
// isolates per-candidate failures and applies tag resolution and classification.
package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/categories"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/alexharl/vulture-events-backend/internal/tags"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrSkip marks a candidate that is not an event (no id, cancelled, ...)
var ErrSkip = errors.New("candidate skipped")

// Strategy is the venue specific part of a scrape
type Strategy[C any] interface {
	Origin() string
	Fetch(ctx context.Context) ([]byte, error)
	Enumerate(payload []byte) ([]C, error)
	Extract(ctx context.Context, candidate C) (models.Event, error)
}

// Finisher is implemented by strategies that adjust an event after tags
// and categories are resolved
type Finisher[C any] interface {
	Finish(candidate C, event *models.Event)
}

// Result is the outcome of one scrape
type Result struct {
	Events   []models.Event
	Failures int
	Skipped  int
	Duration time.Duration
}

// Source is a runnable scrape for one origin
type Source interface {
	Origin() string
	Load(ctx context.Context) (Result, error)
}

// Pipeline adapts a Strategy to a Source
type Pipeline[C any] struct {
	strategy    Strategy[C]
	resolver    *tags.Resolver
	classifier  *categories.Classifier
	concurrency int
}

// NewPipeline creates a pipeline extracting at most concurrency candidates at once
func NewPipeline[C any](strategy Strategy[C], resolver *tags.Resolver, classifier *categories.Classifier, concurrency int) *Pipeline[C] {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline[C]{
		strategy:    strategy,
		resolver:    resolver,
		classifier:  classifier,
		concurrency: concurrency,
	}
}

// Origin returns the origin the strategy scrapes
func (p *Pipeline[C]) Origin() string {
	return p.strategy.Origin()
}

// Load fetches, enumerates and extracts. A fetch or root parse failure aborts
// the whole load; a failing candidate is logged, counted and skipped.
func (p *Pipeline[C]) Load(ctx context.Context) (Result, error) {
	start := time.Now()
	origin := p.strategy.Origin()

	payload, err := p.strategy.Fetch(ctx)
	if err != nil {
		if apperr.KindOf(err) != "" {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.KindFetch, err, fmt.Sprintf("failed to fetch %s", origin))
	}

	candidates, err := p.strategy.Enumerate(payload)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindFetch, err, fmt.Sprintf("failed to parse %s payload", origin))
	}

	extracted := make([]*models.Event, len(candidates))
	var failures, skipped int64

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			event, err := p.extract(ctx, candidate)
			switch {
			case errors.Is(err, ErrSkip):
				atomic.AddInt64(&skipped, 1)
			case err != nil:
				atomic.AddInt64(&failures, 1)
				log.Warn().Err(err).Str("origin", origin).Int("candidate", i).Msg("Failed to parse event, skipping")
			default:
				extracted[i] = &event
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, apperr.Wrap(apperr.KindFetch, err, fmt.Sprintf("import of %s cancelled", origin))
	}

	events := make([]models.Event, 0, len(candidates))
	for _, e := range extracted {
		if e != nil {
			events = append(events, *e)
		}
	}

	result := Result{
		Events:   events,
		Failures: int(failures),
		Skipped:  int(skipped),
		Duration: time.Since(start),
	}

	log.Info().
		Str("origin", origin).
		Int("scraped", len(events)).
		Int("failures", result.Failures).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Scrape finished")

	return result, nil
}

func (p *Pipeline[C]) extract(ctx context.Context, candidate C) (event models.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.KindParse, "panic while extracting: %v", r)
		}
	}()

	event, err = p.strategy.Extract(ctx, candidate)
	if err != nil {
		if errors.Is(err, ErrSkip) || apperr.KindOf(err) != "" {
			return models.Event{}, err
		}
		return models.Event{}, apperr.Wrap(apperr.KindParse, err, "failed to extract event")
	}
	if event.ID == "" {
		return models.Event{}, ErrSkip
	}

	event.Origin = p.strategy.Origin()
	if p.resolver != nil {
		event.Tags = mergeTags(p.resolver.ResolveAll(event.Title, event.Subtitle), event.Tags)
	}
	if p.classifier != nil {
		p.classifier.Apply(&event)
	}
	if f, ok := any(p.strategy).(Finisher[C]); ok {
		f.Finish(candidate, &event)
	}

	log.Debug().Str("origin", event.Origin).Str("event_id", event.ID).Msg("Parsed event")
	return event, nil
}

// mergeTags appends the strategy's preset tags to the resolved ones
func mergeTags(resolved, preset []string) []string {
	seen := make(map[string]struct{}, len(resolved))
	for _, t := range resolved {
		seen[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range preset {
		if _, dup := seen[strings.ToLower(t)]; dup {
			continue
		}
		seen[strings.ToLower(t)] = struct{}{}
		resolved = append(resolved, t)
	}
	return resolved
}
