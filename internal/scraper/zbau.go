package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const zbauOrigin = "zbau"

// FeaturedCategory marks events highlighted by the venue
const FeaturedCategory = "featured"

// ZbauOptions configures the z-bau sources
type ZbauOptions struct {
	BaseURL       string
	AlgoliaAppID  string
	AlgoliaAPIKey string
	AlgoliaIndex  string
	AlgoliaURL    string // overrides the url derived from the app id
	HitsPerPage   int
	EventURL      string // with a {slug} placeholder
	DetailURL     string // with a {slug} placeholder, empty disables detail fetches
	FallbackFile  string
	Location      *time.Location
	Now           func() time.Time
}

func (o *ZbauOptions) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.HitsPerPage <= 0 {
		o.HitsPerPage = 1000
	}
	if o.EventURL == "" {
		o.EventURL = strings.TrimRight(o.BaseURL, "/") + "/programm/{slug}"
	}
}

// flexString accepts JSON strings, numbers and booleans
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	switch string(b) {
	case "true":
		*f = "1"
	case "false":
		*f = "0"
	default:
		*f = flexString(b)
	}
	return nil
}

// AlgoliaHit is one entry of the z-bau program index
type AlgoliaHit struct {
	ObjectID         flexString `json:"objectID"`
	Slug             string     `json:"slug"`
	IsFeatured       flexString `json:"is_featured"`
	IsCancelled      flexString `json:"is_cancelled"`
	IsPast           flexString `json:"is_past"`
	Title            string     `json:"title"`
	Subtitle         string     `json:"subtitle"`
	Type             string     `json:"type"`
	DateTitle        string     `json:"date_title"`
	DateFilterString string     `json:"date_filter_string"`
	StartTime        string     `json:"start_time"`
	StartTimestamp   flexString `json:"start_timestamp"`
	EntryTime        string     `json:"entry_time"`
	Location         string     `json:"location"`
	Price            string     `json:"price"`
	Presale          string     `json:"presale"`
	AgeRestriction   string     `json:"age_restriction"`
	PresentedBy      string     `json:"presented_by"`
}

// AlgoliaResponse is the multi-query response of the index
type AlgoliaResponse struct {
	Results []struct {
		Hits []AlgoliaHit `json:"hits"`
	} `json:"results"`
}

type zbauDetailResponse struct {
	HTML struct {
		Content string `json:"content"`
	} `json:"html"`
}

// ZbauAlgolia reads the z-bau program from its search index and enriches
// every hit from the event detail endpoint
type ZbauAlgolia struct {
	opts    ZbauOptions
	fetcher *Fetcher
}

// NewZbauAlgolia creates the index backed z-bau strategy
func NewZbauAlgolia(opts ZbauOptions, fetcher *Fetcher) *ZbauAlgolia {
	opts.defaults()
	return &ZbauAlgolia{opts: opts, fetcher: fetcher}
}

// Origin returns "zbau"
func (s *ZbauAlgolia) Origin() string {
	return zbauOrigin
}

// Fetch queries the index, one large page
func (s *ZbauAlgolia) Fetch(ctx context.Context) ([]byte, error) {
	if s.opts.FallbackFile != "" {
		return ReadFallback(s.opts.FallbackFile)
	}

	endpoint := s.opts.AlgoliaURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s-dsn.algolia.net/1/indexes/*/queries", strings.ToLower(s.opts.AlgoliaAppID))
	}

	body, err := json.Marshal(map[string]interface{}{
		"requests": []map[string]string{{
			"indexName": s.opts.AlgoliaIndex,
			"params":    fmt.Sprintf("hitsPerPage=%d", s.opts.HitsPerPage),
		}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal index query")
	}

	return s.fetcher.Post(ctx, endpoint, body, map[string]string{
		"Content-Type":             "application/json",
		"X-Algolia-Application-Id": s.opts.AlgoliaAppID,
		"X-Algolia-API-Key":        s.opts.AlgoliaAPIKey,
	})
}

// Enumerate decodes the index response
func (s *ZbauAlgolia) Enumerate(payload []byte) ([]AlgoliaHit, error) {
	var resp AlgoliaResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode index response")
	}
	var hits []AlgoliaHit
	for _, r := range resp.Results {
		hits = append(hits, r.Hits...)
	}
	return hits, nil
}

// Extract maps one hit and, when configured, merges its detail page
func (s *ZbauAlgolia) Extract(ctx context.Context, hit AlgoliaHit) (models.Event, error) {
	id := strings.TrimSpace(string(hit.ObjectID))
	if id == "" {
		id = strings.TrimSpace(hit.Slug)
	}
	if id == "" || hit.IsCancelled == "1" {
		return models.Event{}, ErrSkip
	}

	event := models.Event{
		ID:        id,
		Title:     strings.TrimSpace(hit.Title),
		Subtitle:  strings.TrimSpace(hit.Subtitle),
		AgeLimit:  strings.TrimSpace(hit.AgeRestriction),
		Time:      NormalizeTime(hit.StartTime),
		EntryTime: NormalizeTime(hit.EntryTime),
		Price:     strings.TrimSpace(hit.Price),
		Locations: splitLocations(hit.Location),
	}
	if hit.Slug != "" {
		event.URL = strings.ReplaceAll(s.opts.EventURL, "{slug}", url.PathEscape(hit.Slug))
	}

	if ts := ParseTimestamp(string(hit.StartTimestamp)); ts > 0 {
		event.DateUnix = ts
		event.Date = time.Unix(ts, 0).In(s.opts.Location).Format("02.01.2006")
	} else {
		event.Date = NormalizeDate(hit.DateFilterString, s.opts.Now().In(s.opts.Location).Year())
		event.DateUnix = DateUnix(event.Date, event.Time, s.opts.Location)
	}

	if s.opts.DetailURL != "" && s.opts.FallbackFile == "" && hit.Slug != "" {
		if err := s.enrich(ctx, hit.Slug, &event); err != nil {
			log.Warn().Err(err).Str("origin", zbauOrigin).Str("event_id", id).Msg("Failed to load event details, using index data")
		}
	}

	return event, nil
}

// Finish appends the featured category to events the venue highlights
func (s *ZbauAlgolia) Finish(hit AlgoliaHit, event *models.Event) {
	if hit.IsFeatured != "1" {
		return
	}
	for _, c := range event.Categories {
		if c == FeaturedCategory {
			return
		}
	}
	event.Categories = append(event.Categories, FeaturedCategory)
}

func (s *ZbauAlgolia) enrich(ctx context.Context, slug string, event *models.Event) error {
	endpoint := strings.ReplaceAll(s.opts.DetailURL, "{slug}", url.PathEscape(slug))
	payload, err := s.fetcher.Get(ctx, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	var detail zbauDetailResponse
	if err := json.Unmarshal(payload, &detail); err != nil {
		return errors.Wrap(err, "failed to decode detail response")
	}
	if strings.TrimSpace(detail.HTML.Content) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(detail.HTML.Content))
	if err != nil {
		return errors.Wrap(err, "failed to parse detail html")
	}

	info := doc.Find(".event__info-text").First()
	if info.Length() == 0 {
		info = doc.Find("body")
	}
	if html, err := info.Html(); err == nil && strings.TrimSpace(html) != "" {
		event.Info = strings.TrimSpace(html)
	}

	if href, ok := doc.Find(".event__ticket-link").First().Attr("href"); ok {
		event.TicketLink = href
	}

	images := collectImages(doc.Selection, s.opts.BaseURL)
	if len(images) > 0 {
		event.Images = images
	}
	event.Embeds = collectEmbeds(doc.Selection)
	event.Links = collectLinks(info, event.TicketLink)
	return nil
}

func splitLocations(raw string) []string {
	var out []string
	for _, loc := range strings.Split(raw, ",") {
		if loc = strings.TrimSpace(loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

func collectImages(sel *goquery.Selection, base string) []string {
	var images []string
	seen := map[string]struct{}{}
	sel.Find("img, .event__image").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("data-src", "")
		if src == "" {
			src = img.AttrOr("src", "")
		}
		if src == "" {
			return
		}
		src = absoluteURL(base, src)
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		images = append(images, src)
	})
	return images
}

func collectEmbeds(sel *goquery.Selection) []models.Embed {
	var embeds []models.Embed
	sel.Find("iframe").Each(func(_ int, frame *goquery.Selection) {
		src := frame.AttrOr("src", frame.AttrOr("data-src", ""))
		if src == "" {
			return
		}
		embeds = append(embeds, models.Embed{Type: embedType(src), URL: absoluteURL("", src)})
	})
	return embeds
}

func embedType(src string) string {
	u, err := url.Parse(absoluteURL("", src))
	if err != nil {
		return "iframe"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "youtube") || strings.Contains(host, "youtu.be"):
		return "youtube"
	case strings.Contains(host, "vimeo"):
		return "vimeo"
	case strings.Contains(host, "spotify"):
		return "spotify"
	case strings.Contains(host, "soundcloud"):
		return "soundcloud"
	case strings.Contains(host, "bandcamp"):
		return "bandcamp"
	default:
		return "iframe"
	}
}

func collectLinks(sel *goquery.Selection, exclude string) []models.Link {
	var links []models.Link
	seen := map[string]struct{}{}
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if href == exclude {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, models.Link{URL: href, Title: strings.TrimSpace(a.Text())})
	})
	return links
}

// ZbauProgram scrapes the z-bau program page markup
type ZbauProgram struct {
	opts    ZbauOptions
	fetcher *Fetcher
}

// NewZbauProgram creates the html backed z-bau strategy
func NewZbauProgram(opts ZbauOptions, fetcher *Fetcher) *ZbauProgram {
	opts.defaults()
	return &ZbauProgram{opts: opts, fetcher: fetcher}
}

// Origin returns "zbau"
func (s *ZbauProgram) Origin() string {
	return zbauOrigin
}

// Fetch loads the program page or the fallback file
func (s *ZbauProgram) Fetch(ctx context.Context) ([]byte, error) {
	if s.opts.FallbackFile != "" {
		return ReadFallback(s.opts.FallbackFile)
	}
	return s.fetcher.Get(ctx, strings.TrimRight(s.opts.BaseURL, "/")+"/programm/", map[string]string{"Accept": "text/html"})
}

// Enumerate returns the article elements of the page
func (s *ZbauProgram) Enumerate(payload []byte) ([]*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse html")
	}
	var articles []*goquery.Selection
	doc.Find("article").Each(func(_ int, a *goquery.Selection) {
		articles = append(articles, a)
	})
	return articles, nil
}

// Extract reads one article
func (s *ZbauProgram) Extract(_ context.Context, article *goquery.Selection) (models.Event, error) {
	id := strings.TrimSpace(article.AttrOr("data-id", ""))
	if id == "" {
		return models.Event{}, ErrSkip
	}

	event := models.Event{
		ID:        id,
		URL:       article.AttrOr("data-url", ""),
		Title:     strings.TrimSpace(article.Find(".event__main-title span").Text()),
		Subtitle:  strings.TrimSpace(article.Find(".event__sub-title span").Text()),
		AgeLimit:  strings.TrimSpace(article.Find(".event__alter .alter").Text()),
		EntryTime: NormalizeTime(article.Find(".event__einlass").Text()),
		Time:      NormalizeTime(article.Find(".event__beginn").Text()),
		Locations: splitLocations(article.Find(".event__location").Text()),
	}

	if info := article.Find(".event__info-text").First(); info.Length() > 0 {
		html, err := info.Html()
		if err != nil {
			return models.Event{}, errors.Wrap(err, "failed to render info text")
		}
		event.Info = strings.TrimSpace(html)
		event.Links = collectLinks(info, "")
	}

	// ".event__day" holds the weekday and "12.05." on separate lines
	dayLines := strings.Split(strings.TrimSpace(article.Find(".event__day").Text()), "\n")
	if len(dayLines) > 1 {
		event.Date = NormalizeDate(dayLines[1], s.opts.Now().In(s.opts.Location).Year())
	} else if len(dayLines) == 1 {
		event.Date = NormalizeDate(dayLines[0], s.opts.Now().In(s.opts.Location).Year())
	}
	event.DateUnix = DateUnix(event.Date, event.Time, s.opts.Location)

	ticket := article.Find(".event__eintritt").First().Clone()
	event.TicketLink = ticket.Find(".event__ticket-link").AttrOr("href", "")
	ticket.Find(".event__ticket-link").Remove()
	event.Price = strings.Join(strings.Fields(ticket.Text()), " ")

	article.Find(".event__image").Each(func(_ int, img *goquery.Selection) {
		if src := img.AttrOr("data-src", ""); src != "" {
			event.Images = append(event.Images, absoluteURL(s.opts.BaseURL, src))
		}
	})
	event.Embeds = collectEmbeds(article)

	return event, nil
}
