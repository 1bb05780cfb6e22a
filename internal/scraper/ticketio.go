package scraper

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/pkg/errors"
)

// TicketIOOptions configures a ticket.io shop page source
type TicketIOOptions struct {
	Origin       string
	URL          string
	Venue        string
	AgeLimit     string
	Categories   []string
	FallbackFile string
	Location     *time.Location
	Now          func() time.Time
}

// TicketIO scrapes the event table of a ticket.io shop
type TicketIO struct {
	opts    TicketIOOptions
	fetcher *Fetcher
}

// NewTicketIO creates a ticket.io strategy
func NewTicketIO(opts TicketIOOptions, fetcher *Fetcher) *TicketIO {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &TicketIO{opts: opts, fetcher: fetcher}
}

// Origin returns the configured origin
func (s *TicketIO) Origin() string {
	return s.opts.Origin
}

// Fetch loads the shop page or the fallback file
func (s *TicketIO) Fetch(ctx context.Context) ([]byte, error) {
	if s.opts.FallbackFile != "" {
		return ReadFallback(s.opts.FallbackFile)
	}
	return s.fetcher.Get(ctx, s.opts.URL, map[string]string{"Accept": "text/html"})
}

// Enumerate returns the event rows of the page
func (s *TicketIO) Enumerate(payload []byte) ([]*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse html")
	}
	var rows []*goquery.Selection
	doc.Find("td.row[id][data-search][data-order]").Each(func(_ int, row *goquery.Selection) {
		rows = append(rows, row)
	})
	return rows, nil
}

// Extract reads one event row
func (s *TicketIO) Extract(_ context.Context, row *goquery.Selection) (models.Event, error) {
	rawID, _ := row.Attr("id")
	id := strings.TrimSpace(strings.TrimPrefix(rawID, "event-row-"))
	if id == "" {
		return models.Event{}, ErrSkip
	}

	ticketLink := strings.TrimRight(s.opts.URL, "/") + "/" + id
	event := models.Event{
		ID:         id,
		URL:        ticketLink,
		Title:      strings.TrimSpace(row.Find(".a-eventlink").First().Text()),
		Info:       iconField(row, "info"),
		AgeLimit:   s.opts.AgeLimit,
		TicketLink: ticketLink,
		Price:      iconField(row, "confirmation_number"),
		Categories: append([]string{}, s.opts.Categories...),
	}

	// "Sa. 12.05.2024" or "Sa. 12/05/2024"
	dateText := strings.Fields(iconField(row, "calendar_month"))
	if len(dateText) > 0 {
		event.Date = NormalizeDate(dateText[len(dateText)-1], s.opts.Now().In(s.opts.Location).Year())
	}
	event.Time = NormalizeTime(iconField(row, "schedule"))
	event.DateUnix = DateUnix(event.Date, event.Time, s.opts.Location)

	if src, ok := row.Find("img").First().Attr("src"); ok && src != "" {
		event.Images = []string{absoluteURL(s.opts.URL, src)}
	}

	location := iconField(row, "location_on")
	if location == "" {
		location = s.opts.Venue
	}
	event.Locations = []string{location}

	return event, nil
}

// iconField returns the text of the span following the material icon named icon
func iconField(row *goquery.Selection, icon string) string {
	var value string
	row.Find("i.material-symbols-rounded").EachWithBreak(func(_ int, i *goquery.Selection) bool {
		if strings.TrimSpace(i.Text()) != icon {
			return true
		}
		value = strings.TrimSpace(i.NextFiltered("span").Text())
		return false
	})
	return value
}

// absoluteURL resolves protocol-relative and root-relative image sources
func absoluteURL(base, src string) string {
	switch {
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "/"):
		return strings.TrimRight(base, "/") + src
	default:
		return src
	}
}
