package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/categories"
	"github.com/alexharl/vulture-events-backend/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ticketIOPage = `<html><body><table>
<tr><td class="row" id="event-row-1001" data-search="x" data-order="1">
  <img src="//cdn.ticket.io/img/1001.jpg">
  <a class="a-eventlink" href="/1001">Bunker Rave</a>
  <div><i class="material-symbols-rounded">info</i><span>Hard Techno all night</span></div>
  <div><i class="material-symbols-rounded">calendar_month</i><span>Sa. 12.05.2024</span></div>
  <div><i class="material-symbols-rounded">schedule</i><span>23:00 Uhr</span></div>
  <div><i class="material-symbols-rounded">confirmation_number</i><span>ab 12,00 €</span></div>
  <div><i class="material-symbols-rounded">location_on</i><span>Floor 2</span></div>
</td></tr>
<tr><td class="row" id="event-row-1002" data-search="y" data-order="2">
  <a class="a-eventlink" href="/1002">Open Air</a>
  <div><i class="material-symbols-rounded">calendar_month</i><span>So. 13/05/2024</span></div>
</td></tr>
<tr><td class="row" id="" data-search="z" data-order="3">
  <a class="a-eventlink">No id</a>
</td></tr>
<tr><td class="row" id="event-row-9">missing data attributes are not rows</td></tr>
</table></body></html>`

func newTestTicketIO(url, fallback string) *TicketIO {
	return NewTicketIO(TicketIOOptions{
		Origin:       "haus33",
		URL:          url,
		Venue:        "Haus33",
		AgeLimit:     "18+",
		Categories:   []string{"techno"},
		FallbackFile: fallback,
		Location:     berlin,
		Now:          func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, berlin) },
	}, NewFetcher(FetchOptions{Retries: 1, Timeout: 5 * time.Second}))
}

func TestTicketIOEnumerate(t *testing.T) {
	s := newTestTicketIO("https://haus33.ticket.io/", "")

	rows, err := s.Enumerate([]byte(ticketIOPage))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestTicketIOExtract(t *testing.T) {
	s := newTestTicketIO("https://haus33.ticket.io/", "")
	rows, err := s.Enumerate([]byte(ticketIOPage))
	require.NoError(t, err)

	event, err := s.Extract(context.Background(), rows[0])
	require.NoError(t, err)

	assert.Equal(t, "1001", event.ID)
	assert.Equal(t, "Bunker Rave", event.Title)
	assert.Equal(t, "Hard Techno all night", event.Info)
	assert.Equal(t, "18+", event.AgeLimit)
	assert.Equal(t, "12.05.2024", event.Date)
	assert.Equal(t, "23:00", event.Time)
	assert.Equal(t, time.Date(2024, 5, 12, 23, 0, 0, 0, berlin).Unix(), event.DateUnix)
	assert.Equal(t, "https://haus33.ticket.io/1001", event.TicketLink)
	assert.Equal(t, "ab 12,00 €", event.Price)
	assert.Equal(t, []string{"https://cdn.ticket.io/img/1001.jpg"}, event.Images)
	assert.Equal(t, []string{"Floor 2"}, event.Locations)
	assert.Equal(t, []string{"techno"}, event.Categories)
}

func TestTicketIOExtractDefaults(t *testing.T) {
	s := newTestTicketIO("https://haus33.ticket.io", "")
	rows, err := s.Enumerate([]byte(ticketIOPage))
	require.NoError(t, err)

	event, err := s.Extract(context.Background(), rows[1])
	require.NoError(t, err)

	assert.Equal(t, "1002", event.ID)
	assert.Equal(t, "13.05.2024", event.Date)
	assert.Equal(t, "", event.Time)
	assert.Equal(t, time.Date(2024, 5, 13, 0, 0, 0, 0, berlin).Unix(), event.DateUnix)
	assert.Equal(t, []string{"Haus33"}, event.Locations)
	assert.Empty(t, event.Images)
	assert.Equal(t, "https://haus33.ticket.io/1002", event.TicketLink)

	_, err = s.Extract(context.Background(), rows[2])
	assert.ErrorIs(t, err, ErrSkip)
}

func TestTicketIOPipelineOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ticketIOPage))
	}))
	defer srv.Close()

	p := NewPipeline[*goquery.Selection](newTestTicketIO(srv.URL, ""), tags.NewDefaultResolver(), categories.NewDefaultClassifier(), 2)

	result, err := p.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Events, 2)
	assert.Equal(t, "1001", result.Events[0].ID)
	assert.Equal(t, "1002", result.Events[1].ID)
	assert.Equal(t, "haus33", result.Events[0].Origin)
	assert.Equal(t, 0, result.Failures)
	assert.Equal(t, 1, result.Skipped)
}

func TestTicketIOFallbackFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "haus33.html")
	require.NoError(t, os.WriteFile(path, []byte(ticketIOPage), 0o600))

	p := NewPipeline[*goquery.Selection](newTestTicketIO("http://127.0.0.1:1", path), nil, nil, 1)

	result, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Events, 2)
}

func TestTicketIOFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPipeline[*goquery.Selection](newTestTicketIO(srv.URL, ""), nil, nil, 1)

	_, err := p.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindFetch))
}
