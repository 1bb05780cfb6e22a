package scraper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alexharl/vulture-events-backend/internal/categories"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/alexharl/vulture-events-backend/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const algoliaPayload = `{"results":[{"hits":[
 {"objectID":"42","slug":"jungle-massive","is_featured":"1","is_cancelled":"0","title":"Jungle Massive",
  "subtitle":"Drum and Bass, Jungle + präsentiert","start_time":"23:00","start_timestamp":1715547600000,
  "entry_time":"22:30 Uhr","location":"Halle, Galerie","price":"15 €","age_restriction":"18+"},
 {"objectID":"43","slug":"flohmarkt","title":"Flohmarkt","subtitle":"Flohmarkt","date_filter_string":"19.05.",
  "start_time":"10:00","location":"Hof"},
 {"objectID":"44","slug":"abgesagt","is_cancelled":"1","title":"Cancelled"},
 {"slug":"","title":"no id"}
]}]}`

const detailPayload = `{"html":{"content":"<div class=\"event__info-text\"><p>Heavy <a href=\"https://artist.example/bio\">bio</a></p></div><img data-src=\"/media/42.jpg\"><iframe src=\"https://www.youtube.com/embed/abc\"></iframe><iframe src=\"//w.soundcloud.com/player/?url=x\"></iframe><a class=\"event__ticket-link\" href=\"https://tickets.example/42\">Tickets</a>"}}`

func newZbauServer(t *testing.T, detailStatus int) (*httptest.Server, *int32) {
	t.Helper()
	var detailCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/1/indexes/*/queries":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "app", r.Header.Get("X-Algolia-Application-Id"))
			assert.Equal(t, "key", r.Header.Get("X-Algolia-API-Key"))
			body, _ := io.ReadAll(r.Body)
			var req map[string][]map[string]string
			assert.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "hitsPerPage=1000", req["requests"][0]["params"])
			_, _ = w.Write([]byte(algoliaPayload))
		case strings.HasPrefix(r.URL.Path, "/detail/"):
			atomic.AddInt32(&detailCalls, 1)
			if detailStatus != http.StatusOK {
				w.WriteHeader(detailStatus)
				return
			}
			if r.URL.Path == "/detail/jungle-massive" {
				_, _ = w.Write([]byte(detailPayload))
				return
			}
			_, _ = w.Write([]byte(`{"html":{"content":""}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, &detailCalls
}

func newTestZbau(srvURL string) *ZbauAlgolia {
	return NewZbauAlgolia(ZbauOptions{
		BaseURL:       "https://z-bau.com",
		AlgoliaAppID:  "app",
		AlgoliaAPIKey: "key",
		AlgoliaIndex:  "events",
		AlgoliaURL:    srvURL + "/1/indexes/*/queries",
		DetailURL:     srvURL + "/detail/{slug}",
		Location:      berlin,
		Now:           func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, berlin) },
	}, NewFetcher(FetchOptions{Retries: 1, Timeout: 5 * time.Second}))
}

func TestZbauAlgoliaPipeline(t *testing.T) {
	srv, detailCalls := newZbauServer(t, http.StatusOK)
	defer srv.Close()

	classifier, resolver, err := categories.Overrides{}.Build()
	require.NoError(t, err)
	p := NewPipeline[AlgoliaHit](newTestZbau(srv.URL), resolver, classifier, 4)

	result, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Failures)
	assert.Equal(t, int32(2), atomic.LoadInt32(detailCalls))

	jungle := result.Events[0]
	assert.Equal(t, "zbau", jungle.Origin)
	assert.Equal(t, "42", jungle.ID)
	assert.Equal(t, "https://z-bau.com/programm/jungle-massive", jungle.URL)
	assert.Equal(t, int64(1715547600), jungle.DateUnix)
	assert.Equal(t, "12.05.2024", jungle.Date)
	assert.Equal(t, "23:00", jungle.Time)
	assert.Equal(t, "22:30", jungle.EntryTime)
	assert.Equal(t, []string{"Halle", "Galerie"}, jungle.Locations)
	assert.Equal(t, []string{"Drum and Bass", "Jungle", "DnB"}, jungle.Tags)
	assert.Equal(t, []string{"dnb", "featured"}, jungle.Categories)
	assert.Contains(t, jungle.Info, "Heavy")
	assert.Equal(t, "https://tickets.example/42", jungle.TicketLink)
	assert.Equal(t, []string{"https://z-bau.com/media/42.jpg"}, jungle.Images)
	require.Len(t, jungle.Embeds, 2)
	assert.Equal(t, "youtube", jungle.Embeds[0].Type)
	assert.Equal(t, "soundcloud", jungle.Embeds[1].Type)
	assert.Equal(t, "https://w.soundcloud.com/player/?url=x", jungle.Embeds[1].URL)
	require.Len(t, jungle.Links, 1)
	assert.Equal(t, "https://artist.example/bio", jungle.Links[0].URL)

	market := result.Events[1]
	assert.Equal(t, "19.05.2024", market.Date)
	assert.Equal(t, time.Date(2024, 5, 19, 10, 0, 0, 0, berlin).Unix(), market.DateUnix)
	assert.Equal(t, []string{"sonstiges"}, market.Categories)
}

func TestZbauFeaturedOnlyFromFlag(t *testing.T) {
	s := newTestZbau("http://unused")
	classifier := categories.NewDefaultClassifier()

	plain := models.Event{Origin: "zbau", Subtitle: "featured", Tags: []string{"featured"}}
	classifier.Apply(&plain)
	s.Finish(AlgoliaHit{IsFeatured: "0"}, &plain)
	assert.NotContains(t, plain.Categories, FeaturedCategory)

	flagged := models.Event{Origin: "zbau", Tags: []string{"Techno"}}
	classifier.Apply(&flagged)
	s.Finish(AlgoliaHit{IsFeatured: "1"}, &flagged)
	s.Finish(AlgoliaHit{IsFeatured: "1"}, &flagged)
	assert.Equal(t, []string{"techno", FeaturedCategory}, flagged.Categories)
	assert.Equal(t, []string{"Techno"}, flagged.Tags)
}

func TestZbauDetailFailureDegradesToIndexData(t *testing.T) {
	srv, _ := newZbauServer(t, http.StatusInternalServerError)
	defer srv.Close()

	p := NewPipeline[AlgoliaHit](newTestZbau(srv.URL), tags.NewDefaultResolver(), categories.NewDefaultClassifier(), 2)

	result, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	assert.Equal(t, 0, result.Failures)
	assert.Equal(t, "Jungle Massive", result.Events[0].Title)
	assert.Empty(t, result.Events[0].Info)
	assert.Equal(t, "15 €", result.Events[0].Price)
}

func TestZbauAlgoliaInvalidPayload(t *testing.T) {
	s := newTestZbau("http://unused")

	_, err := s.Enumerate([]byte("<html>"))
	require.Error(t, err)
}

func TestFlexString(t *testing.T) {
	var hit AlgoliaHit
	require.NoError(t, json.Unmarshal([]byte(`{"objectID":7,"is_featured":true,"is_cancelled":null,"start_timestamp":"1715547600"}`), &hit))
	assert.Equal(t, flexString("7"), hit.ObjectID)
	assert.Equal(t, flexString("1"), hit.IsFeatured)
	assert.Equal(t, flexString(""), hit.IsCancelled)
	assert.Equal(t, int64(1715547600), ParseTimestamp(string(hit.StartTimestamp)))
}

const zbauProgramPage = `<html><body>
<article data-id="501" data-url="https://z-bau.com/programm/501">
  <div class="event__day">Sa
    12.05.</div>
  <div class="event__einlass">19:00</div>
  <div class="event__beginn">20:00</div>
  <h2 class="event__main-title"><span>Punk Night</span></h2>
  <h3 class="event__sub-title"><span>Punk, Hardcore + Tour</span></h3>
  <div class="event__location">Saal, Bar</div>
  <div class="event__info-text"><p>Loud. <a href="https://band.example">Band</a></p></div>
  <div class="event__alter"><span class="alter">16+</span></div>
  <div class="event__eintritt">
    VVK 12 €
    AK   15 €
    <a class="event__ticket-link" href="https://tickets.example/501">Tickets</a>
  </div>
  <img class="event__image" data-src="https://z-bau.com/img/501.jpg">
</article>
<article><p>teaser without id</p></article>
</body></html>`

func TestZbauProgramExtract(t *testing.T) {
	s := NewZbauProgram(ZbauOptions{
		BaseURL:  "https://z-bau.com",
		Location: berlin,
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, berlin) },
	}, nil)

	articles, err := s.Enumerate([]byte(zbauProgramPage))
	require.NoError(t, err)
	require.Len(t, articles, 2)

	event, err := s.Extract(context.Background(), articles[0])
	require.NoError(t, err)

	assert.Equal(t, "501", event.ID)
	assert.Equal(t, "Punk Night", event.Title)
	assert.Equal(t, "Punk, Hardcore + Tour", event.Subtitle)
	assert.Equal(t, "12.05.2024", event.Date)
	assert.Equal(t, "20:00", event.Time)
	assert.Equal(t, "19:00", event.EntryTime)
	assert.Equal(t, time.Date(2024, 5, 12, 20, 0, 0, 0, berlin).Unix(), event.DateUnix)
	assert.Equal(t, []string{"Saal", "Bar"}, event.Locations)
	assert.Equal(t, "16+", event.AgeLimit)
	assert.Equal(t, "VVK 12 € AK 15 €", event.Price)
	assert.Equal(t, "https://tickets.example/501", event.TicketLink)
	assert.Equal(t, []string{"https://z-bau.com/img/501.jpg"}, event.Images)
	require.Len(t, event.Links, 1)

	// the source document is untouched by the price extraction
	assert.Equal(t, 1, articles[0].Find(".event__ticket-link").Length())

	_, err = s.Extract(context.Background(), articles[1])
	assert.ErrorIs(t, err, ErrSkip)
}

func TestZbauProgramPipelineTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/programm/", r.URL.Path)
		_, _ = w.Write([]byte(zbauProgramPage))
	}))
	defer srv.Close()

	strategy := NewZbauProgram(ZbauOptions{BaseURL: srv.URL, Location: berlin}, NewFetcher(FetchOptions{Retries: 1}))
	p := NewPipeline[*goquery.Selection](strategy, tags.NewDefaultResolver(), categories.NewDefaultClassifier(), 1)

	result, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, []string{"Punk", "Hardcore"}, result.Events[0].Tags)
	assert.Equal(t, []string{"punk"}, result.Events[0].Categories)
}
