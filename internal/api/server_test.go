package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/categories"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/alexharl/vulture-events-backend/internal/query"
	"github.com/alexharl/vulture-events-backend/internal/reconciler"
	"github.com/alexharl/vulture-events-backend/internal/scraper"
	"github.com/alexharl/vulture-events-backend/internal/services"
	"github.com/alexharl/vulture-events-backend/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	origin string
	events []models.Event
	err    error
}

func (s stubSource) Origin() string { return s.origin }

func (s stubSource) Load(context.Context) (scraper.Result, error) {
	return scraper.Result{Events: s.events}, s.err
}

var zone = time.FixedZone("CET", 3600)

func day(d int) int64 {
	return time.Date(2024, 5, d, 20, 0, 0, 0, zone).Unix()
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, events ...models.Event) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	require.NoError(t, s.Write(context.Background(), models.Collection{Events: events}))

	engine := query.NewEngine(zone, 10, 100)
	engine.Now = func() time.Time { return time.Date(2024, 5, 15, 12, 0, 0, 0, zone) }

	svc := services.NewEventsService(services.Dependencies{
		Sources: scraper.NewRegistry(
			stubSource{origin: "zbau", events: []models.Event{{ID: "new", DateUnix: day(20)}}},
			stubSource{origin: "haus33", err: apperr.New(apperr.KindFetch, "failed to fetch haus33")},
		),
		Reconciler: reconciler.New(s),
		Store:      s,
		Engine:     engine,
		Taxonomy:   categories.NewDefaultClassifier(),
	})

	cfg := config.Config{Server: config.ServerConfig{CorsEnabled: true, CorsOrigins: []string{"*"}}}
	return NewServer(cfg, svc, nil, nil)
}

func do(t *testing.T, srv *Server, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func eventIDs(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var events []models.Event
	require.NoError(t, json.Unmarshal(raw, &events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestListEvents(t *testing.T) {
	srv := newTestServer(t,
		models.Event{Origin: "zbau", ID: "sat", Title: "Dub Night", DateUnix: day(18), Categories: []string{"dub"}},
		models.Event{Origin: "zbau", ID: "tue", Title: "Techno", DateUnix: day(21), Categories: []string{"techno"}},
		models.Event{Origin: "haus33", ID: "thu", Title: "Rave", DateUnix: day(16), Categories: []string{"techno"}},
	)

	w, env := do(t, srv, http.MethodGet, "/api/events")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, []string{"thu", "sat", "tue"}, eventIDs(t, env.Data))

	_, env = do(t, srv, http.MethodGet, "/api/events?nextWeekend=1")
	assert.Equal(t, []string{"sat"}, eventIDs(t, env.Data))

	_, env = do(t, srv, http.MethodGet, "/api/events?categories=techno,psy&origin=zbau")
	assert.Equal(t, []string{"tue"}, eventIDs(t, env.Data))

	_, env = do(t, srv, http.MethodGet, "/api/events?text=dub")
	assert.Equal(t, []string{"sat"}, eventIDs(t, env.Data))

	_, env = do(t, srv, http.MethodGet, "/api/events?limit=1")
	assert.Equal(t, []string{"thu"}, eventIDs(t, env.Data))

	_, env = do(t, srv, http.MethodGet, "/api/events?ids=tue,missing,thu")
	assert.Equal(t, []string{"tue", "thu"}, eventIDs(t, env.Data))
}

func TestListEventsValidation(t *testing.T) {
	srv := newTestServer(t)

	w, env := do(t, srv, http.MethodGet, "/api/events?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	w, env = do(t, srv, http.MethodGet, "/api/events?ids="+strings.Join(ids, ","))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Too many ids, max 100 allowed", env.Message)
}

func TestGetEvent(t *testing.T) {
	srv := newTestServer(t, models.Event{Origin: "zbau", ID: "1", Title: "Dub Night"})

	w, env := do(t, srv, http.MethodGet, "/api/events/1")
	assert.Equal(t, http.StatusOK, w.Code)
	var ev models.Event
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, "Dub Night", ev.Title)

	w, env = do(t, srv, http.MethodGet, "/api/events/2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Event not found", env.Message)
}

func TestCategories(t *testing.T) {
	srv := newTestServer(t)

	w, env := do(t, srv, http.MethodGet, "/api/categories")
	assert.Equal(t, http.StatusOK, w.Code)
	var cats []models.Category
	require.NoError(t, json.Unmarshal(env.Data, &cats))
	assert.NotEmpty(t, cats)
}

func TestSearchDisabled(t *testing.T) {
	srv := newTestServer(t)

	w, env := do(t, srv, http.MethodGet, "/api/search?q=dub")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)
}

func TestImportSource(t *testing.T) {
	srv := newTestServer(t, models.Event{Origin: "zbau", ID: "old", DateUnix: day(18)})

	w, env := do(t, srv, http.MethodPost, "/api/import/zbau")
	assert.Equal(t, http.StatusOK, w.Code)
	var result models.ImportResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Deleted)

	w, env = do(t, srv, http.MethodPost, "/api/import/haus33")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "failed to fetch haus33", env.Message)

	w, _ = do(t, srv, http.MethodPost, "/api/import/unknown")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportAll(t *testing.T) {
	srv := newTestServer(t)

	w, env := do(t, srv, http.MethodPost, "/api/import")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.Success)

	var outcomes map[string]models.ImportOutcome
	require.NoError(t, json.Unmarshal(env.Data, &outcomes))
	assert.True(t, outcomes["zbau"].Success)
	assert.False(t, outcomes["haus33"].Success)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	w, _ := do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "uptime_seconds")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://vulture.example")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
