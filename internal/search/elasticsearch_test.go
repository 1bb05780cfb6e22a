package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBulkBody(t *testing.T) {
	body, err := BuildBulkBody("vulture-events", []models.Event{
		{Origin: "zbau", ID: "1", Title: "Dub Night", DateUnix: 10},
		{Origin: "haus33", ID: "2", Title: "Techno"},
	})
	require.NoError(t, err)

	var lines []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)

	meta := lines[0]["index"].(map[string]interface{})
	assert.Equal(t, "vulture-events", meta["_index"])
	assert.Equal(t, "zbau:1", meta["_id"])
	assert.Equal(t, "Dub Night", lines[1]["title"])
	assert.Equal(t, "haus33:2", lines[2]["index"].(map[string]interface{})["_id"])
}

func TestParseSearchResponse(t *testing.T) {
	docs, err := ParseSearchResponse(strings.NewReader(`{"hits":{"hits":[
		{"_source":{"key":"zbau:1","origin":"zbau","id":"1","title":"Dub Night","dateUnix":5}},
		{"_source":{"key":"zbau:2","origin":"zbau","id":"2","title":"Rave","dateUnix":6}}
	]}}`))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Dub Night", docs[0].Title)
	assert.Equal(t, int64(6), docs[1].DateUnix)

	_, err = ParseSearchResponse(strings.NewReader("nope"))
	assert.Error(t, err)
}

func TestBuildSearchQueryDefaultsSize(t *testing.T) {
	q := BuildSearchQuery("dub", 0)
	assert.Equal(t, 10, q["size"])
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *ElasticClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// product check
		if r.Method == http.MethodGet && r.URL.Path == "/" {
			esHeaders(w)
			_, _ = w.Write([]byte(`{"version":{"number":"7.17.10","build_flavor":"default"},"tagline":"You Know, for Search"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewElasticClient(config.ElasticConfig{URL: srv.URL, Prefix: "vulture", Index: "events"})
	require.NoError(t, err)
	return c
}

func esHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
}

func TestReindexOrigin(t *testing.T) {
	var paths []string
	var bulkBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		esHeaders(w)
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch {
		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			_, _ = w.Write([]byte(`{"deleted":1}`))
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			b, _ := io.ReadAll(r.Body)
			bulkBody = string(b)
			_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})

	err := c.ReindexOrigin(context.Background(), "zbau", []models.Event{{Origin: "zbau", ID: "1", Title: "Dub"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"POST /vulture-events/_delete_by_query", "POST /_bulk"}, paths)
	assert.Contains(t, bulkBody, `"_id":"zbau:1"`)
}

func TestReindexOriginBulkItemErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		esHeaders(w)
		if strings.HasSuffix(r.URL.Path, "/_bulk") {
			_, _ = w.Write([]byte(`{"errors":true,"items":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"index_not_found_exception"}`))
	})

	err := c.ReindexOrigin(context.Background(), "zbau", []models.Event{{Origin: "zbau", ID: "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item errors")
}

func TestSearchEvents(t *testing.T) {
	var query map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		esHeaders(w)
		_ = json.NewDecoder(r.Body).Decode(&query)
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_source":{"key":"zbau:1","origin":"zbau","id":"1","title":"Dub Night"}}]}}`))
	})

	docs, err := c.SearchEvents(context.Background(), "dub", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "zbau:1", docs[0].Key)
	assert.EqualValues(t, 5, query["size"])
}
