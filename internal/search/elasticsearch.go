package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient mirrors the event collection into Elasticsearch for full text search
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// Document is the indexed projection of an event
type Document struct {
	Key        string   `json:"key"`
	Origin     string   `json:"origin"`
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Subtitle   string   `json:"subtitle,omitempty"`
	Info       string   `json:"info,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	DateUnix   int64    `json:"dateUnix"`
	URL        string   `json:"url,omitempty"`
}

// NewDocument projects an event onto its search document
func NewDocument(e models.Event) Document {
	return Document{
		Key:        e.Key(),
		Origin:     e.Origin,
		ID:         e.ID,
		Title:      e.Title,
		Subtitle:   e.Subtitle,
		Info:       e.Info,
		Tags:       e.Tags,
		Categories: e.Categories,
		Locations:  e.Locations,
		DateUnix:   e.DateUnix,
		URL:        e.URL,
	}
}

// BuildBulkBody renders the NDJSON body of a bulk index request
func BuildBulkBody(index string, events []models.Event) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range events {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": index, "_id": e.Key()},
		}
		for _, line := range []interface{}{meta, NewDocument(e)} {
			b, err := json.Marshal(line)
			if err != nil {
				return nil, errors.Wrap(err, "failed to marshal bulk line")
			}
			buf.Write(b)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// BuildSearchQuery renders a multi_match query over the text fields
func BuildSearchQuery(text string, limit int) map[string]interface{} {
	if limit <= 0 {
		limit = 10
	}
	return map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"title^3", "subtitle^2", "tags^2", "info"},
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"dateUnix": "asc"}},
	}
}

// ReindexOrigin replaces every indexed document of origin with events
func (c *ElasticClient) ReindexOrigin(ctx context.Context, origin string, events []models.Event) error {
	indexName := config.FormatIndex(c.config, c.config.Index)
	log.Info().Str("origin", origin).Int("events", len(events)).Msg("reindexing origin")

	deleteQuery, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"origin": origin},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal delete query")
	}

	conflicts := "proceed"
	refresh := true
	del := esapi.DeleteByQueryRequest{
		Index:     []string{indexName},
		Body:      bytes.NewReader(deleteQuery),
		Conflicts: conflicts,
		Refresh:   &refresh,
	}
	res, err := del.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch delete request")
	}
	// a missing index is fine, the bulk request creates it
	if res.IsError() && res.StatusCode != 404 {
		defer res.Body.Close()
		return responseError(res, "delete")
	}
	res.Body.Close()

	if len(events) == 0 {
		return nil
	}

	body, err := BuildBulkBody(indexName, events)
	if err != nil {
		return err
	}

	bulk := esapi.BulkRequest{
		Body:    bytes.NewReader(body),
		Refresh: "true",
	}
	res, err = bulk.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch bulk request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(res, "bulk")
	}

	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return errors.Wrap(err, "failed to parse Elasticsearch bulk response")
	}
	if result.Errors {
		return errors.Errorf("Elasticsearch bulk request for origin %s had item errors", origin)
	}

	log.Info().Str("origin", origin).Msg("origin reindexed successfully")
	return nil
}

// SearchEvents runs a full text search and returns the matching documents
func (c *ElasticClient) SearchEvents(ctx context.Context, text string, limit int) ([]Document, error) {
	queryJSON, err := json.Marshal(BuildSearchQuery(text, limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res, "search")
	}

	return ParseSearchResponse(res.Body)
}

// ParseSearchResponse extracts the _source documents of a search response
func ParseSearchResponse(r io.Reader) ([]Document, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]Document, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

func responseError(res *esapi.Response, op string) error {
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
