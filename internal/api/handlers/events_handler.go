package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/alexharl/vulture-events-backend/internal/services"
	"github.com/alexharl/vulture-events-backend/internal/tracing"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
)

// EventsHandler serves the read side of the collection
type EventsHandler struct {
	service *services.EventsService
	tracer  tracing.Tracer
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(service *services.EventsService, tracer tracing.Tracer) *EventsHandler {
	return &EventsHandler{service: service, tracer: tracer}
}

// ParseQuery builds an EventQuery from the request parameters
func ParseQuery(c *gin.Context) (models.EventQuery, error) {
	q := models.EventQuery{
		Origin:      strings.TrimSpace(c.Query("origin")),
		Text:        strings.TrimSpace(c.Query("text")),
		Categories:  splitList(c.Query("categories")),
		IDs:         splitList(c.Query("ids")),
		NextWeekend: c.Query("nextWeekend") == "1",
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, apperr.New(apperr.KindValidation, "Invalid limit")
		}
		q.Limit = limit
	}
	return q, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HandleListEvents filters events, or returns the requested ids
func (h *EventsHandler) HandleListEvents(c *gin.Context) {
	q, err := ParseQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var events []models.Event
	if len(q.IDs) > 0 {
		events, err = h.service.GetByIDs(c.Request.Context(), q.IDs)
	} else {
		events, err = h.service.Filter(c.Request.Context(), q)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, events)
}

// HandleGetEvent returns a single event
func (h *EventsHandler) HandleGetEvent(c *gin.Context) {
	event, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, event)
}

// HandleListCategories returns the category taxonomy
func (h *EventsHandler) HandleListCategories(c *gin.Context) {
	respondData(c, http.StatusOK, h.service.Categories())
}

// HandleSearch runs a full text search
func (h *EventsHandler) HandleSearch(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, apperr.New(apperr.KindValidation, "Invalid limit"))
			return
		}
		limit = n
	}

	text := strings.TrimSpace(c.Query("q"))
	h.tracer.AddAttribute(nrgin.Transaction(c), "search_text", text)

	docs, err := h.service.Search(c.Request.Context(), text, limit)
	if errors.Is(err, services.ErrSearchDisabled) {
		c.JSON(http.StatusServiceUnavailable, models.Response{Success: false, Message: "Search is not enabled"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, docs)
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/events", h.HandleListEvents)
	router.GET("/events/:id", h.HandleGetEvent)
	router.GET("/categories", h.HandleListCategories)
	router.GET("/search", h.HandleSearch)
}
