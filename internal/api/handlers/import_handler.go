package handlers

import (
	"context"
	"net/http"

	"github.com/alexharl/vulture-events-backend/internal/services"
	"github.com/alexharl/vulture-events-backend/internal/tracing"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
)

// ImportHandler triggers imports
type ImportHandler struct {
	service *services.EventsService
	tracer  tracing.Tracer
}

// NewImportHandler creates a new import handler
func NewImportHandler(service *services.EventsService, tracer tracing.Tracer) *ImportHandler {
	return &ImportHandler{service: service, tracer: tracer}
}

// HandleImportSource imports a single origin
func (h *ImportHandler) HandleImportSource(c *gin.Context) {
	origin := c.Param("source")
	log.Info().Str("origin", origin).Msg("Import requested")
	h.tracer.AddAttribute(nrgin.Transaction(c), "origin", origin)

	result, err := h.service.PerformImport(requestContext(c), origin)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// HandleImportAll imports every origin, or the comma separated ?origins=
func (h *ImportHandler) HandleImportAll(c *gin.Context) {
	outcomes := h.service.ImportAll(requestContext(c), splitList(c.Query("origins"))...)

	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": failed == 0,
		"data":    outcomes,
	})
}

// requestContext carries the nrgin transaction into the service layer
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if txn := nrgin.Transaction(c); txn != nil {
		ctx = newrelic.NewContext(ctx, txn)
	}
	return ctx
}

// RegisterRoutes registers the handler's routes
func (h *ImportHandler) RegisterRoutes(router gin.IRoutes) {
	router.POST("/import", h.HandleImportAll)
	router.POST("/import/:source", h.HandleImportSource)
}
