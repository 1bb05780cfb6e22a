package handlers

import (
	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, models.Response{Success: true, Data: data})
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, models.Response{Success: false, Message: apperr.Message(err)})
}
