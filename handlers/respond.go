package handlers

import (
	"net/http"

	"donation-svc/apperr"
	"donation-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.Error("Request failed",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"success": false, "error": apperr.PublicMessage(err)})
}
