package handlers

import (
	"context"
	"net/http"

	"form-payment-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FormCache interface {
	Invalidate(ctx context.Context, formID string) error
}

type FormHandler struct {
	cache  FormCache
	logger *zap.Logger
}

func NewFormHandler(cache FormCache, logger *zap.Logger) *FormHandler {
	return &FormHandler{cache: cache, logger: logger}
}

// InvalidateForm is called by the forms service after a form's payment
// settings change.
func (h *FormHandler) InvalidateForm(c *gin.Context) {
	formID := c.Param("formId")
	if err := h.cache.Invalidate(c.Request.Context(), formID); err != nil {
		h.logger.Error("Failed to invalidate cached form",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("form_id", formID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}
