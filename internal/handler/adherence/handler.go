package adherence

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medication-api/internal/middleware"
	"github.com/jwalitptl/medication-api/internal/service/adherence"
	"github.com/jwalitptl/medication-api/pkg/errors"
	"github.com/jwalitptl/medication-api/pkg/httputil"
)

type Handler struct {
	service adherence.AdherenceService
	loc     *time.Location
}

func NewHandler(service adherence.AdherenceService, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{service: service, loc: loc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/adherence")
	{
		group.GET("", h.GetSummary)
		group.GET("/medications", h.GetByMedication)
	}
}

// GetSummary reports adherence over an inclusive date range.
func (h *Handler) GetSummary(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	start, end, err := httputil.TimeRange(c, h.loc)
	if err != nil {
		_ = c.Error(err)
		return
	}

	summary, err := h.service.Compute(c.Request.Context(), userID, start, end)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, summary)
}

func (h *Handler) GetByMedication(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	start, end, err := httputil.TimeRange(c, h.loc)
	if err != nil {
		_ = c.Error(err)
		return
	}

	result, err := h.service.ComputeByMedication(c.Request.Context(), userID, start, end)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, result)
}
