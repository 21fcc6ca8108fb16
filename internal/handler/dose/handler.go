package dose

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medication-api/internal/middleware"
	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/service/dose"
	"github.com/jwalitptl/medication-api/pkg/errors"
	"github.com/jwalitptl/medication-api/pkg/httputil"
)

type Handler struct {
	service dose.DoseService
	loc     *time.Location
}

// NewHandler serves dose confirmation and history. Date-only query
// parameters are read in loc.
func NewHandler(service dose.DoseService, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{service: service, loc: loc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doses := r.Group("/doses")
	{
		doses.POST("", h.LogDose)
		doses.POST("/skip", h.SkipDose)
		doses.GET("", h.History)
	}
}

func (h *Handler) LogDose(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	var req model.LogDoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}
	req.UserID = userID

	log, err := h.service.LogDose(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithCreated(c, log)
}

func (h *Handler) SkipDose(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	var req model.SkipDoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}
	req.UserID = userID

	log, err := h.service.SkipDose(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithCreated(c, log)
}

func (h *Handler) History(c *gin.Context) {
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

	logs, err := h.service.History(c.Request.Context(), userID, start, end)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if logs == nil {
		logs = []*model.DoseLog{}
	}

	httputil.RespondWithSuccess(c, logs)
}
