package medication

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medication-api/internal/middleware"
	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/service/medication"
	"github.com/jwalitptl/medication-api/pkg/errors"
	"github.com/jwalitptl/medication-api/pkg/httputil"
)

type Handler struct {
	service medication.MedicationService
}

func NewHandler(service medication.MedicationService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	meds := r.Group("/medications")
	{
		meds.POST("", h.CreateMedication)
		meds.GET("", h.ListMedications)
		meds.GET("/:id", h.GetMedication)
		meds.PUT("/:id", h.UpdateMedication)
		meds.PUT("/:id/inventory", h.RestockMedication)
		meds.DELETE("/:id", h.DeactivateMedication)
	}
}

func (h *Handler) CreateMedication(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	var req model.MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}

	med, err := h.service.CreateMedication(c.Request.Context(), userID, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithCreated(c, med)
}

func (h *Handler) GetMedication(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	id, err := httputil.UUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	med, err := h.service.GetMedication(c.Request.Context(), userID, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, med)
}

func (h *Handler) ListMedications(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	activeOnly := true
	if v := c.Query("active_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			_ = c.Error(errors.NewValidation("active_only", "must be true or false"))
			return
		}
		activeOnly = parsed
	}

	meds, err := h.service.ListMedications(c.Request.Context(), userID, activeOnly)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if meds == nil {
		meds = []*model.Medication{}
	}

	httputil.RespondWithSuccess(c, meds)
}

func (h *Handler) UpdateMedication(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	id, err := httputil.UUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req model.MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}

	med, err := h.service.UpdateMedication(c.Request.Context(), userID, id, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, med)
}

func (h *Handler) RestockMedication(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	id, err := httputil.UUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req model.RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}

	med, err := h.service.RestockMedication(c.Request.Context(), userID, id, *req.CurrentQuantity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, med)
}

func (h *Handler) DeactivateMedication(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	id, err := httputil.UUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.service.DeactivateMedication(c.Request.Context(), userID, id); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
