package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hydropulse/internal/api/models"
	"hydropulse/internal/feedback"
	"hydropulse/internal/model"
)

// FeedbackHandler records operator vetoes and reports their effect.
type FeedbackHandler struct {
	svc *feedback.Service
}

func NewFeedbackHandler(svc *feedback.Service) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

// RecordVeto handles POST /api/v1/vetoes
func (h *FeedbackHandler) RecordVeto(c *gin.Context) {
	var req models.VetoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	rec := model.VetoRecord{
		ActionID:   req.ActionID,
		ActionType: req.ActionType,
		Reason:     req.Reason,
		Context:    req.Context,
		Timestamp:  req.Timestamp,
	}
	if err := h.svc.Record(c.Request.Context(), rec); err != nil {
		if errors.Is(err, feedback.ErrInvalidVeto) {
			c.JSON(http.StatusBadRequest, models.NewError("INVALID_VETO", err.Error()))
			return
		}
		c.JSON(http.StatusServiceUnavailable, models.NewError("STORE_ERROR", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded", "action_id": rec.ActionID})
}

// Modifiers handles GET /api/v1/feedback/:actionType
func (h *FeedbackHandler) Modifiers(c *gin.Context) {
	actionType := c.Param("actionType")
	mods, err := h.svc.Modifiers(c.Request.Context(), actionType)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "STORE_ERROR",
				Message: err.Error(),
				Details: map[string]interface{}{"fallback": mods},
			},
		})
		return
	}
	c.JSON(http.StatusOK, models.FeedbackResponse{ActionType: actionType, Modifiers: mods})
}
