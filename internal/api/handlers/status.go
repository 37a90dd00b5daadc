package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hydropulse/internal/alerting"
	"hydropulse/internal/api/models"
	"hydropulse/internal/link"
	"hydropulse/internal/pipeline"
)

// StatusHandler exposes what the pipeline found and the uplink state.
type StatusHandler struct {
	pipe   *pipeline.Pipeline
	link   *link.Link
	alerts *alerting.MemoryJournal
}

// NewStatusHandler creates a status handler. uplink and alerts may be nil.
func NewStatusHandler(pipe *pipeline.Pipeline, uplink *link.Link, alerts *alerting.MemoryJournal) *StatusHandler {
	return &StatusHandler{pipe: pipe, link: uplink, alerts: alerts}
}

// Anomalies handles GET /api/v1/anomalies
func (h *StatusHandler) Anomalies(c *gin.Context) {
	out := h.pipe.Anomalies()
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", "limit must be a positive integer"))
			return
		}
		if n < len(out) {
			out = out[:n]
		}
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": out})
}

// Plan handles GET /api/v1/plan
func (h *StatusHandler) Plan(c *gin.Context) {
	plan, ok := h.pipe.LastPlan()
	if !ok {
		c.JSON(http.StatusNotFound, models.NewError("NO_PLAN", "no strategist output yet"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "finance": h.pipe.Finance()})
}

// Link handles GET /api/v1/link
func (h *StatusHandler) Link(c *gin.Context) {
	if h.link == nil {
		c.JSON(http.StatusOK, models.LinkStatus{
			State:     string(link.StateIdle),
			Simulated: true,
			Profile:   link.ProfileNormal.Name,
		})
		return
	}
	c.JSON(http.StatusOK, models.LinkStatus{
		State:        string(h.link.State()),
		Simulated:    h.link.State().Simulated(),
		Profile:      h.link.Profile().Name,
		InBlackout:   h.link.InBlackout(),
		QueuedAlerts: h.link.QueuedAlerts(),
		LastSignal:   h.link.LastSignal(),
	})
}

// SetProfile handles PUT /api/v1/link/profile
func (h *StatusHandler) SetProfile(c *gin.Context) {
	if h.link == nil {
		c.JSON(http.StatusConflict, models.NewError("NO_UPLINK", "no uplink configured"))
		return
	}
	var req models.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	p := link.AutoProfile(link.NetworkHints{Mobile: req.Mobile, EffectiveType: req.EffectiveType, SaveData: req.SaveData})
	if req.Name != "" {
		named, ok := link.ProfileByName(req.Name)
		if !ok {
			c.JSON(http.StatusBadRequest, models.NewError("UNKNOWN_PROFILE", "unknown profile "+req.Name))
			return
		}
		p = named
	}
	h.link.SetProfile(p)
	c.JSON(http.StatusOK, gin.H{"profile": p.Name})
}

// Alerts handles GET /api/v1/alerts
func (h *StatusHandler) Alerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.Alerts()})
}
