package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hydropulse/internal/api/models"
	"hydropulse/internal/gateway"
	"hydropulse/internal/link"
	"hydropulse/internal/telemetry"
)

// TelemetryHandler serves the validated, filtered telemetry view.
type TelemetryHandler struct {
	store *telemetry.Store
	gw    *gateway.Gateway
	link  *link.Link
}

// NewTelemetryHandler creates a telemetry handler. uplink may be nil.
func NewTelemetryHandler(store *telemetry.Store, gw *gateway.Gateway, uplink *link.Link) *TelemetryHandler {
	return &TelemetryHandler{store: store, gw: gw, link: uplink}
}

// Mode is SIMULATION unless the uplink is connected.
func Mode(l *link.Link) string {
	if l == nil || l.State().Simulated() {
		return "SIMULATION"
	}
	return "LIVE"
}

// List handles GET /api/v1/telemetry
func (h *TelemetryHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, models.TelemetryResponse{
		Status:   string(h.gw.Status()),
		Mode:     Mode(h.link),
		Readings: h.store.Readings(),
	})
}

// Get handles GET /api/v1/telemetry/:tag
func (h *TelemetryHandler) Get(c *gin.Context) {
	id := c.Param("tag")
	r, ok := h.store.Reading(id)
	if !ok {
		c.JSON(http.StatusNotFound, models.NewError("UNKNOWN_TAG", "no telemetry for "+id))
		return
	}
	c.JSON(http.StatusOK, r)
}

// History handles GET /api/v1/telemetry/:tag/history
func (h *TelemetryHandler) History(c *gin.Context) {
	id := c.Param("tag")
	points, ok := h.store.History(id)
	if !ok {
		c.JSON(http.StatusNotFound, models.NewError("UNKNOWN_TAG", "no telemetry for "+id))
		return
	}
	resp := models.HistoryResponse{SignalID: id, Points: make([]models.HistoryPoint, len(points))}
	if r, ok := h.store.Reading(id); ok {
		resp.Unit = r.Unit
	}
	for i, p := range points {
		resp.Points[i] = models.HistoryPoint{TimestampMs: p.TimestampMs, Value: p.Value}
	}
	c.JSON(http.StatusOK, resp)
}

// Tags handles GET /api/v1/tags
func (h *TelemetryHandler) Tags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tags": h.gw.Tags()})
}
