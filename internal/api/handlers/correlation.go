package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"hydropulse/internal/api/models"
	"hydropulse/internal/correlation"
	"hydropulse/internal/telemetry"
)

// CorrelationHandler ranks signal pairs over the rolling windows.
type CorrelationHandler struct {
	store *telemetry.Store
}

func NewCorrelationHandler(store *telemetry.Store) *CorrelationHandler {
	return &CorrelationHandler{store: store}
}

// Rank handles GET /api/v1/correlations
func (h *CorrelationHandler) Rank(c *gin.Context) {
	var q models.CorrelationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	if q.Window < 0 || q.Threshold < 0 || q.Threshold > 1 {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", "window must be >= 0 and threshold in [0, 1]"))
		return
	}

	series := h.store.Snapshot().Series()
	if q.Window > 0 {
		for id, s := range series {
			if len(s) > q.Window {
				series[id] = s[len(s)-q.Window:]
			}
		}
	}
	ranked := correlation.RankPairs(series)
	pairs := make([]correlation.Pair, 0, len(ranked))
	for _, p := range ranked {
		if math.Abs(p.R) >= q.Threshold {
			pairs = append(pairs, p)
		}
	}
	c.JSON(http.StatusOK, models.CorrelationResponse{Window: q.Window, Threshold: q.Threshold, Pairs: pairs})
}
