package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hydropulse/internal/api/models"
	"hydropulse/internal/gateway"
	"hydropulse/internal/model"
)

const maxIngestMessage = 1 << 20

type ingestAck struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// IngestHandler accepts raw sample batches from field gateways.
type IngestHandler struct {
	gw  *gateway.Gateway
	log *zap.Logger
}

func NewIngestHandler(gw *gateway.Gateway, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{gw: gw, log: logger.Named("ingest")}
}

// Ingest handles GET /api/v1/ingest. Each text message is a JSON array of
// raw samples; every message is acknowledged with the accepted count.
func (h *IngestHandler) Ingest(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxIngestMessage)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("Ingest connection lost", zap.Error(err))
			}
			return
		}
		ack := ingestAck{}
		var batch []model.RawSample
		if err := codec.Unmarshal(msg, &batch); err != nil {
			ack.Error = "decode batch: " + err.Error()
		} else {
			h.gw.Ingest(batch)
			ack.Accepted = len(batch)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}

// IngestBatch handles POST /api/v1/ingest for clients without websockets.
func (h *IngestHandler) IngestBatch(c *gin.Context) {
	var batch []model.RawSample
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	signals := h.gw.Ingest(batch)
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(signals), "signals": signals})
}
