package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"rafflemarkets/internal/config"
	"rafflemarkets/internal/metrics"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
	"rafflemarkets/internal/service"
)

const wsWriteTimeout = 5 * time.Second

type WSHandler struct {
	Engine   *pricing.Engine
	Repo     repository.Repository
	Settings *service.SystemSettingsService
	Logger   *zap.Logger
	Config   config.StreamConfig
}

// wsMessage is the typed envelope written to websocket clients.
type wsMessage struct {
	Type string            `json:"type"`
	Data *pricing.Snapshot `json:"data,omitempty"`
	TS   int64             `json:"ts,omitempty"`
}

func (h *WSHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/markets/:id/ws", h.stream)
}

func (h *WSHandler) heartbeat() time.Duration {
	if h.Config.HeartbeatInterval > 0 {
		return h.Config.HeartbeatInterval
	}
	return 15 * time.Second
}

func (h *WSHandler) buffer() int {
	if h.Config.SubscriberBuffer > 0 {
		return h.Config.SubscriberBuffer
	}
	return 16
}

func (h *WSHandler) stream(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "pricing engine unavailable", nil)
		return
	}
	if h.Settings != nil && !h.Settings.IsEnabled(c.Request.Context(), service.SwitchStream, true) {
		Error(c, http.StatusForbidden, "streaming disabled", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	if h.Repo != nil {
		market, err := h.Repo.GetMarketByID(c.Request.Context(), id)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if market == nil {
			notFound(c, "market")
			return
		}
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("ws accept failed", zap.Uint64("market_id", id), zap.Error(err))
		}
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Push-only connection: CloseRead discards client frames and cancels
	// the returned ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	ch, unsubscribe := subscribeBuffered(h.Engine, id, h.buffer(), "ws")
	defer unsubscribe()
	metrics.StreamClients.WithLabelValues("ws").Inc()
	defer metrics.StreamClients.WithLabelValues("ws").Dec()

	if snap := initialSnapshot(ctx, h.Engine, h.Repo, id); snap != nil {
		if err := h.write(ctx, conn, wsMessage{Type: "price", Data: snap}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.heartbeat())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap := <-ch:
			if err := h.write(ctx, conn, wsMessage{Type: "price", Data: &snap}); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.write(ctx, conn, wsMessage{Type: "heartbeat", TS: time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}
