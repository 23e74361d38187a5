package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rafflemarkets/internal/config"
	"rafflemarkets/internal/metrics"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
	"rafflemarkets/internal/service"
)

type StreamHandler struct {
	Engine   *pricing.Engine
	Repo     repository.Repository
	Settings *service.SystemSettingsService
	Logger   *zap.Logger
	Config   config.StreamConfig
}

func (h *StreamHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/markets/:id/stream", h.sse)
}

func (h *StreamHandler) heartbeat() time.Duration {
	if h.Config.HeartbeatInterval > 0 {
		return h.Config.HeartbeatInterval
	}
	return 15 * time.Second
}

func (h *StreamHandler) buffer() int {
	if h.Config.SubscriberBuffer > 0 {
		return h.Config.SubscriberBuffer
	}
	return 16
}

func (h *StreamHandler) streamEnabled(c *gin.Context) bool {
	if h.Settings == nil {
		return true
	}
	return h.Settings.IsEnabled(c.Request.Context(), service.SwitchStream, true)
}

// subscribeBuffered bridges the engine's synchronous callback into a
// buffered channel. A full buffer drops the oldest update so a stalled
// client can never back-pressure the pricing engine.
func subscribeBuffered(engine *pricing.Engine, marketID uint64, size int, transport string) (<-chan pricing.Snapshot, func()) {
	ch := make(chan pricing.Snapshot, size)
	unsubscribe := engine.SubscribeToMarket(marketID, func(snap pricing.Snapshot) {
		for {
			select {
			case ch <- snap:
				return
			default:
			}
			select {
			case <-ch:
				metrics.StreamDrops.WithLabelValues(transport).Inc()
			default:
			}
		}
	})
	return ch, unsubscribe
}

// initialSnapshot is best-effort: live cache first, then the persisted row.
// A market that has never priced streams heartbeats until its first update.
func initialSnapshot(ctx context.Context, engine *pricing.Engine, repo repository.Repository, marketID uint64) *pricing.Snapshot {
	if snap := engine.GetCachedPricing(marketID); snap != nil {
		return snap
	}
	if repo == nil {
		return nil
	}
	row, err := repo.GetPricingSnapshot(ctx, marketID)
	if err != nil || row == nil {
		return nil
	}
	snap := &pricing.Snapshot{
		MarketID:             marketID,
		RaffleProbabilityBps: row.RaffleProbabilityBps,
		MarketSentimentBps:   row.MarketSentimentBps,
		HybridPriceBps:       row.HybridPriceBps,
		RaffleWeightBps:      row.RaffleWeightBps,
		MarketWeightBps:      row.MarketWeightBps,
		LastUpdated:          row.LastUpdated,
	}
	if market, err := repo.GetMarketByID(ctx, marketID); err == nil && market != nil {
		snap.SeasonID = market.SeasonID
	}
	return snap
}

func (h *StreamHandler) sse(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "pricing engine unavailable", nil)
		return
	}
	if !h.streamEnabled(c) {
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

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch, unsubscribe := subscribeBuffered(h.Engine, id, h.buffer(), "sse")
	defer unsubscribe()
	metrics.StreamClients.WithLabelValues("sse").Inc()
	defer metrics.StreamClients.WithLabelValues("sse").Dec()

	if snap := initialSnapshot(c.Request.Context(), h.Engine, h.Repo, id); snap != nil {
		c.SSEvent("price", snap)
		c.Writer.Flush()
	}

	ticker := time.NewTicker(h.heartbeat())
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case snap := <-ch:
			c.SSEvent("price", snap)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	if h.Logger != nil {
		h.Logger.Debug("sse client disconnected", zap.Uint64("market_id", id))
	}
}
