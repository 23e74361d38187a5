package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rafflemarkets/internal/history"
	"rafflemarkets/internal/repository"
)

type HistoryHandler struct {
	Store history.Store
	Repo  repository.Repository
}

func (h *HistoryHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/markets/:id/odds-history")
	g.GET("", h.get)
	g.GET("/stats", h.stats)
}

// resolveMarket maps the route id to the (season, market) pair keying the
// odds series.
func (h *HistoryHandler) resolveMarket(c *gin.Context) (seasonID, marketID uint64, ok bool) {
	if h.Store == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "history unavailable", nil)
		return 0, 0, false
	}
	id, valid := uintParam(c, "id")
	if !valid {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return 0, 0, false
	}
	market, err := h.Repo.GetMarketByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return 0, 0, false
	}
	if market == nil {
		notFound(c, "market")
		return 0, 0, false
	}
	return market.SeasonID, market.ID, true
}

// @Summary Historical odds for a market
// @Tags history
// @Param id path int true "market id"
// @Param range query string false "hour, day, week, month or all"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id}/odds-history [get]
func (h *HistoryHandler) get(c *gin.Context) {
	rng := c.Query("range")
	if _, err := history.ParseRange(rng); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	seasonID, marketID, ok := h.resolveMarket(c)
	if !ok {
		return
	}
	result, err := h.Store.GetHistoricalOdds(c.Request.Context(), seasonID, marketID, rng)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, map[string]any{"range": history.NormalizeRange(rng)})
}

// @Summary Odds series stats for a market
// @Tags history
// @Param id path int true "market id"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id}/odds-history/stats [get]
func (h *HistoryHandler) stats(c *gin.Context) {
	seasonID, marketID, ok := h.resolveMarket(c)
	if !ok {
		return
	}
	stats, err := h.Store.Stats(c.Request.Context(), seasonID, marketID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}
