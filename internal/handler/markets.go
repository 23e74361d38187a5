package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rafflemarkets/internal/repository"
)

type MarketsHandler struct {
	Repo repository.Repository
}

func (h *MarketsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/markets")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/trades", h.trades)
}

// @Summary List markets
// @Tags markets
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param season_id query int false "season id"
// @Param player_id query int false "player id"
// @Param market_type query string false "market type"
// @Param active query bool false "active only"
// @Param settled query bool false "settled only"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets [get]
func (h *MarketsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 50), 50, 200)
	offset := intQuery(c, "offset", 0)
	params := repository.ListMarketsParams{
		Limit:    limit,
		Offset:   offset,
		OrderBy:  "updated_at",
		Asc:      boolPtr(false),
		SeasonID: uintQueryPtr(c, "season_id"),
		PlayerID: uintQueryPtr(c, "player_id"),
		Active:   boolQueryPtr(c, "active"),
		Settled:  boolQueryPtr(c, "settled"),
	}
	if mt := strQueryPtr(c, "market_type"); mt != nil {
		upper := strings.ToUpper(*mt)
		params.MarketType = &upper
	}
	items, err := h.Repo.ListMarkets(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountMarkets(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get market
// @Tags markets
// @Param id path int true "market id"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id} [get]
func (h *MarketsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	item, err := h.Repo.GetMarketByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		notFound(c, "market")
		return
	}
	Ok(c, item, nil)
}

// @Summary List trades for a market
// @Tags markets
// @Param id path int true "market id"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param user query string false "user address"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id}/trades [get]
func (h *MarketsHandler) trades(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	params := repository.ListTradesParams{
		Limit:    clampLimit(intQuery(c, "limit", 50), 50, 200),
		Offset:   intQuery(c, "offset", 0),
		MarketID: &id,
	}
	if user := strQueryPtr(c, "user"); user != nil {
		lower := strings.ToLower(*user)
		params.UserAddress = &lower
	}
	items, err := h.Repo.ListTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
