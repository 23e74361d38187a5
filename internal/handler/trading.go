package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rafflemarkets/internal/maker"
	"rafflemarkets/internal/repository"
	"rafflemarkets/internal/service"
)

type TradingHandler struct {
	Maker    *maker.Maker
	Repo     repository.Repository
	Settings *service.SystemSettingsService
}

func (h *TradingHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/markets/:id")
	g.GET("/quote", h.quote)
	g.POST("/buy", h.buy)
	g.POST("/sell", h.sell)
	r.GET("/api/v1/positions", h.positions)
}

func (h *TradingHandler) tradingEnabled(c *gin.Context) bool {
	if h.Settings == nil {
		return true
	}
	return h.Settings.IsEnabled(c.Request.Context(), service.SwitchTrading, true)
}

func tradeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, maker.ErrInvalidSide), errors.Is(err, maker.ErrInvalidAmount):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, maker.ErrInsufficientPosition):
		Error(c, http.StatusConflict, "insufficient position", nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}

// @Summary Quote a trade
// @Tags trading
// @Param id path int true "market id"
// @Param side query string true "YES or NO"
// @Param amount query int true "share amount"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id}/quote [get]
func (h *TradingHandler) quote(c *gin.Context) {
	if h.Maker == nil {
		Error(c, http.StatusInternalServerError, "maker unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	side := c.Query("side")
	amount := int64(intQuery(c, "amount", 0))
	q, err := h.Maker.Quote(c.Request.Context(), id, side, amount)
	if err != nil {
		tradeError(c, err)
		return
	}
	Ok(c, q, nil)
}

type tradeRequest struct {
	Side        string `json:"side"`
	Amount      int64  `json:"amount"`
	UserAddress string `json:"user_address"`
}

// @Summary Buy from the maker
// @Tags trading
// @Param id path int true "market id"
// @Param body body tradeRequest true "trade"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id}/buy [post]
func (h *TradingHandler) buy(c *gin.Context) {
	h.fill(c, func(id uint64, req tradeRequest) (*maker.Fill, error) {
		return h.Maker.Buy(c.Request.Context(), id, req.Side, req.Amount, req.UserAddress)
	})
}

// @Summary Sell to the maker
// @Tags trading
// @Param id path int true "market id"
// @Param body body tradeRequest true "trade"
// @Success 200 {object} apiResponse
// @Router /api/v1/markets/{id}/sell [post]
func (h *TradingHandler) sell(c *gin.Context) {
	h.fill(c, func(id uint64, req tradeRequest) (*maker.Fill, error) {
		return h.Maker.Sell(c.Request.Context(), id, req.Side, req.Amount, req.UserAddress)
	})
}

func (h *TradingHandler) fill(c *gin.Context, exec func(uint64, tradeRequest) (*maker.Fill, error)) {
	if h.Maker == nil {
		Error(c, http.StatusInternalServerError, "maker unavailable", nil)
		return
	}
	if !h.tradingEnabled(c) {
		Error(c, http.StatusForbidden, "trading disabled", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if strings.TrimSpace(req.UserAddress) == "" {
		Error(c, http.StatusBadRequest, "user_address required", nil)
		return
	}
	result, err := exec(id, req)
	if err != nil {
		tradeError(c, err)
		return
	}
	Ok(c, result, nil)
}

// @Summary List positions
// @Tags trading
// @Param market_id query int false "market id"
// @Param user query string false "user address"
// @Success 200 {object} apiResponse
// @Router /api/v1/positions [get]
func (h *TradingHandler) positions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListPositionsParams{
		Limit:    clampLimit(intQuery(c, "limit", 50), 50, 200),
		Offset:   intQuery(c, "offset", 0),
		MarketID: uintQueryPtr(c, "market_id"),
	}
	if user := strQueryPtr(c, "user"); user != nil {
		lower := strings.ToLower(*user)
		params.UserAddress = &lower
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
