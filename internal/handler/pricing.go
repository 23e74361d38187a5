package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
)

type PricingHandler struct {
	Engine *pricing.Engine
	Repo   repository.Repository
}

func (h *PricingHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/markets/:id/pricing")
	g.GET("", h.get)
	g.POST("", h.update)
}

func (h *PricingHandler) get(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	if h.Engine != nil {
		if snap := h.Engine.GetCachedPricing(id); snap != nil {
			Ok(c, snap, map[string]any{"source": "cache"})
			return
		}
	}
	if h.Repo != nil {
		row, err := h.Repo.GetPricingSnapshot(c.Request.Context(), id)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if row != nil {
			Ok(c, row, map[string]any{"source": "registry"})
			return
		}
	}
	notFound(c, "pricing snapshot")
}

type updatePricingRequest struct {
	RaffleProbabilityBps *int `json:"raffle_probability_bps"`
	MarketSentimentBps   *int `json:"market_sentiment_bps"`
	SentimentDeltaBps    *int `json:"sentiment_delta_bps"`
}

func (h *PricingHandler) update(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "pricing engine unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	var req updatePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.RaffleProbabilityBps == nil && req.MarketSentimentBps == nil && req.SentimentDeltaBps == nil {
		Error(c, http.StatusBadRequest, "no pricing fields provided", nil)
		return
	}
	for _, v := range []*int{req.RaffleProbabilityBps, req.MarketSentimentBps} {
		if v != nil && (*v < 0 || *v > 10000) {
			Error(c, http.StatusBadRequest, "bps out of range", nil)
			return
		}
	}

	var raffle *pricing.RaffleUpdate
	if req.RaffleProbabilityBps != nil {
		raffle = &pricing.RaffleUpdate{ProbabilityBps: *req.RaffleProbabilityBps}
	}
	var sentiment *pricing.SentimentUpdate
	if req.MarketSentimentBps != nil || req.SentimentDeltaBps != nil {
		sentiment = &pricing.SentimentUpdate{
			AbsoluteBps: req.MarketSentimentBps,
			DeltaBps:    req.SentimentDeltaBps,
		}
	}

	snap, err := h.Engine.UpdateHybridPricing(c.Request.Context(), id, raffle, sentiment)
	if err != nil {
		if errors.Is(err, pricing.ErrMarketNotFound) {
			notFound(c, "market")
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, snap, nil)
}
