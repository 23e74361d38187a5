package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rafflemarkets/internal/maker"
	"rafflemarkets/internal/reconciler"
	"rafflemarkets/internal/repository"
	"rafflemarkets/internal/service"
	"rafflemarkets/internal/watcher"
)

// maxScanRange bounds one admin backfill request; FilterLogs over an
// unbounded range will time out against most providers.
const maxScanRange = 50_000

type AdminHandler struct {
	Repo       repository.Repository
	Reconciler *reconciler.Reconciler
	Watcher    *watcher.Watcher
	Maker      *maker.Maker
	Settings   *service.SystemSettingsService
}

func (h *AdminHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/admin")
	g.GET("/creation-failures", h.listFailures)
	g.POST("/creation-failures/:id/retry", h.retryFailure)
	g.POST("/creation-failures/:id/resolve", h.resolveFailure)
	g.POST("/backfill", h.backfill)
	g.GET("/settings", h.listSettings)
	g.GET("/settings/:key", h.getSetting)
	g.PUT("/settings/:key", h.putSetting)
	g.GET("/inventory", h.inventory)
	g.GET("/checkpoints", h.checkpoints)
}

func (h *AdminHandler) listFailures(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListCreationFailuresParams{
		Limit:    clampLimit(intQuery(c, "limit", 50), 50, 200),
		Offset:   intQuery(c, "offset", 0),
		SeasonID: uintQueryPtr(c, "season_id"),
		Resolved: boolQueryPtr(c, "resolved"),
	}
	items, err := h.Repo.ListCreationFailures(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *AdminHandler) retryFailure(c *gin.Context) {
	if h.Repo == nil || h.Reconciler == nil {
		Error(c, http.StatusInternalServerError, "reconciler unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid failure id", nil)
		return
	}
	failure, err := h.Repo.GetCreationFailureByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if failure == nil {
		notFound(c, "creation failure")
		return
	}
	if failure.Resolved {
		Error(c, http.StatusConflict, "creation failure already resolved", nil)
		return
	}
	if err := h.Reconciler.RetryFailure(c.Request.Context(), id); err != nil {
		chainError(c, err)
		return
	}
	next, _ := h.Repo.GetCreationFailureByID(c.Request.Context(), id)
	Ok(c, next, nil)
}

func (h *AdminHandler) resolveFailure(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid failure id", nil)
		return
	}
	failure, err := h.Repo.GetCreationFailureByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if failure == nil {
		notFound(c, "creation failure")
		return
	}
	if err := h.Repo.ResolveCreationFailure(c.Request.Context(), id); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	next, _ := h.Repo.GetCreationFailureByID(c.Request.Context(), id)
	Ok(c, next, nil)
}

type backfillRequest struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
}

func (h *AdminHandler) backfill(c *gin.Context) {
	if h.Watcher == nil {
		Error(c, http.StatusInternalServerError, "watcher unavailable", nil)
		return
	}
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.ToBlock < req.FromBlock {
		Error(c, http.StatusBadRequest, "to_block before from_block", nil)
		return
	}
	if req.ToBlock-req.FromBlock > maxScanRange {
		Error(c, http.StatusBadRequest, "block range too large", nil)
		return
	}
	processed, failed, err := h.Watcher.Scan(c.Request.Context(), req.FromBlock, req.ToBlock)
	if err != nil {
		chainError(c, err)
		return
	}
	Ok(c, map[string]any{
		"from_block": req.FromBlock,
		"to_block":   req.ToBlock,
		"processed":  processed,
		"failed":     failed,
	}, nil)
}

func (h *AdminHandler) listSettings(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	items, err := h.Settings.List(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// getSetting returns the stored row. Sensitive values stay in their
// sealed at-rest form, so this is safe to expose.
func (h *AdminHandler) getSetting(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	item, err := h.Repo.GetSystemSetting(c.Request.Context(), key)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		notFound(c, "setting")
		return
	}
	Ok(c, item, nil)
}

type putSettingRequest struct {
	Enabled     *bool  `json:"enabled"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

func (h *AdminHandler) putSetting(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	switch {
	case req.Enabled != nil:
		if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		Ok(c, map[string]any{"key": key, "enabled": *req.Enabled}, nil)
	case req.Value != nil:
		if err := h.Settings.SetValue(c.Request.Context(), key, req.Value, req.Description); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if h.Repo == nil {
			Ok(c, map[string]any{"key": key}, nil)
			return
		}
		item, _ := h.Repo.GetSystemSetting(c.Request.Context(), key)
		Ok(c, item, nil)
	default:
		Error(c, http.StatusBadRequest, "no setting fields provided", nil)
	}
}

func (h *AdminHandler) inventory(c *gin.Context) {
	if h.Maker == nil {
		Error(c, http.StatusInternalServerError, "maker unavailable", nil)
		return
	}
	Ok(c, h.Maker.Inventory(), nil)
}

func (h *AdminHandler) checkpoints(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListWatchCheckpoints(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
