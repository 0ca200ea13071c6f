package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/archive"
)

type SettingsHandler struct {
	archiver *archive.Archiver
	log      *slog.Logger
}

type SettingsResponse struct {
	HistoryDays int `json:"history_days"`
}

type UpdateSettingsRequest struct {
	HistoryDays int `json:"history_days" binding:"required,min=1,max=3650"`
}

type PruneResponse struct {
	Pruned int64 `json:"pruned"`
}

func NewSettingsHandler(archiver *archive.Archiver, log *slog.Logger) *SettingsHandler {
	return &SettingsHandler{archiver: archiver, log: log}
}

func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.UpdateSettings)
	r.DELETE("/settings", h.ResetSettings)
	r.POST("/settings/prune", h.PruneHistory)
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, SettingsResponse{HistoryDays: h.archiver.HistoryDays()})
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.archiver.SetHistoryDays(c.Request.Context(), req.HistoryDays); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update history retention",
		})
		return
	}

	recordAudit(c, h.log, "settings.update", "setting", archive.SettingHistoryDays, gin.H{"history_days": req.HistoryDays})
	c.JSON(http.StatusOK, SettingsResponse{HistoryDays: req.HistoryDays})
}

func (h *SettingsHandler) ResetSettings(c *gin.Context) {
	days, err := h.archiver.ResetHistoryDays(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to reset history retention",
		})
		return
	}

	recordAudit(c, h.log, "settings.reset", "setting", archive.SettingHistoryDays, nil)
	c.JSON(http.StatusOK, SettingsResponse{HistoryDays: days})
}

// PruneHistory runs the daily history expiry immediately.
func (h *SettingsHandler) PruneHistory(c *gin.Context) {
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		h.log.Error("history pruning failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to prune history",
		})
		return
	}
	c.JSON(http.StatusOK, PruneResponse{Pruned: n})
}
