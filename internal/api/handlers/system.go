package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/db"
)

type SystemStatusResponse struct {
	Printers   int        `json:"printers"`
	Active     int        `json:"active_jobs"`
	Completed  int        `json:"completed_jobs"`
	Processing int        `json:"processing"`
	CleanTime  *time.Time `json:"clean_time,omitempty"`
}

type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

type ListHistoryQuery struct {
	Printer  string `form:"printer"`
	State    string `form:"state"`
	Username string `form:"username"`
	FromDate string `form:"from_date"`
	ToDate   string `form:"to_date"`
	Limit    int    `form:"limit" binding:"max=500"`
	Offset   int    `form:"offset" binding:"min=0"`
	SortDir  string `form:"sort_dir" binding:"omitempty,oneof=asc desc"`
}

type SystemHandler struct {
	sys *core.System
	log *slog.Logger
}

func NewSystemHandler(sys *core.System, log *slog.Logger) *SystemHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SystemHandler{sys: sys, log: log.With("component", "api")}
}

func (h *SystemHandler) GetStatus(c *gin.Context) {
	var resp SystemStatusResponse
	for _, p := range h.sys.Printers() {
		info := p.Info()
		resp.Printers++
		resp.Active += info.ActiveJobs
		resp.Completed += info.CompletedJobs
		if info.ProcessingJob != 0 {
			resp.Processing++
		}
	}
	if t := h.sys.CleanTime(); !t.IsZero() {
		resp.CleanTime = &t
	}
	c.JSON(http.StatusOK, resp)
}

// Cleanup runs a retention sweep immediately.
func (h *SystemHandler) Cleanup(c *gin.Context) {
	n := h.sys.Sweep()
	h.log.Info("manual cleanup", "deleted", n)
	recordAudit(c, h.log, "system.cleanup", "system", "", gin.H{"deleted": n})
	c.JSON(http.StatusOK, CleanupResponse{Deleted: n})
}

func (h *SystemHandler) ListHistory(c *gin.Context) {
	var q ListHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	filter := db.HistoryFilter{
		Printer:  q.Printer,
		State:    q.State,
		Username: q.Username,
		OrderDir: q.SortDir,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.FromDate != "" {
		t, err := time.Parse(time.RFC3339, q.FromDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "from_date must be RFC 3339"})
			return
		}
		filter.FromDate = &t
	}
	if q.ToDate != "" {
		t, err := time.Parse(time.RFC3339, q.ToDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "to_date must be RFC 3339"})
			return
		}
		filter.ToDate = &t
	}

	records, err := db.History.ListHistory(c.Request.Context(), filter)
	if err != nil {
		h.log.Error("failed to list history", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve history"})
		return
	}
	if records == nil {
		records = []*db.JobRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// GetJobRecord returns the history record of a deleted job.
func (h *SystemHandler) GetJobRecord(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid job ID"})
		return
	}

	rec, err := db.History.GetJobRecord(c.Request.Context(), c.Param("printer"), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "No history for this job"})
		return
	}
	if err != nil {
		h.log.Error("failed to get job record", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve history"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *SystemHandler) ListAuditLogs(c *gin.Context) {
	filter := db.AuditFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
	}
	logs, err := db.Audit.ListAuditLogs(c.Request.Context(), filter, 100, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve audit log"})
		return
	}
	if logs == nil {
		logs = []*db.AuditLog{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *SystemHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/system/status", h.GetStatus)
	r.POST("/system/cleanup", h.Cleanup)
	r.GET("/history", h.ListHistory)
	r.GET("/history/:printer/:id", h.GetJobRecord)
	r.GET("/audit", h.ListAuditLogs)
}
