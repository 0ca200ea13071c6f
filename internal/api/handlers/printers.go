package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/api/middleware"
	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/db"
)

type CreatePrinterRequest struct {
	Name      string `json:"name" binding:"required,max=127"`
	DeviceURI string `json:"device_uri" binding:"required"`
}

type PrinterCountersResponse struct {
	Printer string         `json:"printer"`
	Total   int64          `json:"total"`
	Today   int64          `json:"today"`
	ByDate  []CounterEntry `json:"by_date"`
}

type CounterEntry struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

var supportedSchemes = map[string]bool{
	"socket": true,
	"file":   true,
}

type PrinterHandler struct {
	sys *core.System
	log *slog.Logger
	now func() time.Time
}

func NewPrinterHandler(sys *core.System, log *slog.Logger) *PrinterHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PrinterHandler{sys: sys, log: log.With("component", "api"), now: time.Now}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	printers := h.sys.Printers()
	infos := make([]core.PrinterInfo, 0, len(printers))
	for _, p := range printers {
		if id.CanUsePrinter(p.Name()) {
			infos = append(infos, p.Info())
		}
	}
	c.JSON(http.StatusOK, infos)
}

func (h *PrinterHandler) CreatePrinter(c *gin.Context) {
	var req CreatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	u, err := url.Parse(req.DeviceURI)
	if err != nil || !supportedSchemes[u.Scheme] {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "device_uri must use the socket or file scheme"})
		return
	}

	p, err := h.sys.CreatePrinter(req.Name, req.DeviceURI)
	if err != nil {
		coreError(c, err)
		return
	}

	if err := db.Printers.CreatePrinter(c.Request.Context(), &db.Printer{Name: req.Name, DeviceURI: req.DeviceURI}); err != nil {
		h.log.Error("failed to persist printer", "printer", req.Name, "error", err)
		h.sys.DeletePrinter(req.Name)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to create printer"})
		return
	}

	recordAudit(c, h.log, "printer.create", "printer", req.Name, gin.H{"device_uri": req.DeviceURI})
	c.JSON(http.StatusCreated, p.Info())
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	p, ok := lookupPrinter(c, h.sys)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.Info())
}

// DeletePrinter cancels the printer's jobs and removes it. The printer
// disappears from the engine once its last job has been swept.
func (h *PrinterHandler) DeletePrinter(c *gin.Context) {
	name := c.Param("name")
	if err := h.sys.DeletePrinter(name); err != nil {
		coreError(c, err)
		return
	}
	if err := db.Printers.DeletePrinter(c.Request.Context(), name); err != nil {
		h.log.Error("failed to delete printer row", "printer", name, "error", err)
	}
	recordAudit(c, h.log, "printer.delete", "printer", name, nil)
	c.Status(http.StatusNoContent)
}

func (h *PrinterHandler) StopPrinter(c *gin.Context) {
	h.setStopped(c, true)
}

func (h *PrinterHandler) StartPrinter(c *gin.Context) {
	h.setStopped(c, false)
}

func (h *PrinterHandler) setStopped(c *gin.Context, stopped bool) {
	p, ok := lookupPrinter(c, h.sys)
	if !ok {
		return
	}

	action := "printer.start"
	if stopped {
		p.Stop()
		action = "printer.stop"
	} else {
		p.Start()
	}

	if err := db.Printers.UpdatePrinterStopped(c.Request.Context(), p.Name(), stopped); err != nil {
		h.log.Error("failed to persist printer state", "printer", p.Name(), "error", err)
	}
	recordAudit(c, h.log, action, "printer", p.Name(), nil)
	c.JSON(http.StatusOK, p.Info())
}

func (h *PrinterHandler) GetPrinterCounters(c *gin.Context) {
	p, ok := lookupPrinter(c, h.sys)
	if !ok {
		return
	}

	now := h.now().UTC()
	counters, err := db.Counters.GetCounters(c.Request.Context(), p.Name(), now.AddDate(0, 0, -30), now)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve counters"})
		return
	}

	resp := PrinterCountersResponse{Printer: p.Name(), ByDate: make([]CounterEntry, 0, len(counters))}
	todayStr := now.Format("2006-01-02")
	for _, ct := range counters {
		resp.Total += ct.Count
		if ct.Date == todayStr {
			resp.Today = ct.Count
		}
		resp.ByDate = append(resp.ByDate, CounterEntry{Date: ct.Date, Count: ct.Count})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := middleware.RequireAdmin()
	r.GET("/printers", h.ListPrinters)
	r.POST("/printers", admin, h.CreatePrinter)
	r.GET("/printers/:name", h.GetPrinter)
	r.DELETE("/printers/:name", admin, h.DeletePrinter)
	r.POST("/printers/:name/stop", admin, h.StopPrinter)
	r.POST("/printers/:name/start", admin, h.StartPrinter)
	r.GET("/printers/:name/counters", h.GetPrinterCounters)
}
