// Package api wires the HTTP handlers into a gin engine.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/api/handlers"
	"github.com/orrn/printapp/internal/api/middleware"
	"github.com/orrn/printapp/internal/archive"
	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/events"
)

type Deps struct {
	System   *core.System
	Broker   *events.Broker
	Archiver *archive.Archiver
	SpoolDir string
	Logger   *slog.Logger
	// Auth guards every /api route except /api/auth when set. Operator
	// tokens reach printers and jobs only.
	Auth *middleware.AuthMiddleware
}

func NewRouter(d Deps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log.With("component", "http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := r.Group("/api")
	if d.Auth != nil {
		d.Auth.RegisterRoutes(api.Group("/auth"))
		api.Use(d.Auth.RequireAuth())
	}

	handlers.NewPrinterHandler(d.System, log).RegisterRoutes(api)
	handlers.NewJobHandler(d.System, d.SpoolDir, log).RegisterRoutes(api)

	admin := api.Group("", middleware.RequireAdmin())
	handlers.NewSystemHandler(d.System, log).RegisterRoutes(admin)
	handlers.NewWebhookHandler(log).RegisterRoutes(admin)
	if d.Archiver != nil {
		handlers.NewSettingsHandler(d.Archiver, log).RegisterRoutes(admin)
	}
	if d.Broker != nil {
		handlers.NewEventHandler(d.Broker, log).RegisterRoutes(admin)
	}

	return r
}
