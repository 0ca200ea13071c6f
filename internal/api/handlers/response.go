package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/api/middleware"
	"github.com/orrn/printapp/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// coreError writes the HTTP response for an error returned by the job
// engine.
func coreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrPrinterNotFound), errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, core.ErrPrinterAlreadyExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	case errors.Is(err, core.ErrJobTerminal), errors.Is(err, core.ErrJobNotHeld), errors.Is(err, core.ErrJobActive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_state", Message: err.Error()})
	case errors.Is(err, core.ErrPrinterDeleted), errors.Is(err, core.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: err.Error()})
	case errors.Is(err, core.ErrInvalidJob), errors.Is(err, core.ErrInvalidSubmission):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

// lookupPrinter resolves the :name parameter. Operators get 403 for
// printers outside their token's scope, whether or not they exist.
func lookupPrinter(c *gin.Context, sys *core.System) (*core.Printer, bool) {
	name := c.Param("name")
	if !middleware.CurrentIdentity(c).CanUsePrinter(name) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "No access to printer " + name})
		return nil, false
	}
	p := sys.Printer(name)
	if p == nil {
		coreError(c, core.ErrPrinterNotFound)
		return nil, false
	}
	return p, true
}

func lookupJob(c *gin.Context, sys *core.System) (*core.Printer, *core.Job, bool) {
	p, ok := lookupPrinter(c, sys)
	if !ok {
		return nil, nil, false
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid job ID"})
		return nil, nil, false
	}

	j := p.FindJob(id)
	if j == nil {
		coreError(c, core.ErrJobNotFound)
		return nil, nil, false
	}
	return p, j, true
}

// canManage writes a 403 unless the caller may change j.
func canManage(c *gin.Context, j *core.Job) bool {
	if middleware.CurrentIdentity(c).CanManageJob(j.Username()) {
		return true
	}
	c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "Job belongs to another user"})
	return false
}
