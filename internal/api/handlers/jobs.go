package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/api/middleware"
	"github.com/orrn/printapp/internal/attrs"
	"github.com/orrn/printapp/internal/core"
)

const defaultDocumentFormat = "application/octet-stream"

// SubmitJobQuery carries the job options of a submission. They come from the
// query string, or from the form fields of a multipart upload.
type SubmitJobQuery struct {
	Name   string `form:"name"`
	User   string `form:"user"`
	Copies int    `form:"copies" binding:"min=0"`
	Format string `form:"format"`
	Hold   bool   `form:"hold"`
}

type JobHandler struct {
	sys      *core.System
	spoolDir string
	log      *slog.Logger
}

func NewJobHandler(sys *core.System, spoolDir string, log *slog.Logger) *JobHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JobHandler{sys: sys, spoolDir: spoolDir, log: log.With("component", "api")}
}

// SubmitJob creates a job, spools its single document and releases it unless
// hold is set. The document is either the "document" part of a multipart
// form or the raw request body.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	p, ok := lookupPrinter(c, h.sys)
	if !ok {
		return
	}

	var q SubmitJobQuery
	var src io.Reader
	filename := ""

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&q); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
			return
		}
		fh, err := c.FormFile("document")
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "document is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "upload_error", Message: err.Error()})
			return
		}
		defer f.Close()
		src = f
		filename = fh.Filename
		if q.Format == "" {
			q.Format = fh.Header.Get("Content-Type")
		}
	} else {
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
			return
		}
		src = c.Request.Body
		if q.Format == "" {
			q.Format = c.ContentType()
		}
	}

	format := normalizeFormat(q.Format)
	name := q.Name
	if name == "" {
		name = filename
	}

	// Operators always print as themselves. Admins may name another user.
	id := middleware.CurrentIdentity(c)
	user := id.User
	if id.Admin && q.User != "" {
		user = q.User
	}

	a := attrs.New()
	a.Set(attrs.TagOperation, "job-name", name)
	if user != "" {
		a.Set(attrs.TagOperation, "requesting-user-name", user)
	}
	if q.Copies > 0 {
		a.Set(attrs.TagJob, "copies", q.Copies)
	}
	if format != defaultDocumentFormat {
		a.Set(attrs.TagJob, "document-format-supplied", format)
	}

	job, err := p.CreateJob(&core.Submission{Attrs: a, Username: user})
	if err != nil {
		coreError(c, err)
		return
	}
	log := h.log.With("printer", p.Name(), "job_id", job.ID())

	path, err := h.spool(job, src)
	if err != nil {
		log.Error("failed to spool document", "error", err)
		h.discard(p, job)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "spool_error", Message: "Failed to store document"})
		return
	}

	docAttrs := attrs.New()
	if filename != "" {
		docAttrs.Set(attrs.TagDocument, "document-name", filename)
	}
	docAttrs.Set(attrs.TagDocument, "document-format", format)
	job.AddDocument(path, format, docAttrs)

	if !q.Hold {
		if err := p.ReleaseJob(job); err != nil {
			coreError(c, err)
			return
		}
	}

	log.Info("job submitted", "username", job.Username(), "format", job.Format(), "hold", q.Hold)
	recordAudit(c, h.log, "job.submit", "job", jobEntity(p, job), gin.H{"name": job.Name(), "copies": job.Copies()})
	c.JSON(http.StatusCreated, job.Snapshot())
}

func (h *JobHandler) spool(job *core.Job, src io.Reader) (string, error) {
	f, path, err := job.CreateFile(h.spoolDir, "")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return path, nil
}

func (h *JobHandler) discard(p *core.Printer, job *core.Job) {
	if err := p.CancelJob(job); err != nil {
		h.log.Warn("failed to cancel rejected job", "job_id", job.ID(), "error", err)
		return
	}
	if err := p.RemoveJob(job); err != nil {
		h.log.Warn("failed to remove rejected job", "job_id", job.ID(), "error", err)
	}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	p, ok := lookupPrinter(c, h.sys)
	if !ok {
		return
	}

	which, ok := core.ParseWhich(c.Query("which"))
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: fmt.Sprintf("unknown which value %q", c.Query("which"))})
		return
	}

	jobs := p.Jobs(which)
	snaps := make([]core.Snapshot, 0, len(jobs))
	for _, j := range jobs {
		snaps = append(snaps, j.Snapshot())
	}
	c.JSON(http.StatusOK, snaps)
}

func (h *JobHandler) GetJob(c *gin.Context) {
	_, j, ok := lookupJob(c, h.sys)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, j.Snapshot())
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	p, j, ok := lookupJob(c, h.sys)
	if !ok || !canManage(c, j) {
		return
	}
	if err := p.CancelJob(j); err != nil {
		coreError(c, err)
		return
	}
	recordAudit(c, h.log, "job.cancel", "job", jobEntity(p, j), nil)
	c.JSON(http.StatusOK, j.Snapshot())
}

func (h *JobHandler) ReleaseJob(c *gin.Context) {
	p, j, ok := lookupJob(c, h.sys)
	if !ok || !canManage(c, j) {
		return
	}
	if err := p.ReleaseJob(j); err != nil {
		coreError(c, err)
		return
	}
	recordAudit(c, h.log, "job.release", "job", jobEntity(p, j), nil)
	c.JSON(http.StatusOK, j.Snapshot())
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	p, j, ok := lookupJob(c, h.sys)
	if !ok || !canManage(c, j) {
		return
	}
	if err := p.RemoveJob(j); err != nil {
		coreError(c, err)
		return
	}
	recordAudit(c, h.log, "job.delete", "job", jobEntity(p, j), nil)
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/printers/:name/jobs", h.SubmitJob)
	r.GET("/printers/:name/jobs", h.ListJobs)
	r.GET("/printers/:name/jobs/:id", h.GetJob)
	r.DELETE("/printers/:name/jobs/:id", h.DeleteJob)
	r.POST("/printers/:name/jobs/:id/cancel", h.CancelJob)
	r.POST("/printers/:name/jobs/:id/release", h.ReleaseJob)
}

func normalizeFormat(format string) string {
	if format == "" {
		return defaultDocumentFormat
	}
	mt, _, err := mime.ParseMediaType(format)
	if err != nil {
		return defaultDocumentFormat
	}
	return mt
}

func jobEntity(p *core.Printer, j *core.Job) string {
	return fmt.Sprintf("%s/%d", p.Name(), j.ID())
}
