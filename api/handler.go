package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"clipmerge/config"
	"clipmerge/export"
	"clipmerge/media"
	"clipmerge/task"
)

// Thumbnailer renders preview frames for clips.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path string) (string, error)
}

type Handler struct {
	taskManager *task.Manager
	thumbnails  Thumbnailer
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, thumbs Thumbnailer, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		thumbnails:  thumbs,
		cfg:         cfg,
	}
}

type ProbeRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

type ProbeResult struct {
	Path            string            `json:"path"`
	Metadata        *media.Descriptor `json:"metadata,omitempty"`
	Source          media.Source      `json:"source,omitempty"`
	NeedsConversion bool              `json:"needsConversion"`
	Error           string            `json:"error,omitempty"`
}

type ExportRequest struct {
	VideoPaths []string `json:"videoPaths" binding:"required,min=1"`
	OutputDir  string   `json:"outputDir" binding:"required"`
}

// handleProbe reads metadata for each path and flags mixed phone/camcorder
// selections.
func (h *Handler) handleProbe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metadata, errs := h.taskManager.ProbeAll(c.Request.Context(), req.Paths)
	profile := h.cfg.Profile()

	results := make([]ProbeResult, 0, len(req.Paths))
	for _, p := range req.Paths {
		r := ProbeResult{Path: p}
		if d, ok := metadata[p]; ok {
			r.Metadata = &d
			r.Source = media.DetectSource(p, d)
			r.NeedsConversion = media.NeedsConversion(d, profile)
		} else if err := errs[p]; err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"results":      results,
		"mixedSources": media.HasSourceMismatch(req.Paths, metadata),
	})
}

// handleCreateExport queues an export.
func (h *Handler) handleCreateExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.taskManager.Submit(export.Request{VideoPaths: req.VideoPaths, OutputDir: req.OutputDir})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to create export", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"exportId": job.ID})
}

// handleListExports lists all exports.
func (h *Handler) handleListExports(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.List())
}

// handleGetExport retrieves the status of a single export.
func (h *Handler) handleGetExport(c *gin.Context) {
	job, found := h.taskManager.Get(c.Param("exportId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Export not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleExportEvents streams progress as server-sent events: every progress
// event in order, then one "complete", "error" or "canceled" event.
func (h *Handler) handleExportEvents(c *gin.Context) {
	id := c.Param("exportId")
	job, changed, err := h.taskManager.Subscribe(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Export not found"})
		return
	}

	sent := 0
	c.Stream(func(w io.Writer) bool {
		for ; sent < len(job.Events); sent++ {
			c.SSEvent("progress", job.Events[sent])
		}
		if job.Status.Terminal() {
			switch job.Status {
			case task.StatusCompleted:
				c.SSEvent("complete", gin.H{"outputPath": job.OutputPath})
			case task.StatusCanceled:
				c.SSEvent("canceled", gin.H{"message": job.Error})
			default:
				c.SSEvent("error", gin.H{"message": job.Error})
			}
			return false
		}

		select {
		case <-c.Request.Context().Done():
			return false
		case <-changed:
		}
		job, changed, err = h.taskManager.Subscribe(id)
		return err == nil
	})
}

// handleCancelExport cancels an export.
func (h *Handler) handleCancelExport(c *gin.Context) {
	err := h.taskManager.Cancel(c.Param("exportId"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Export cancellation requested"})
}

// handleThumbnail serves a cached preview frame for a clip.
func (h *Handler) handleThumbnail(c *gin.Context) {
	path := c.Query("path")
	if path == "" || !filepath.IsAbs(path) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "an absolute path query parameter is required"})
		return
	}
	thumb, err := h.thumbnails.Thumbnail(c.Request.Context(), path)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.File(thumb)
}
