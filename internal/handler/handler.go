package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lingosub/internal/cache"
	"github.com/lingosub/internal/fileops"
	"github.com/lingosub/internal/queue"
	"github.com/lingosub/internal/service/processor"
	"github.com/lingosub/internal/source"
	"github.com/lingosub/internal/subtitle"
	"github.com/lingosub/internal/version"
	"github.com/lingosub/pkg/logger"
)

// Service is the job front door used by the HTTP layer.
type Service interface {
	Submit(ctx context.Context, ref source.Reference, cfg queue.Config) (*queue.Job, error)
	SubmitPlaylist(ctx context.Context, url string, cfg queue.Config) ([]processor.PlaylistItem, error)
	Status(ctx context.Context, id string) (*queue.Job, error)
	DeleteCache(ctx context.Context, id string) cache.DeleteReport
}

// Handler handles HTTP requests.
type Handler struct {
	queue     *queue.Queue
	service   Service
	uploadDir string
}

// New creates a new Handler.
func New(q *queue.Queue, svc Service, uploadDir string) *Handler {
	return &Handler{
		queue:     q,
		service:   svc,
		uploadDir: uploadDir,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)
		api.GET("/version", h.Version)

		// Job submission
		api.POST("/transcribe", h.Transcribe)
		api.POST("/upload", h.Upload)
		api.POST("/playlist", h.Playlist)

		// Job status and output
		api.GET("/task/:id", h.GetTask)
		api.GET("/task/:id/srt", h.GetSubtitles)

		// Cache management
		api.DELETE("/cache/:id", h.DeleteCache)

		// Queue management
		api.GET("/queue", h.GetQueue)
		api.GET("/queue/stats", h.GetQueueStats)
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"current": h.queue.Current(),
	})
}

// Version returns service version.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

// JobOptions are the processing options shared by every submission endpoint.
type JobOptions struct {
	Service        string `json:"service" form:"service"`
	Domain         string `json:"domain" form:"domain"`
	Engine         string `json:"engine" form:"engine"`
	TargetLanguage string `json:"target_language" form:"target_language"`
	Correction     bool   `json:"correction" form:"correction"`
	Language       string `json:"language" form:"language"`
}

func (o JobOptions) config() queue.Config {
	return queue.Config{
		Service:           strings.ToLower(strings.TrimSpace(o.Service)),
		Domain:            strings.TrimSpace(o.Domain),
		Engine:            strings.TrimSpace(o.Engine),
		TargetLanguage:    strings.TrimSpace(o.TargetLanguage),
		CorrectionEnabled: o.Correction,
		Language:          strings.TrimSpace(o.Language),
	}
}

// TranscribeRequest is the request body for a remote media URL.
type TranscribeRequest struct {
	URL string `json:"url" binding:"required"`
	JobOptions
}

// Transcribe queues a remote media URL.
func (h *Handler) Transcribe(c *gin.Context) {
	var req TranscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, err := source.FromURL(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, ref, req.config())
}

// Upload stores an uploaded media file under its content hash and queues it.
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if !fileops.IsMediaFile(file.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported file type: %s", filepath.Ext(file.Filename))})
		return
	}

	var opts JobOptions
	if err := c.ShouldBind(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := fileops.EnsureDir(h.uploadDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	tmp := filepath.Join(h.uploadDir, uuid.NewString()+".part")
	if err := c.SaveUploadedFile(file, tmp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	id, err := source.IDFromFile(tmp)
	if err != nil {
		fileops.RemoveQuiet(tmp)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dst := filepath.Join(h.uploadDir, id+ext)
	if fileops.NonEmpty(dst) {
		// Same content was uploaded before.
		fileops.RemoveQuiet(tmp)
	} else if err := fileops.Move(tmp, dst); err != nil {
		fileops.RemoveQuiet(tmp)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("📤 Upload stored: %s → %s", file.Filename, filepath.Base(dst))
	h.submit(c, source.Reference{LocalPath: dst, ID: id}, opts.config())
}

func (h *Handler) submit(c *gin.Context, ref source.Reference, cfg queue.Config) {
	job, err := h.service.Submit(c.Request.Context(), ref, cfg)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":  job.ID,
		"status":   job.Status,
		"progress": job.Progress,
	})
}

// PlaylistRequest is the request body for a playlist URL.
type PlaylistRequest struct {
	URL string `json:"url" binding:"required"`
	JobOptions
}

// Playlist expands a playlist and queues every entry.
func (h *Handler) Playlist(c *gin.Context) {
	var req PlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := h.service.SubmitPlaylist(c.Request.Context(), req.URL, req.config())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	queued := 0
	for _, it := range items {
		if it.Error == "" {
			queued++
		}
	}
	c.JSON(http.StatusAccepted, gin.H{
		"tasks":  items,
		"count":  len(items),
		"queued": queued,
	})
}

// GetTask returns the job for a source id.
func (h *Handler) GetTask(c *gin.Context) {
	job, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetSubtitles renders a completed job as SRT (default) or WebVTT.
func (h *Handler) GetSubtitles(c *gin.Context) {
	id := c.Param("id")
	job, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if job.Status != queue.StatusCompleted || job.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("task is %s", job.Status)})
		return
	}

	translated := false
	if v := c.Query("translated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "translated must be a boolean"})
			return
		}
		translated = b
	}

	switch strings.ToLower(c.DefaultQuery("format", "srt")) {
	case "srt":
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.srt"`, id))
		c.Data(http.StatusOK, "application/x-subrip; charset=utf-8", []byte(subtitle.FormatSRT(job.Result.Lines, translated)))
	case "vtt":
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.vtt"`, id))
		c.Data(http.StatusOK, "text/vtt; charset=utf-8", []byte(subtitle.FormatVTT(job.Result.Lines, translated)))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be srt or vtt"})
	}
}

// DeleteCache removes every cached copy of a source.
func (h *Handler) DeleteCache(c *gin.Context) {
	report := h.service.DeleteCache(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, report)
}

// GetQueue returns all jobs in the queue.
func (h *Handler) GetQueue(c *gin.Context) {
	jobs := h.queue.List()
	c.JSON(http.StatusOK, jobs)
}

// GetQueueStats returns queue statistics.
func (h *Handler) GetQueueStats(c *gin.Context) {
	stats := h.queue.Stats()
	c.JSON(http.StatusOK, stats)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, processor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrConfiguration), errors.Is(err, source.ErrEmptyReference):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
