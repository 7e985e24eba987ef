package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingosub/internal/cache"
	"github.com/lingosub/internal/client/apprise"
	"github.com/lingosub/internal/config"
	"github.com/lingosub/internal/events"
	"github.com/lingosub/internal/executor"
	"github.com/lingosub/internal/fileops"
	"github.com/lingosub/internal/handler"
	"github.com/lingosub/internal/queue"
	"github.com/lingosub/internal/retry"
	"github.com/lingosub/internal/service/processor"
	"github.com/lingosub/internal/translate"
	"github.com/lingosub/internal/version"
	"github.com/lingosub/pkg/logger"
)

func main() {
	// Initialize logger
	isDev := os.Getenv("ENV") != "production"
	logger.Init(isDev)
	defer logger.Sync()

	version.PrintBanner(nil)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	logger.Infof("📁 Loading config: %s", configPath)
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		logger.Fatalf("❌ Config error: %v", err)
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Get()
	logger.SetLevel(cfg.Server.LogLevel, isDev)

	if err := ensureDirectories(cfg); err != nil {
		logger.Fatalf("❌ Directory setup error: %v", err)
	}

	// Cache: local SQLite plus optional remote store
	local, err := cache.OpenSQLite(cfg.Cache.Dir)
	if err != nil {
		logger.Fatalf("❌ Cache error: %v", err)
	}
	openCtx, cancelOpen := context.WithTimeout(context.Background(), cfg.Remote.Timeout())
	remote, err := cache.OpenRemote(openCtx, cfg.Remote)
	cancelOpen()
	if err != nil {
		// The local cache is enough to serve jobs.
		logger.Warnf("⚠️ Remote cache unavailable, continuing with local only: %v", err)
		remote = nil
	}
	cacheMgr := cache.NewManager(local, remote, cfg.Remote.Timeout())
	defer cacheMgr.Close()

	// Job events
	publisher, err := events.Open(cfg.Events)
	if err != nil {
		logger.Warnf("⚠️ Event publishing disabled: %v", err)
		publisher = events.Nop{}
	}
	defer publisher.Close()

	// Notifications
	appriseClient := apprise.NewClient(cfg.Apprise)
	if cfg.Apprise.Enabled {
		logger.Infof("🔔 Notifications: enabled (key=%s)", cfg.Apprise.Key)
	} else {
		logger.Info("🔔 Notifications: disabled")
	}

	// External tools and APIs
	downloadPolicy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMs, cfg.Retry.DownloadTimeoutSec)
	llmPolicy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMs, cfg.Retry.LLMTimeoutSec)
	llm := executor.NewLLM(cfg.LLM, llmPolicy)

	downloader := executor.NewDownloader(cfg.Storage.TempDir, downloadPolicy)

	proc := processor.New(cfg, processor.Deps{
		Cache:       cacheMgr,
		Downloader:  downloader,
		Recognizers: executor.NewRecognizers(cfg.Recognizer),
		Translator:  translate.New(llm, cfg.Translate),
		LLMReady:    llm.Configured(),
		Notifier:    appriseClient,
		Events:      publisher,
	})

	cfgMgr.OnChange(func(_, newCfg *config.Config) {
		logger.SetLevel(newCfg.Server.LogLevel, isDev)
		proc.SetConfig(newCfg)
		downloader.SetPolicy(retry.NewPolicy(newCfg.Retry.MaxAttempts, newCfg.Retry.BaseDelayMs, newCfg.Retry.DownloadTimeoutSec))
		llm.SetPolicy(retry.NewPolicy(newCfg.Retry.MaxAttempts, newCfg.Retry.BaseDelayMs, newCfg.Retry.LLMTimeoutSec))
		logger.Info("🔄 Heuristics and retry settings reloaded (recognizer and LLM endpoints need a restart)")
	})

	// Initialize job queue
	jobQueue := queue.New(proc)
	proc.AttachQueue(jobQueue)
	cacheMgr.AttachForgetter(jobQueue)
	jobQueue.Start()
	defer jobQueue.Stop()

	if cacheMgr.HasRemote() && cfg.Remote.SyncOnStart {
		go func() {
			n, err := cacheMgr.SyncToRemote(context.Background())
			if err != nil {
				logger.Warnf("⚠️ Remote cache sync stopped: %v", err)
				return
			}
			logger.Infof("☁️ Synced %d cache records to %s", n, cfg.Remote.Backend)
		}()
	}

	// Initialize HTTP server
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Register routes
	h := handler.New(jobQueue, proc, cfg.Storage.UploadDir)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute, // uploads
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Print startup info
	logger.Info("")
	logger.Infof("📂 Storage:")
	logger.Infof("   %s → Cache database", cfg.Cache.Dir)
	logger.Infof("   %s → Downloaded audio", cfg.Storage.TempDir)
	logger.Infof("   %s → Uploaded audio", cfg.Storage.UploadDir)
	logger.Info("")
	logger.Infof("🎤 Recognizer: %s (engine: %s)", cfg.Recognizer.DefaultService, cfg.Recognizer.DefaultEngine)
	if llm.Configured() {
		logger.Infof("🌐 LLM: %s", cfg.LLM.Model)
	} else {
		logger.Warn("⚠️ LLM: no api key, correction and translation are unavailable")
	}
	if cfg.LLM.RateLimitRPM > 0 {
		logger.Infof("🚦 Rate limit: %d RPM", cfg.LLM.RateLimitRPM)
	}
	if remote != nil {
		logger.Infof("☁️ Remote cache: %s", remote.Name())
	}
	logger.Info("")
	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Infof("   POST   /api/v1/transcribe    - Queue a media URL")
	logger.Infof("   POST   /api/v1/upload        - Queue an uploaded file")
	logger.Infof("   POST   /api/v1/playlist      - Queue every playlist entry")
	logger.Infof("   GET    /api/v1/task/:id      - Job status and subtitles")
	logger.Infof("   GET    /api/v1/task/:id/srt  - SRT/VTT export")
	logger.Infof("   DELETE /api/v1/cache/:id     - Drop cached subtitles")
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready! Waiting for subtitle requests...")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("")
	logger.Info("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	logger.Info("👋 Goodbye!")
}

func ensureDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.Storage.TempDir,
		cfg.Storage.UploadDir,
		cfg.Cache.Dir,
	}

	for _, dir := range dirs {
		if err := fileops.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if path != "/api/v1/health" || status >= 400 {
			latency := time.Since(start)
			logger.Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
